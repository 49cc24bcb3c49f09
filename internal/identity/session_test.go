package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/streamtrack/internal/client"
	"golang.org/x/oauth2"
)

func mintToken(t *testing.T, sub, username string, ttl time.Duration, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": username,
		"name":               "Alice Nowak",
		"email":              username + "@example.com",
		"exp":                time.Now().Add(ttl).Unix(),
		"realm_access":       map[string]any{"roles": roles},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return s
}

type fakeKeycloak struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	grants    []string
	forms     []url.Values
	logouts   []url.Values
	rejectAll bool
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()
	f := &fakeKeycloak{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeKeycloak) config() Config {
	return Config{URL: f.srv.URL, Realm: "streamtrack", ClientID: "frontend"}
}

func (f *fakeKeycloak) serve(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/realms/streamtrack/protocol/openid-connect/logout":
		f.logouts = append(f.logouts, r.PostForm)
		w.WriteHeader(http.StatusNoContent)
		return
	case "/realms/streamtrack/protocol/openid-connect/token":
	default:
		http.NotFound(w, r)
		return
	}

	grant := r.PostForm.Get("grant_type")
	f.grants = append(f.grants, grant)
	f.forms = append(f.forms, r.PostForm)

	ok := !f.rejectAll
	switch grant {
	case "password":
		ok = ok && r.PostForm.Get("password") == "secret"
	case "refresh_token":
		ok = ok && r.PostForm.Get("refresh_token") != ""
	case "authorization_code":
		ok = ok && r.PostForm.Get("code") == "good-code" && r.PostForm.Get("code_verifier") != ""
	default:
		ok = false
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  mintToken(f.t, "sub-alice", "alice", time.Hour, "user", "admin"),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-" + grant,
		"id_token":      "id-token",
	})
}

func (f *fakeKeycloak) grantTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.grants...)
}

func expiredToken(t *testing.T, refresh string) *Token {
	return &Token{
		Token: oauth2.Token{
			AccessToken:  mintToken(t, "sub-alice", "alice", -time.Hour, "user"),
			TokenType:    "Bearer",
			RefreshToken: refresh,
			Expiry:       time.Now().Add(-time.Hour),
		},
		IDToken: "old-id",
	}
}

func TestPasswordLogin(t *testing.T) {
	kc := newFakeKeycloak(t)
	store := &MemoryStore{}
	s := NewSession(kc.config(), store)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	assert.False(t, s.Authenticated())
	_, err := s.AccessToken(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	err = s.LoginPassword(ctx, "alice", "wrong")
	assert.Error(t, err)
	assert.False(t, s.Authenticated())

	require.NoError(t, s.LoginPassword(ctx, "alice", "secret"))
	assert.True(t, s.Authenticated())
	claims, ok := s.Claims()
	require.True(t, ok)
	assert.Equal(t, "sub-alice", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "Alice Nowak", claims.Name)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.True(t, s.HasRole("admin"))
	assert.False(t, s.HasRole("owner"))

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "id-token", saved.IDToken)
	assert.Equal(t, "refresh-password", saved.RefreshToken)

	err = s.LoginPassword(ctx, " ", "x")
	assert.ErrorIs(t, err, client.ErrValidation)
}

func TestInitSilentCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("valid stored token", func(t *testing.T) {
		kc := newFakeKeycloak(t)
		store := &MemoryStore{}
		require.NoError(t, store.Save(&Token{Token: oauth2.Token{
			AccessToken: mintToken(t, "sub-alice", "alice", time.Hour, "user"),
			Expiry:      time.Now().Add(time.Hour),
		}}))
		s := NewSession(kc.config(), store)
		require.NoError(t, s.Init(ctx))
		assert.True(t, s.Authenticated())
		assert.Empty(t, kc.grantTypes())
	})

	t.Run("expired but refreshable", func(t *testing.T) {
		kc := newFakeKeycloak(t)
		store := &MemoryStore{}
		require.NoError(t, store.Save(expiredToken(t, "refresh-old")))
		s := NewSession(kc.config(), store)
		require.NoError(t, s.Init(ctx))
		assert.True(t, s.Authenticated())
		assert.Equal(t, []string{"refresh_token"}, kc.grantTypes())

		saved, err := store.Load()
		require.NoError(t, err)
		assert.True(t, saved.Valid())
	})

	t.Run("refresh rejected", func(t *testing.T) {
		kc := newFakeKeycloak(t)
		kc.rejectAll = true
		store := &MemoryStore{}
		require.NoError(t, store.Save(expiredToken(t, "refresh-old")))
		s := NewSession(kc.config(), store)
		require.NoError(t, s.Init(ctx))
		assert.False(t, s.Authenticated())
		_, err := store.Load()
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		kc := newFakeKeycloak(t)
		store := &MemoryStore{}
		require.NoError(t, store.Save(expiredToken(t, "")))
		s := NewSession(kc.config(), store)
		require.NoError(t, s.Init(ctx))
		assert.False(t, s.Authenticated())
		assert.Empty(t, kc.grantTypes())
	})
}

func TestAccessTokenRefreshes(t *testing.T) {
	kc := newFakeKeycloak(t)
	store := &MemoryStore{}
	s := NewSession(kc.config(), store)
	ctx := context.Background()
	require.NoError(t, s.LoginPassword(ctx, "alice", "secret"))

	// 人为让令牌过期
	s.mu.Lock()
	s.token.Expiry = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	tok, err := s.AccessToken(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, []string{"password", "refresh_token"}, kc.grantTypes())

	kc.mu.Lock()
	kc.rejectAll = true
	kc.mu.Unlock()
	s.mu.Lock()
	s.token.Expiry = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	_, err = s.AccessToken(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, s.Authenticated())
}

func TestSessionFeedsClient(t *testing.T) {
	kc := newFakeKeycloak(t)
	var (
		mu      sync.Mutex
		gotAuth []string
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		mu.Unlock()
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(api.Close)

	s := NewSession(kc.config(), nil)
	c := client.New(api.URL, client.WithTokenSource(s))
	ctx := context.Background()

	_, err := c.Call(ctx, "/watchlist", nil)
	require.NoError(t, err)
	require.NoError(t, s.LoginPassword(ctx, "alice", "secret"))
	_, err = c.Call(ctx, "/watchlist", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotAuth, 2)
	assert.Empty(t, gotAuth[0])
	assert.Regexp(t, `^Bearer ey`, gotAuth[1])
}

func TestLogout(t *testing.T) {
	kc := newFakeKeycloak(t)
	store := &MemoryStore{}
	s := NewSession(kc.config(), store)
	ctx := context.Background()
	require.NoError(t, s.LoginPassword(ctx, "alice", "secret"))

	end := s.EndSessionURL("http://localhost:3000/")
	u, err := url.Parse(end)
	require.NoError(t, err)
	assert.Equal(t, "id-token", u.Query().Get("id_token_hint"))
	assert.Equal(t, "frontend", u.Query().Get("client_id"))

	require.NoError(t, s.Logout(ctx))
	assert.False(t, s.Authenticated())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoToken)

	kc.mu.Lock()
	defer kc.mu.Unlock()
	require.Len(t, kc.logouts, 1)
	assert.Equal(t, "refresh-password", kc.logouts[0].Get("refresh_token"))
	assert.Equal(t, "frontend", kc.logouts[0].Get("client_id"))
}

func TestLoginBrowser(t *testing.T) {
	kc := newFakeKeycloak(t)
	s := NewSession(kc.config(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	browser := func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		if q.Get("code_challenge_method") != "S256" {
			return errors.New("missing PKCE")
		}
		cb := q.Get("redirect_uri") + "?code=good-code&state=" + url.QueryEscape(q.Get("state"))
		go func() {
			if resp, err := http.Get(cb); err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	require.NoError(t, s.LoginBrowser(ctx, browser))
	assert.True(t, s.Authenticated())
	assert.Contains(t, kc.grantTypes(), "authorization_code")
}

func TestLoginBrowserIgnoresForgedState(t *testing.T) {
	kc := newFakeKeycloak(t)
	s := NewSession(kc.config(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	forged := make(chan int, 1)
	browser := func(authURL string) error {
		u, _ := url.Parse(authURL)
		q := u.Query()
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?code=evil-code&state=forged")
			if err != nil {
				forged <- 0
				return
			}
			resp.Body.Close()
			forged <- resp.StatusCode

			resp, err = http.Get(q.Get("redirect_uri") + "?code=good-code&state=" + url.QueryEscape(q.Get("state")))
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	require.NoError(t, s.LoginBrowser(ctx, browser))
	assert.Equal(t, http.StatusBadRequest, <-forged)
	assert.True(t, s.Authenticated())
	assert.Equal(t, []string{"authorization_code"}, kc.grantTypes())
}

func TestLoginBrowserProviderError(t *testing.T) {
	kc := newFakeKeycloak(t)
	s := NewSession(kc.config(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	browser := func(authURL string) error {
		u, _ := url.Parse(authURL)
		q := u.Query()
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?error=access_denied&state=" + url.QueryEscape(q.Get("state")))
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	err := s.LoginBrowser(ctx, browser)
	assert.ErrorContains(t, err, "access_denied")
	assert.False(t, s.Authenticated())
	assert.Empty(t, kc.grantTypes())
}

func TestFileStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "/home/alice/.config/streamtrack/token.json")

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoToken)

	in := expiredToken(t, "refresh-1")
	require.NoError(t, store.Save(in))
	info, err := fs.Stat("/home/alice/.config/streamtrack/token.json")
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, in.AccessToken, out.AccessToken)
	assert.Equal(t, "refresh-1", out.RefreshToken)
	assert.Equal(t, "old-id", out.IDToken)
	assert.WithinDuration(t, in.Expiry, out.Expiry, time.Second)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestParseClaims(t *testing.T) {
	_, err := ParseClaims("not-a-jwt")
	assert.Error(t, err)

	c, err := ParseClaims(mintToken(t, "sub-1", "bob", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "bob", c.Username)
	assert.False(t, c.HasRole("admin"))

	var nilClaims *Claims
	assert.False(t, nilClaims.HasRole("user"))
}
