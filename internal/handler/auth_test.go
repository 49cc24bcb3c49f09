package handler_test

import (
	"encoding/gob"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/handler"
	"github.com/user/streamtrack/internal/middleware"
	"github.com/user/streamtrack/internal/middleware/authtest"
	"github.com/user/streamtrack/internal/model"
	"github.com/user/streamtrack/internal/repository"
	"github.com/user/streamtrack/internal/router"
	"github.com/user/streamtrack/internal/service"
	"github.com/user/streamtrack/web"
)

func init() {
	gob.Register(model.SessionUser{})
}

type loginEnv struct {
	engine   *gin.Engine
	repos    *repository.Repositories
	keycloak *httptest.Server
	verifier atomic.Value
	cookies  []*http.Cookie
}

func newLoginEnv(t *testing.T, sub string) *loginEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	iss := authtest.NewIssuer(t)
	env := &loginEnv{repos: repository.NewRepositories(newTestDB(t))}

	env.keycloak = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/protocol/openid-connect/token") {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		env.verifier.Store(r.PostForm.Get("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  iss.Token(sub, "alice", "user"),
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-1",
			"id_token":      "id-token-1",
		})
	}))
	t.Cleanup(env.keycloak.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{FrontendURL: "http://frontend.test/"},
		Keycloak: config.KeycloakConfig{
			ServerURL:   env.keycloak.URL,
			Realm:       "streamtrack",
			ClientID:    "frontend",
			RedirectURL: "http://api.test/auth/callback",
		},
		Storage: config.StorageConfig{MaxAvatarBytes: 1 << 20},
	}
	loginConfig := service.NewLoginConfig(cfg.Keycloak)
	vault := service.NewTokenVault(loginConfig, time.Hour)
	authn := middleware.NewAuthenticator(middleware.NewJWKSCache(iss.JWKSURL(), nil, time.Minute), env.repos.User, vault)

	r := gin.New()
	r.Use(sessions.Sessions("streamtrack_session", cookie.NewStore([]byte("test-secret"))))
	renderer, err := router.LoadTemplates(web.Templates)
	require.NoError(t, err)
	r.HTMLRender = renderer
	router.RegisterRoutes(r,
		handler.NewHandler(env.repos, cfg, newFakeIdentity(), nil),
		handler.NewAuthHandler(cfg, loginConfig, vault, authn, env.repos.User),
		authn,
	)
	env.engine = r
	return env
}

// get 发送请求并沿用上一次响应写入的 Cookie
func (e *loginEnv) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	if set := w.Result().Cookies(); len(set) > 0 {
		e.cookies = set
	}
	return w
}

func (e *loginEnv) startLogin(t *testing.T) string {
	t.Helper()
	w := e.get("/auth/login")
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc.String(), e.keycloak.URL+"/realms/streamtrack/protocol/openid-connect/auth"))
	assert.Equal(t, "S256", loc.Query().Get("code_challenge_method"))
	assert.NotEmpty(t, loc.Query().Get("code_challenge"))
	assert.Equal(t, "frontend", loc.Query().Get("client_id"))
	return loc.Query().Get("state")
}

func TestBrowserLoginFlow(t *testing.T) {
	env := newLoginEnv(t, "sub-alice")

	w := env.get("/auth/session")
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())

	state := env.startLogin(t)
	w = env.get("/auth/callback?code=good-code&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, "http://frontend.test/", w.Header().Get("Location"))
	assert.NotEmpty(t, env.verifier.Load())

	w = env.get("/auth/session")
	require.Equal(t, http.StatusOK, w.Code)
	var session struct {
		Authenticated bool              `json:"authenticated"`
		User          model.SessionUser `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.True(t, session.Authenticated)
	assert.Equal(t, "sub-alice", session.User.Subject)
	assert.Equal(t, "alice", session.User.Username)
	assert.NotContains(t, w.Body.String(), "access_token")

	// 会话 Cookie 可直接访问 API
	w = env.get("/watchlist")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.get("/auth/logout")
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/realms/streamtrack/protocol/openid-connect/logout", loc.Path)
	assert.Equal(t, "id-token-1", loc.Query().Get("id_token_hint"))
	assert.Equal(t, "http://frontend.test/", loc.Query().Get("post_logout_redirect_uri"))

	w = env.get("/auth/session")
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, env.get("/watchlist").Code)
}

func TestLoginCallbackFailures(t *testing.T) {
	t.Run("state mismatch", func(t *testing.T) {
		env := newLoginEnv(t, "sub-alice")
		env.startLogin(t)
		w := env.get("/auth/callback?code=good-code&state=forged")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid login state")
		assert.Contains(t, w.Body.String(), `href="/auth/login"`)
	})

	t.Run("provider error", func(t *testing.T) {
		env := newLoginEnv(t, "sub-alice")
		w := env.get("/auth/callback?error=access_denied&error_description=User+cancelled+login")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "User cancelled login")
	})

	t.Run("code rejected", func(t *testing.T) {
		env := newLoginEnv(t, "sub-alice")
		state := env.startLogin(t)
		w := env.get("/auth/callback?code=bad-code&state=" + url.QueryEscape(state))
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("deactivated account", func(t *testing.T) {
		env := newLoginEnv(t, "sub-zed")
		user := &model.User{KeycloakID: "sub-zed", Username: "zed", IsActive: true}
		require.NoError(t, env.repos.User.Create(user))
		require.NoError(t, env.repos.User.SetActive(user.ID, false))

		state := env.startLogin(t)
		w := env.get("/auth/callback?code=good-code&state=" + url.QueryEscape(state))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "Account deactivated")
		assert.Contains(t, w.Body.String(), "alice")

		w = env.get("/auth/session")
		assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())
	})
}
