package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/streamtrack/internal/middleware/authtest"
	"github.com/user/streamtrack/internal/utils"
)

type fakeStatus struct {
	deactivated map[string]bool
	err         error
}

func (f fakeStatus) IsDeactivated(sub string) (bool, error) {
	return f.deactivated[sub], f.err
}

func newAuthRouter(t *testing.T, iss *authtest.Issuer, users UserStatusChecker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a := NewAuthenticator(NewJWKSCache(iss.JWKSURL(), nil, time.Minute), users, nil)

	r := gin.New()
	r.GET("/me", a.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sub": GetUserID(c), "roles": GetRoles(c)})
	})
	r.GET("/admin", a.RequireAuth(), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func detail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body utils.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Detail
}

func TestRequireAuth(t *testing.T) {
	iss := authtest.NewIssuer(t)
	r := newAuthRouter(t, iss, fakeStatus{deactivated: map[string]bool{"gone": true}})

	t.Run("missing token", func(t *testing.T) {
		w := do(r, "/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Not authenticated", detail(t, w))
	})

	t.Run("valid token", func(t *testing.T) {
		w := do(r, "/me", iss.Token("sub-1", "alice", "user"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"sub":"sub-1","roles":["user"]}`, w.Body.String())
	})

	t.Run("expired token", func(t *testing.T) {
		tok := iss.Sign(jwt.MapClaims{"sub": "sub-1", "exp": time.Now().Add(-time.Minute).Unix()})
		w := do(r, "/me", tok)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, detail(t, w), "Invalid token")
	})

	t.Run("foreign signature", func(t *testing.T) {
		other := authtest.NewIssuer(t)
		w := do(r, "/me", other.Token("sub-1", "alice"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("hs256 rejected", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(time.Hour).Unix()})
		s, err := tok.SignedString([]byte("secret"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do(r, "/me", s).Code)
	})

	t.Run("missing sub", func(t *testing.T) {
		tok := iss.Sign(jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
		w := do(r, "/me", tok)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Token does not contain a user identifier (sub).", detail(t, w))
	})

	t.Run("deactivated user", func(t *testing.T) {
		w := do(r, "/me", iss.Token("gone", "bob", "user"))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "User account has been deactivated.", detail(t, w))
	})
}

func TestRequireAuthStatusErrorDoesNotBlock(t *testing.T) {
	iss := authtest.NewIssuer(t)
	r := newAuthRouter(t, iss, fakeStatus{err: errors.New("db down")})

	w := do(r, "/me", iss.Token("sub-1", "alice"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRole(t *testing.T) {
	iss := authtest.NewIssuer(t)
	r := newAuthRouter(t, iss, nil)

	assert.Equal(t, http.StatusForbidden, do(r, "/admin", iss.Token("u", "alice", "user")).Code)
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", iss.Token("a", "root", "user", "admin")).Code)
}

func TestJWKSCacheServesStaleKeyWhenRefreshFails(t *testing.T) {
	iss := authtest.NewIssuer(t)
	cache := NewJWKSCache(iss.JWKSURL(), nil, time.Millisecond)

	key, err := cache.GetKey(context.Background(), iss.KeyID)
	require.NoError(t, err)
	require.NotNil(t, key)

	iss.Server.Close()
	time.Sleep(5 * time.Millisecond)

	stale, err := cache.GetKey(context.Background(), iss.KeyID)
	require.NoError(t, err)
	assert.Equal(t, key.N, stale.N)
}

func TestJWKSCacheUnknownKid(t *testing.T) {
	iss := authtest.NewIssuer(t)
	cache := NewJWKSCache(iss.JWKSURL(), nil, time.Minute)

	_, err := cache.GetKey(context.Background(), "nope")
	assert.Error(t, err)

	// 只有一把公钥时空 kid 可用
	key, err := cache.GetKey(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, iss.Key.PublicKey.E, key.E)
}
