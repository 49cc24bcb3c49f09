package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/streamtrack/internal/config"
)

// fakeKeycloak 模拟 Keycloak 管理 API 的最小子集
type fakeKeycloak struct {
	t            *testing.T
	srv          *httptest.Server
	tokenCalls   atomic.Int32
	mu           sync.Mutex
	roles        map[string][]string
	created      []map[string]any
	updated      map[string]map[string]any
	omitLocation bool
	conflict     bool
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	f := &fakeKeycloak{t: t, roles: map[string][]string{}, updated: map[string]map[string]any{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("username") != "admin" || r.PostForm.Get("password") != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "admin-cli", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"admin-token","token_type":"Bearer","expires_in":300}`))
	})
	mux.HandleFunc("POST /admin/realms/streamtrack/users", func(w http.ResponseWriter, r *http.Request) {
		f.authorized(r)
		if f.conflict {
			w.WriteHeader(http.StatusConflict)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.created = append(f.created, body)
		f.mu.Unlock()
		if !f.omitLocation {
			w.Header().Set("Location", f.srv.URL+"/admin/realms/streamtrack/users/kc-123")
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /admin/realms/streamtrack/users", func(w http.ResponseWriter, r *http.Request) {
		f.authorized(r)
		assert.Equal(t, "true", r.URL.Query().Get("exact"))
		if r.URL.Query().Get("username") == "ghost" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"id":"kc-lookup"}]`))
	})
	mux.HandleFunc("PUT /admin/realms/streamtrack/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.authorized(r)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.updated[r.PathValue("id")] = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /admin/realms/streamtrack/roles/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.authorized(r)
		json.NewEncoder(w).Encode(map[string]string{"id": "role-" + r.PathValue("name"), "name": r.PathValue("name")})
	})
	mux.HandleFunc("/admin/realms/streamtrack/users/{id}/role-mappings/realm", func(w http.ResponseWriter, r *http.Request) {
		f.authorized(r)
		id := r.PathValue("id")
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			out := []map[string]string{}
			for _, name := range f.roles[id] {
				out = append(out, map[string]string{"name": name})
			}
			json.NewEncoder(w).Encode(out)
		case http.MethodPost, http.MethodDelete:
			var reps []identityRole
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&reps))
			for _, rep := range reps {
				if r.Method == http.MethodPost {
					f.roles[id] = append(f.roles[id], rep.Name)
					continue
				}
				kept := f.roles[id][:0]
				for _, name := range f.roles[id] {
					if name != rep.Name {
						kept = append(kept, name)
					}
				}
				f.roles[id] = kept
			}
			w.WriteHeader(http.StatusNoContent)
		}
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeKeycloak) authorized(r *http.Request) {
	assert.Equal(f.t, "Bearer admin-token", r.Header.Get("Authorization"))
}

func newTestKeycloak(f *fakeKeycloak, password string) *KeycloakService {
	return NewKeycloakService(config.KeycloakConfig{
		ServerURL:     f.srv.URL,
		Realm:         "streamtrack",
		AdminUser:     "admin",
		AdminPassword: password,
		AdminRealm:    "master",
		AdminClientID: "admin-cli",
	}, f.srv.Client())
}

func TestCreateUserReturnsIDFromLocation(t *testing.T) {
	f := newFakeKeycloak(t)
	s := newTestKeycloak(f, "admin")

	id, err := s.CreateUser(context.Background(), NewIdentityUser{
		Username: "alice", Email: "alice@example.com", Password: "secret1", FirstName: "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "kc-123", id)

	require.Len(t, f.created, 1)
	assert.Equal(t, "Alice", f.created[0]["firstName"])
	assert.NotContains(t, f.created[0], "lastName")
	assert.Equal(t, true, f.created[0]["enabled"])
}

func TestCreateUserFallsBackToLookup(t *testing.T) {
	f := newFakeKeycloak(t)
	f.omitLocation = true
	s := newTestKeycloak(f, "admin")

	id, err := s.CreateUser(context.Background(), NewIdentityUser{Username: "bob", Email: "b@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "kc-lookup", id)
}

func TestCreateUserConflict(t *testing.T) {
	f := newFakeKeycloak(t)
	f.conflict = true
	s := newTestKeycloak(f, "admin")

	_, err := s.CreateUser(context.Background(), NewIdentityUser{Username: "bob"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestGetUserIDByUsernameNotFound(t *testing.T) {
	f := newFakeKeycloak(t)
	s := newTestKeycloak(f, "admin")

	_, err := s.GetUserIDByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrIdentityUserNotFound)
}

func TestAdminTokenIsReused(t *testing.T) {
	f := newFakeKeycloak(t)
	s := newTestKeycloak(f, "admin")
	ctx := context.Background()

	require.NoError(t, s.AssignRole(ctx, "u1", "user"))
	_, err := s.GetUserRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestAdminTokenRejected(t *testing.T) {
	f := newFakeKeycloak(t)
	s := newTestKeycloak(f, "wrong")

	err := s.AssignRole(context.Background(), "u1", "user")
	var ie *IdentityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, http.StatusUnauthorized, ie.StatusCode)
	// 认证失败不重试
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestRoleRoundTrip(t *testing.T) {
	f := newFakeKeycloak(t)
	s := newTestKeycloak(f, "admin")
	ctx := context.Background()

	require.NoError(t, s.AssignRole(ctx, "u1", "user"))
	before, err := s.GetUserRoles(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, s.AssignRole(ctx, "u1", "admin"))
	mid, err := s.GetUserRoles(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user", "admin"}, mid)

	require.NoError(t, s.RemoveRole(ctx, "u1", "admin"))
	after, err := s.GetUserRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdateUserSkipsEmptyPayload(t *testing.T) {
	f := newFakeKeycloak(t)
	s := newTestKeycloak(f, "admin")
	ctx := context.Background()

	require.NoError(t, s.UpdateUser(ctx, "u1", IdentityUserUpdate{}))
	assert.Equal(t, int32(0), f.tokenCalls.Load())

	require.NoError(t, s.UpdateUser(ctx, "u1", IdentityUserUpdate{Email: "new@example.com", LastName: "Nowak"}))
	assert.Equal(t, map[string]any{"email": "new@example.com", "lastName": "Nowak"}, f.updated["u1"])
}
