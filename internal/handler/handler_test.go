package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
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
	"github.com/user/streamtrack/internal/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type fakeIdentity struct {
	mu        sync.Mutex
	created   []service.NewIdentityUser
	updates   map[string]service.IdentityUserUpdate
	roles     map[string][]string
	createErr error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{updates: map[string]service.IdentityUserUpdate{}, roles: map[string][]string{}}
}

func (f *fakeIdentity) CreateUser(_ context.Context, u service.NewIdentityUser) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, u)
	return "kc-" + u.Username, nil
}

func (f *fakeIdentity) UpdateUser(_ context.Context, id string, u service.IdentityUserUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = u
	return nil
}

func (f *fakeIdentity) AssignRole(_ context.Context, id, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[id] = append(f.roles[id], role)
	return nil
}

func (f *fakeIdentity) RemoveRole(_ context.Context, id, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[id] = slices.DeleteFunc(f.roles[id], func(r string) bool { return r == role })
	return nil
}

type testAPI struct {
	engine   *gin.Engine
	iss      *authtest.Issuer
	repos    *repository.Repositories
	identity *fakeIdentity
	fs       afero.Fs
	db       *gorm.DB
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))
	return db
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, handler.RegisterValidators())

	iss := authtest.NewIssuer(t)
	db := newTestDB(t)
	repos := repository.NewRepositories(db)
	identity := newFakeIdentity()
	fs := afero.NewBasePathFs(afero.NewMemMapFs(), "/static")
	cfg := &config.Config{Storage: config.StorageConfig{MaxAvatarBytes: 5 << 20}}

	authn := middleware.NewAuthenticator(middleware.NewJWKSCache(iss.JWKSURL(), nil, time.Minute), repos.User, nil)
	h := handler.NewHandler(repos, cfg, identity, service.NewAvatarService(fs, cfg.Storage.MaxAvatarBytes))

	r := gin.New()
	router.RegisterCommon(r)
	router.RegisterStatic(r, fs)
	router.RegisterRoutes(r, h, nil, authn)

	return &testAPI{engine: r, iss: iss, repos: repos, identity: identity, fs: fs, db: db}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[utils.Response](t, w).Detail
}

func TestSearchThenNoteScenario(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"page":1,"total_pages":1,"results":[
			{"id":1399,"name":"Gra o tron","media_type":"tv"},
			{"id":27205,"title":"Incepcja","media_type":"movie"}]}`))
	}))
	t.Cleanup(upstream.Close)

	catalog := gin.New()
	tmdb := service.NewTMDBService(config.TMDBConfig{BaseURL: upstream.URL, APIKey: "k", Timeout: time.Second, CacheTTL: time.Minute}, nil)
	router.RegisterCatalogRoutes(catalog, handler.NewCatalogHandler(tmdb))

	w := httptest.NewRecorder()
	catalog.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search?query=Incepcja", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var results model.PagedResults
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	idx := slices.IndexFunc(results.Results, func(r model.MediaItem) bool { return r.MediaType == model.MediaTypeMovie })
	require.GreaterOrEqual(t, idx, 0)
	picked := results.Results[idx]

	api := newTestAPI(t)
	token := api.iss.Token("sub-alice", "alice", "user")
	movieID := strconv.Itoa(picked.ID)

	w = api.do(http.MethodPost, "/notes", token, gin.H{"movie_id": movieID, "media_type": picked.MediaType, "content": "Sen we śnie"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[model.Note](t, w)
	assert.Equal(t, "27205", created.MovieID)
	assert.Equal(t, model.MediaTypeMovie, created.MediaType)
	assert.Equal(t, "sub-alice", created.UserID)

	w = api.do(http.MethodGet, "/notes/media/27205", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	notes := decode[[]model.Note](t, w)
	require.Len(t, notes, 1)
	assert.Equal(t, created.ID, notes[0].ID)
	assert.Equal(t, model.MediaTypeMovie, notes[0].MediaType)
}

func TestNotesOwnership(t *testing.T) {
	api := newTestAPI(t)
	alice := api.iss.Token("sub-alice", "alice", "user")
	bob := api.iss.Token("sub-bob", "bob", "user")

	w := api.do(http.MethodPost, "/notes", alice, gin.H{"movie_id": "603", "content": "red pill"})
	require.Equal(t, http.StatusOK, w.Code)
	note := decode[model.Note](t, w)
	assert.Equal(t, model.MediaTypeMovie, note.MediaType)

	t.Run("other user cannot read", func(t *testing.T) {
		w := api.do(http.MethodGet, "/notes/"+note.ID, bob, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("other user cannot update", func(t *testing.T) {
		w := api.do(http.MethodPut, "/notes/"+note.ID, bob, gin.H{"content": "blue pill"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing note", func(t *testing.T) {
		w := api.do(http.MethodPut, "/notes/00000000-0000-0000-0000-000000000000", alice, gin.H{"content": "x"})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Note not found", errDetail(t, w))
	})

	t.Run("empty update", func(t *testing.T) {
		w := api.do(http.MethodPut, "/notes/"+note.ID, alice, gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "No update data provided", errDetail(t, w))
	})

	t.Run("malformed id", func(t *testing.T) {
		w := api.do(http.MethodGet, "/notes/not-a-uuid", alice, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid media type", func(t *testing.T) {
		w := api.do(http.MethodPost, "/notes", alice, gin.H{"movie_id": "1", "media_type": "book", "content": "x"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("owner updates and deletes", func(t *testing.T) {
		w := api.do(http.MethodPut, "/notes/"+note.ID, alice, gin.H{"content": "blue pill"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "blue pill", decode[model.Note](t, w).Content)

		w = api.do(http.MethodDelete, "/notes/"+note.ID, alice, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, note.ID, decode[model.NoteDeleted](t, w).DeletedNoteID)

		w = api.do(http.MethodDelete, "/notes/"+note.ID, alice, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestWatchlist(t *testing.T) {
	api := newTestAPI(t)
	token := api.iss.Token("sub-alice", "alice", "user")
	item := gin.H{"movie_id": "27205", "title": "Incepcja", "media_type": "movie"}

	w := api.do(http.MethodGet, "/watchlist/check/27205", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "false", w.Body.String())

	w = api.do(http.MethodPost, "/watchlist", token, item)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Incepcja", decode[model.WatchlistItem](t, w).Title)

	w = api.do(http.MethodPost, "/watchlist", token, item)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Item already in watchlist", errDetail(t, w))

	w = api.do(http.MethodGet, "/watchlist/check/27205", token, nil)
	assert.Equal(t, "true", w.Body.String())

	w = api.do(http.MethodGet, "/api/watchlist", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.WatchlistItem](t, w), 1)

	w = api.do(http.MethodDelete, "/watchlist/27205", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(http.MethodDelete, "/watchlist/27205", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegister(t *testing.T) {
	api := newTestAPI(t)
	req := gin.H{"username": "carol", "email": "carol@example.com", "password": "secret1"}

	w := api.do(http.MethodPost, "/register", "", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user := decode[model.User](t, w)
	assert.Equal(t, "kc-carol", user.KeycloakID)
	assert.Equal(t, []string{model.RoleUser}, user.Roles)
	assert.Equal(t, []string{model.RoleUser}, api.identity.roles["kc-carol"])

	w = api.do(http.MethodPost, "/register", "", req)
	assert.Equal(t, http.StatusConflict, w.Code)

	api.identity.createErr = service.ErrUserExists
	w = api.do(http.MethodPost, "/register", "", gin.H{"username": "dave", "email": "dave@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "User already exists", errDetail(t, w))

	w = api.do(http.MethodPost, "/register", "", gin.H{"username": "x", "email": "bad", "password": "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestProfile(t *testing.T) {
	api := newTestAPI(t)
	token := api.iss.Token("0123456789abcdef", "erin", "user")

	w := api.do(http.MethodGet, "/profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[model.User](t, w)
	assert.Equal(t, "user_01234567", profile.Username)
	assert.True(t, profile.IsActive)

	w = api.do(http.MethodPut, "/profile", token, gin.H{"first_name": "Erin", "email": "erin@example.com"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[model.User](t, w)
	require.NotNil(t, updated.FirstName)
	assert.Equal(t, "Erin", *updated.FirstName)
	assert.Equal(t, service.IdentityUserUpdate{Email: "erin@example.com", FirstName: "Erin"}, api.identity.updates["0123456789abcdef"])
}

func uploadAvatar(t *testing.T, api *testAPI, token, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	part.Write(data)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func TestUploadAvatar(t *testing.T) {
	api := newTestAPI(t)
	token := api.iss.Token("sub-frank", "frank", "user")
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/profile", token, nil).Code)

	w := uploadAvatar(t, api, token, "me.png", pngHeader)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[model.AvatarUploaded](t, w)
	assert.True(t, strings.HasPrefix(first.AvatarURL, "/static/avatars/"))
	assert.True(t, strings.HasSuffix(first.AvatarURL, ".png"))

	w = api.do(http.MethodGet, first.AvatarURL, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = uploadAvatar(t, api, token, "me.png", pngHeader)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[model.AvatarUploaded](t, w)
	exists, err := afero.Exists(api.fs, strings.TrimPrefix(first.AvatarURL, "/static/"))
	require.NoError(t, err)
	assert.False(t, exists, "previous avatar should be removed")

	user, err := api.repos.User.FindByKeycloakID("sub-frank")
	require.NoError(t, err)
	require.NotNil(t, user.AvatarURL)
	assert.Equal(t, second.AvatarURL, *user.AvatarURL)

	w = uploadAvatar(t, api, token, "notes.txt", []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "File must be an image", errDetail(t, w))
}

func TestAvatarServedAsImage(t *testing.T) {
	api := newTestAPI(t)
	token := api.iss.Token("sub-hank", "hank", "user")
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/profile", token, nil).Code)

	data := append(append([]byte{}, pngHeader...), []byte("<html><script>alert(1)</script></html>")...)
	w := uploadAvatar(t, api, token, "evil.html", data)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[model.AvatarUploaded](t, w)
	assert.True(t, strings.HasSuffix(out.AvatarURL, ".png"))

	w = api.do(http.MethodGet, out.AvatarURL, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = uploadAvatar(t, api, token, "logo.png", []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServerErrorHidesDriverText(t *testing.T) {
	api := newTestAPI(t)
	token := api.iss.Token("sub-ivy", "ivy", "user")
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/profile", token, nil).Code)
	require.NoError(t, api.db.Migrator().DropTable(&model.Note{}))

	w := api.do(http.MethodGet, "/notes", token, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error fetching notes from database", errDetail(t, w))
	assert.NotContains(t, w.Body.String(), "no such table")
}

func TestAdminRoleToggleRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	admin := api.iss.Token("sub-admin", "root", "user", "admin")
	target := &model.User{KeycloakID: "sub-gina", Username: "gina", Roles: []string{model.RoleUser}, IsActive: true}
	require.NoError(t, api.repos.User.Create(target))
	original := slices.Clone(target.Roles)

	w := api.do(http.MethodPost, "/promote", admin, gin.H{"user_id": target.ID, "role": "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "User gina has been promoted to admin", decode[model.MessageResponse](t, w).Message)

	w = api.do(http.MethodPost, "/promote", admin, gin.H{"user_id": target.ID, "role": "admin"})
	assert.Equal(t, "User gina is already an admin", decode[model.MessageResponse](t, w).Message)

	w = api.do(http.MethodPost, "/promote", admin, gin.H{"user_id": target.ID, "role": "user"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User gina has been demoted from admin", decode[model.MessageResponse](t, w).Message)

	w = api.do(http.MethodPost, "/promote", admin, gin.H{"user_id": target.ID, "role": "owner"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	reloaded, err := api.repos.User.FindByID(target.ID)
	require.NoError(t, err)
	assert.Equal(t, original, reloaded.Roles)
	assert.Empty(t, api.identity.roles["sub-gina"])
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	admin := api.iss.Token("sub-admin", "root", "admin")
	plain := api.iss.Token("sub-henry", "henry", "user")

	w := api.do(http.MethodGet, "/users", plain, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodGet, "/admin/users", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"No users have created notes yet.","users":[]}`, w.Body.String())

	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/profile", plain, nil).Code)
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/notes", plain, gin.H{"movie_id": "1", "content": "x"}).Code)

	w = api.do(http.MethodGet, "/admin/users", admin, nil)
	assert.JSONEq(t, `{"users_with_notes_activity":["sub-henry"]}`, w.Body.String())

	w = api.do(http.MethodGet, "/admin/notes", admin, nil)
	assert.Len(t, decode[[]model.Note](t, w), 1)

	henry, err := api.repos.User.FindByKeycloakID("sub-henry")
	require.NoError(t, err)

	w = api.do(http.MethodDelete, "/users/"+henry.ID, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User "+henry.Username+" has been deactivated", decode[model.MessageResponse](t, w).Message)

	w = api.do(http.MethodGet, "/profile", plain, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "User account has been deactivated.", errDetail(t, w))

	w = api.do(http.MethodPut, "/users/"+henry.ID+"/activate", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/profile", plain, nil).Code)

	w = api.do(http.MethodGet, "/users/missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodGet, "/health", "", nil)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
