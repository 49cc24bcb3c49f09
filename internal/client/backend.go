package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/user/streamtrack/internal/model"
)

// Backend 后端 REST API
type Backend struct {
	c *Client
}

// NewBackend 创建后端 API 客户端
func NewBackend(c *Client) *Backend {
	return &Backend{c: c}
}

// Client 底层客户端
func (b *Backend) Client() *Client {
	return b.c
}

func escape(id string) string {
	return url.PathEscape(id)
}

// CreateNote 新建笔记
func (b *Backend) CreateNote(ctx context.Context, in model.NoteCreate) (*model.Note, error) {
	if strings.TrimSpace(in.MovieID) == "" || strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: movie id and content are required", ErrValidation)
	}
	var note model.Note
	err := b.c.CallJSON(ctx, "/notes", &RequestOptions{Method: http.MethodPost, Body: in, RequireAuth: true}, &note)
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// ListNotes 当前用户全部笔记
func (b *Backend) ListNotes(ctx context.Context) ([]model.Note, error) {
	var notes []model.Note
	if err := b.c.CallJSON(ctx, "/notes", &RequestOptions{RequireAuth: true}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// GetNote 单条笔记
func (b *Backend) GetNote(ctx context.Context, id string) (*model.Note, error) {
	var note model.Note
	if err := b.c.CallJSON(ctx, "/notes/"+escape(id), &RequestOptions{RequireAuth: true}, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// UpdateNote 修改笔记内容
func (b *Backend) UpdateNote(ctx context.Context, id, content string) (*model.Note, error) {
	var note model.Note
	opts := &RequestOptions{Method: http.MethodPut, Body: model.NoteUpdate{Content: &content}, RequireAuth: true}
	if err := b.c.CallJSON(ctx, "/notes/"+escape(id), opts, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// DeleteNote 删除笔记
func (b *Backend) DeleteNote(ctx context.Context, id string) error {
	return b.c.CallJSON(ctx, "/notes/"+escape(id), &RequestOptions{Method: http.MethodDelete, RequireAuth: true}, nil)
}

// MediaNotes 某部影视下的笔记，404 视为没有
func (b *Backend) MediaNotes(ctx context.Context, mediaID string) ([]model.Note, error) {
	var notes []model.Note
	err := b.c.CallJSON(ctx, "/notes/media/"+escape(mediaID), &RequestOptions{RequireAuth: true}, &notes)
	if IsStatus(err, http.StatusNotFound) {
		return []model.Note{}, nil
	}
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// AddToWatchlist 加入待看，重复时返回 409 APIError
func (b *Backend) AddToWatchlist(ctx context.Context, in model.WatchlistItemCreate) (*model.WatchlistItem, error) {
	if strings.TrimSpace(in.MovieID) == "" || strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: movie id and title are required", ErrValidation)
	}
	var item model.WatchlistItem
	err := b.c.CallJSON(ctx, "/watchlist", &RequestOptions{Method: http.MethodPost, Body: in, RequireAuth: true}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Watchlist 当前用户待看列表
func (b *Backend) Watchlist(ctx context.Context) ([]model.WatchlistItem, error) {
	var items []model.WatchlistItem
	if err := b.c.CallJSON(ctx, "/watchlist", &RequestOptions{RequireAuth: true}, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// RemoveFromWatchlist 移出待看
func (b *Backend) RemoveFromWatchlist(ctx context.Context, movieID string) error {
	return b.c.CallJSON(ctx, "/watchlist/"+escape(movieID), &RequestOptions{Method: http.MethodDelete, RequireAuth: true}, nil)
}

// InWatchlist 是否已在待看列表，404 或空响应视为不在
func (b *Backend) InWatchlist(ctx context.Context, movieID string) (bool, error) {
	raw, err := b.c.Call(ctx, "/watchlist/check/"+escape(movieID), &RequestOptions{RequireAuth: true})
	if IsStatus(err, http.StatusNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(raw)) == "true", nil
}

// Register 注册新账号，无需登录
func (b *Backend) Register(ctx context.Context, in model.UserCreate) (*model.User, error) {
	if len(in.Username) < 3 || len(in.Password) < 6 || !strings.Contains(in.Email, "@") {
		return nil, fmt.Errorf("%w: username needs 3+ characters, password 6+ and a valid email", ErrValidation)
	}
	var user model.User
	if err := b.c.CallJSON(ctx, "/register", &RequestOptions{Method: http.MethodPost, Body: in}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Profile 当前用户资料
func (b *Backend) Profile(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := b.c.CallJSON(ctx, "/profile", &RequestOptions{RequireAuth: true}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile 修改资料
func (b *Backend) UpdateProfile(ctx context.Context, in model.UserUpdate) (*model.User, error) {
	if in.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	var user model.User
	if err := b.c.CallJSON(ctx, "/profile", &RequestOptions{Method: http.MethodPut, Body: in, RequireAuth: true}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UploadAvatar 上传头像
func (b *Backend) UploadAvatar(ctx context.Context, filename string, content io.Reader) (*model.AvatarUploaded, error) {
	var out model.AvatarUploaded
	opts := &RequestOptions{
		Method:      http.MethodPost,
		File:        &FileUpload{Field: "file", Filename: filename, Content: content},
		RequireAuth: true,
	}
	if err := b.c.CallJSON(ctx, "/avatar", opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckUserActive 资料接口返回 403 即账号已停用，其它错误不判定为停用
func (b *Backend) CheckUserActive(ctx context.Context) (bool, error) {
	_, err := b.c.Call(ctx, "/profile", &RequestOptions{RequireAuth: true})
	if IsStatus(err, http.StatusForbidden) {
		return false, nil
	}
	return true, err
}

// Users 全部用户（管理员）
func (b *Backend) Users(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := b.c.CallJSON(ctx, "/users", &RequestOptions{RequireAuth: true}, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// User 单个用户（管理员）
func (b *Backend) User(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := b.c.CallJSON(ctx, "/users/"+escape(id), &RequestOptions{RequireAuth: true}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeactivateUser 停用账号（管理员）
func (b *Backend) DeactivateUser(ctx context.Context, id string) (string, error) {
	return b.message(ctx, http.MethodDelete, "/users/"+escape(id), nil)
}

// ActivateUser 启用账号（管理员）
func (b *Backend) ActivateUser(ctx context.Context, id string) (string, error) {
	return b.message(ctx, http.MethodPut, "/users/"+escape(id)+"/activate", nil)
}

// SetRole 授予或撤销管理员（管理员）
func (b *Backend) SetRole(ctx context.Context, userID, role string) (string, error) {
	if role != model.RoleUser && role != model.RoleAdmin {
		return "", fmt.Errorf("%w: role must be %q or %q", ErrValidation, model.RoleUser, model.RoleAdmin)
	}
	return b.message(ctx, http.MethodPost, "/promote", model.PromoteRequest{UserID: userID, Role: role})
}

func (b *Backend) message(ctx context.Context, method, path string, body any) (string, error) {
	var out model.MessageResponse
	if err := b.c.CallJSON(ctx, path, &RequestOptions{Method: method, Body: body, RequireAuth: true}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// AllNotes 所有用户的笔记（管理员）
func (b *Backend) AllNotes(ctx context.Context) ([]model.Note, error) {
	var notes []model.Note
	if err := b.c.CallJSON(ctx, "/admin/notes", &RequestOptions{RequireAuth: true}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// NotesActivity 写过笔记的用户 ID（管理员）
func (b *Backend) NotesActivity(ctx context.Context) ([]string, error) {
	var out model.NotesActivity
	if err := b.c.CallJSON(ctx, "/admin/users", &RequestOptions{RequireAuth: true}, &out); err != nil {
		return nil, err
	}
	if out.UsersWithNotesActivity == nil {
		return []string{}, nil
	}
	return out.UsersWithNotesActivity, nil
}
