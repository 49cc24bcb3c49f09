package model

// NoteCreate 创建笔记请求
type NoteCreate struct {
	MovieID   string `json:"movie_id" binding:"required"`
	MediaType string `json:"media_type" binding:"omitempty,mediatype"`
	Content   string `json:"content" binding:"required"`
}

// NoteUpdate 更新笔记请求，nil 字段不更新
type NoteUpdate struct {
	Content *string `json:"content"`
}

// WatchlistItemCreate 加入待看请求
type WatchlistItemCreate struct {
	MovieID   string `json:"movie_id" binding:"required"`
	Title     string `json:"title" binding:"required"`
	MediaType string `json:"media_type" binding:"omitempty,mediatype"`
}

// UserCreate 注册请求
type UserCreate struct {
	Username  string  `json:"username" binding:"required,min=3,max=50"`
	Email     string  `json:"email" binding:"required,email"`
	Password  string  `json:"password" binding:"required,min=6"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// UserUpdate 更新资料请求
type UserUpdate struct {
	Email     *string `json:"email,omitempty" binding:"omitempty,email"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Empty 是否没有任何字段
func (u UserUpdate) Empty() bool {
	return u.Email == nil && u.FirstName == nil && u.LastName == nil && u.AvatarURL == nil
}

// PromoteRequest 角色变更请求
type PromoteRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,role"`
}

// MessageResponse 仅包含消息的响应
type MessageResponse struct {
	Message string `json:"message"`
}

// NoteDeleted 删除笔记响应
type NoteDeleted struct {
	Message       string `json:"message"`
	DeletedNoteID string `json:"deleted_note_id"`
}

// WatchlistRemoved 移出待看响应
type WatchlistRemoved struct {
	Message        string `json:"message"`
	RemovedMovieID string `json:"removed_movie_id"`
}

// AvatarUploaded 头像上传响应
type AvatarUploaded struct {
	AvatarURL string `json:"avatar_url"`
	Message   string `json:"message"`
}

// NotesActivity 有笔记的用户
type NotesActivity struct {
	UsersWithNotesActivity []string `json:"users_with_notes_activity"`
}
