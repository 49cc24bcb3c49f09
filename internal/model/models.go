package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 媒体类型
const (
	MediaTypeMovie = "movie"
	MediaTypeTV    = "tv"
)

// ValidMediaType 是否为合法媒体类型
func ValidMediaType(t string) bool {
	return t == MediaTypeMovie || t == MediaTypeTV
}

// Note 用户对某部影视的笔记
type Note struct {
	ID        string    `json:"_id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	MovieID   string    `json:"movie_id" gorm:"index;not null"`
	MediaType string    `json:"media_type" gorm:"type:varchar(8);not null"`
	Content   string    `json:"content" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *Note) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.MediaType == "" {
		n.MediaType = MediaTypeMovie
	}
	return nil
}

// WatchlistItem 待看列表条目，(user_id, movie_id) 唯一
type WatchlistItem struct {
	ID        string    `json:"_id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"user_id" gorm:"uniqueIndex:idx_watchlist_user_movie;not null"`
	MovieID   string    `json:"movie_id" gorm:"uniqueIndex:idx_watchlist_user_movie;not null"`
	Title     string    `json:"title"`
	MediaType string    `json:"media_type" gorm:"type:varchar(8);not null"`
	AddedAt   time.Time `json:"added_at"`
}

func (WatchlistItem) TableName() string {
	return "watchlist_items"
}

func (w *WatchlistItem) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.MediaType == "" {
		w.MediaType = MediaTypeMovie
	}
	if w.AddedAt.IsZero() {
		w.AddedAt = time.Now()
	}
	return nil
}

// AllModels 需要自动迁移的模型
func AllModels() []any {
	return []any{&User{}, &Note{}, &WatchlistItem{}}
}
