package repository

import (
	"errors"
	"time"

	"github.com/user/streamtrack/internal/model"
	"gorm.io/gorm"
)

type NoteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// Create 创建笔记
func (r *NoteRepository) Create(note *model.Note) error {
	now := time.Now()
	note.CreatedAt = now
	note.UpdatedAt = now
	return r.db.Create(note).Error
}

// ListByUser 获取用户全部笔记
func (r *NoteRepository) ListByUser(userID string) ([]model.Note, error) {
	notes := []model.Note{}
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&notes).Error
	return notes, err
}

// ListByUserAndMedia 获取用户对某部影视的笔记
func (r *NoteRepository) ListByUserAndMedia(userID, movieID string) ([]model.Note, error) {
	notes := []model.Note{}
	err := r.db.Where("user_id = ? AND movie_id = ?", userID, movieID).
		Order("created_at DESC").
		Find(&notes).Error
	return notes, err
}

// FindByID 根据 ID 查找（不限用户），不存在返回 nil
func (r *NoteRepository) FindByID(id string) (*model.Note, error) {
	var note model.Note
	err := r.db.Where("id = ?", id).First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// FindForUser 查找属于该用户的笔记，不存在返回 nil
func (r *NoteRepository) FindForUser(id, userID string) (*model.Note, error) {
	var note model.Note
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// UpdateContent 更新笔记内容，未命中返回 ErrNotFound
func (r *NoteRepository) UpdateContent(id, userID, content string) (*model.Note, error) {
	res := r.db.Model(&model.Note{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"content": content, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.FindForUser(id, userID)
}

// Delete 删除笔记，返回是否删除成功
func (r *NoteRepository) Delete(id, userID string) (bool, error) {
	res := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Note{})
	return res.RowsAffected > 0, res.Error
}

// ListAll 获取全部笔记（管理员）
func (r *NoteRepository) ListAll() ([]model.Note, error) {
	notes := []model.Note{}
	err := r.db.Order("created_at DESC").Find(&notes).Error
	return notes, err
}

// DistinctUserIDs 有笔记的用户 ID
func (r *NoteRepository) DistinctUserIDs() ([]string, error) {
	ids := []string{}
	err := r.db.Model(&model.Note{}).Distinct().Order("user_id").Pluck("user_id", &ids).Error
	return ids, err
}
