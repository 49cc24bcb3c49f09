package repository

import (
	"github.com/user/streamtrack/internal/model"
	"gorm.io/gorm"
)

type WatchlistRepository struct {
	db *gorm.DB
}

func NewWatchlistRepository(db *gorm.DB) *WatchlistRepository {
	return &WatchlistRepository{db: db}
}

// Add 加入待看，已存在返回 ErrDuplicate
func (r *WatchlistRepository) Add(item *model.WatchlistItem) error {
	exists, err := r.Exists(item.UserID, item.MovieID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}
	// 并发插入时由唯一索引兜底
	if err := r.db.Create(item).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Remove 移出待看，返回是否删除成功
func (r *WatchlistRepository) Remove(userID, movieID string) (bool, error) {
	res := r.db.Where("user_id = ? AND movie_id = ?", userID, movieID).Delete(&model.WatchlistItem{})
	return res.RowsAffected > 0, res.Error
}

// Exists 检查是否已在待看
func (r *WatchlistRepository) Exists(userID, movieID string) (bool, error) {
	var count int64
	err := r.db.Model(&model.WatchlistItem{}).Where("user_id = ? AND movie_id = ?", userID, movieID).Count(&count).Error
	return count > 0, err
}

// ListByUser 获取用户待看列表
func (r *WatchlistRepository) ListByUser(userID string) ([]model.WatchlistItem, error) {
	items := []model.WatchlistItem{}
	err := r.db.Where("user_id = ?", userID).Order("added_at DESC").Find(&items).Error
	return items, err
}
