package repository

import (
	"errors"
	"time"

	"github.com/user/streamtrack/internal/model"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create 创建用户资料
func (r *UserRepository) Create(user *model.User) error {
	if err := r.db.Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *UserRepository) findOne(query string, args ...any) (*model.User, error) {
	var user model.User
	err := r.db.Where(query, args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID 根据 ID 查找用户
func (r *UserRepository) FindByID(id string) (*model.User, error) {
	return r.findOne("id = ?", id)
}

// FindByKeycloakID 根据身份提供方 subject 查找用户
func (r *UserRepository) FindByKeycloakID(sub string) (*model.User, error) {
	return r.findOne("keycloak_id = ?", sub)
}

// FindByUsernameOrEmail 注册前的重复检查
func (r *UserRepository) FindByUsernameOrEmail(username, email string) (*model.User, error) {
	return r.findOne("username = ? OR email = ?", username, email)
}

// ListAll 获取所有用户
func (r *UserRepository) ListAll() ([]model.User, error) {
	users := []model.User{}
	err := r.db.Order("created_at ASC").Find(&users).Error
	return users, err
}

// UpdateFields 按 subject 更新资料字段
func (r *UserRepository) UpdateFields(sub string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	err := r.db.Model(&model.User{}).Where("keycloak_id = ?", sub).Updates(fields).Error
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// SetActive 启用或停用账号
func (r *UserRepository) SetActive(id string, active bool) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now()}).Error
}

// SetRoles 更新角色
func (r *UserRepository) SetRoles(id string, roles []string) error {
	return r.db.Model(&model.User{ID: id}).Select("roles", "updated_at").
		Updates(&model.User{Roles: roles, UpdatedAt: time.Now()}).Error
}

// IsDeactivated 本地资料存在且已停用
func (r *UserRepository) IsDeactivated(sub string) (bool, error) {
	var count int64
	err := r.db.Model(&model.User{}).
		Where("keycloak_id = ? AND is_active = ?", sub, false).
		Count(&count).Error
	return count > 0, err
}

// AvatarURLs 所有被引用的头像地址
func (r *UserRepository) AvatarURLs() ([]string, error) {
	urls := []string{}
	err := r.db.Model(&model.User{}).Where("avatar_url IS NOT NULL").Pluck("avatar_url", &urls).Error
	return urls, err
}
