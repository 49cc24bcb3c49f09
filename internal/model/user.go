package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 角色
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ValidRole 是否为可授予的角色
func ValidRole(r string) bool {
	return r == RoleUser || r == RoleAdmin
}

// User 本地用户资料，身份由 Keycloak 管理
type User struct {
	ID         string    `json:"_id" gorm:"primaryKey;type:varchar(36)"`
	KeycloakID string    `json:"keycloak_id" gorm:"uniqueIndex;not null"`
	Username   string    `json:"username" gorm:"uniqueIndex;not null"`
	Email      *string   `json:"email" gorm:"uniqueIndex"`
	FirstName  *string   `json:"first_name"`
	LastName   *string   `json:"last_name"`
	Roles      []string  `json:"roles" gorm:"serializer:json"`
	IsActive   bool      `json:"is_active" gorm:"not null"`
	AvatarURL  *string   `json:"avatar_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if len(u.Roles) == 0 {
		u.Roles = []string{RoleUser}
	}
	return nil
}

// HasRole 是否拥有角色
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// SessionUser 存入 Cookie Session 的登录信息，令牌本身按 SID 存在服务端
type SessionUser struct {
	SID      string   `json:"-"`
	Subject  string   `json:"sub"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}
