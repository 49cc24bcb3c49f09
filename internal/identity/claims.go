package identity

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims 访问令牌中的用户信息
type Claims struct {
	Subject   string
	Username  string
	Name      string
	Email     string
	Roles     []string
	ExpiresAt time.Time
}

// HasRole 是否拥有 realm 角色
func (c *Claims) HasRole(role string) bool {
	return c != nil && slices.Contains(c.Roles, role)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// ParseClaims 解码访问令牌，签名由后端校验，这里不验签
func ParseClaims(accessToken string) (*Claims, error) {
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &tc); err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("decode access token: missing sub")
	}
	c := &Claims{
		Subject:  tc.Subject,
		Username: tc.PreferredUsername,
		Name:     tc.Name,
		Email:    tc.Email,
		Roles:    tc.RealmAccess.Roles,
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}
