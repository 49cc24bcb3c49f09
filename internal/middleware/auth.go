package middleware

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/user/streamtrack/internal/logging"
	"github.com/user/streamtrack/internal/model"
	"github.com/user/streamtrack/internal/utils"
)

// SessionKey Cookie Session 中登录信息的键
const SessionKey = "userinfo"

// Claims Keycloak 访问令牌声明
type Claims struct {
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	jwt.RegisteredClaims
}

// Roles realm 角色
func (c *Claims) Roles() []string {
	return c.RealmAccess.Roles
}

// UserStatusChecker 检查本地账号是否被停用
type UserStatusChecker interface {
	IsDeactivated(sub string) (bool, error)
}

// SessionTokens 通过 Session SID 取得服务端保存的访问令牌
type SessionTokens interface {
	AccessToken(ctx context.Context, sid string) (string, bool)
}

// Authenticator 校验 Bearer 令牌
type Authenticator struct {
	keys     *JWKSCache
	users    UserStatusChecker
	sessions SessionTokens
}

// NewAuthenticator 创建认证器，users 与 tokens 可为 nil
func NewAuthenticator(keys *JWKSCache, users UserStatusChecker, tokens SessionTokens) *Authenticator {
	return &Authenticator{keys: keys, users: users, sessions: tokens}
}

// RequireAuth 必须登录中间件
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := a.extractToken(c)
		if tokenString == "" {
			utils.Unauthorized(c, "Not authenticated")
			return
		}

		claims, err := a.Verify(c.Request.Context(), tokenString)
		if err != nil {
			utils.Unauthorized(c, fmt.Sprintf("Invalid token or verification error: %v", err))
			return
		}
		if claims.Subject == "" {
			utils.Unauthorized(c, "Token does not contain a user identifier (sub).")
			return
		}

		if a.users != nil {
			deactivated, err := a.users.IsDeactivated(claims.Subject)
			if err != nil {
				// 数据库异常不阻断请求
				logging.Warn().Err(err).Str("sub", claims.Subject).Msg("[Auth] 检查用户状态失败")
			} else if deactivated {
				utils.Forbidden(c, "User account has been deactivated.")
				return
			}
		}

		// 将用户信息存入上下文
		c.Set("user_id", claims.Subject)
		c.Set("roles", claims.Roles())
		c.Set("username", claims.PreferredUsername)
		c.Set("email", claims.Email)
		c.Set("claims", claims)
		c.Next()
	}
}

// RequireRole 角色权限中间件，需在 RequireAuth 之后
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(GetRoles(c), role) {
			utils.Forbidden(c, "Access denied. Insufficient permissions.")
			return
		}
		c.Next()
	}
}

// Verify 校验 RS256 令牌签名与有效期，不校验 aud
func (a *Authenticator) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return a.keys.GetKey(ctx, kid)
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// extractToken 优先 Authorization Header，其次登录 Session
func (a *Authenticator) extractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if a.sessions == nil {
		return ""
	}
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return ""
	}
	su, ok := sessions.Default(c).Get(SessionKey).(model.SessionUser)
	if !ok || su.SID == "" {
		return ""
	}
	token, _ := a.sessions.AccessToken(c.Request.Context(), su.SID)
	return token
}

// GetUserID 从上下文获取用户 subject（未登录返回空串）
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// GetRoles 从上下文获取 realm 角色
func GetRoles(c *gin.Context) []string {
	return c.GetStringSlice("roles")
}

// GetClaims 从上下文获取完整声明
func GetClaims(c *gin.Context) *Claims {
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return nil
}
