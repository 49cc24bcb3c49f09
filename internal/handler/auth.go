package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/logging"
	"github.com/user/streamtrack/internal/middleware"
	"github.com/user/streamtrack/internal/model"
	"github.com/user/streamtrack/internal/service"
	"golang.org/x/oauth2"
)

const (
	sessionState    = "oauth_state"
	sessionVerifier = "oauth_verifier"
)

// TokenVerifier 校验访问令牌
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*middleware.Claims, error)
}

// AuthHandler 浏览器登录：服务端完成授权码流程，令牌不下发到浏览器
type AuthHandler struct {
	OAuth    *oauth2.Config
	Vault    *service.TokenVault
	Verifier TokenVerifier
	Users    middleware.UserStatusChecker
	Config   *config.Config
}

// NewAuthHandler 创建登录处理器
func NewAuthHandler(cfg *config.Config, oauth *oauth2.Config, vault *service.TokenVault, verifier TokenVerifier, users middleware.UserStatusChecker) *AuthHandler {
	return &AuthHandler{OAuth: oauth, Vault: vault, Verifier: verifier, Users: users, Config: cfg}
}

// Login 跳转到 Keycloak 登录页
func (h *AuthHandler) Login(c *gin.Context) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	session := sessions.Default(c)
	session.Set(sessionState, state)
	session.Set(sessionVerifier, verifier)
	if err := session.Save(); err != nil {
		h.renderError(c, http.StatusInternalServerError, "Could not start the login session.")
		return
	}

	c.Redirect(http.StatusFound, h.OAuth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)))
}

// Callback 授权码回调
func (h *AuthHandler) Callback(c *gin.Context) {
	if e := c.Query("error"); e != "" {
		msg := c.Query("error_description")
		if msg == "" {
			msg = e
		}
		h.renderError(c, http.StatusBadRequest, msg)
		return
	}

	session := sessions.Default(c)
	state, _ := session.Get(sessionState).(string)
	verifier, _ := session.Get(sessionVerifier).(string)
	session.Delete(sessionState)
	session.Delete(sessionVerifier)

	if state == "" || c.Query("state") != state {
		session.Save()
		h.renderError(c, http.StatusBadRequest, "Invalid login state. Please try again.")
		return
	}

	ctx := c.Request.Context()
	tok, err := h.OAuth.Exchange(ctx, c.Query("code"), oauth2.VerifierOption(verifier))
	if err != nil {
		logging.Warn().Err(err).Msg("[Auth] 授权码换取令牌失败")
		session.Save()
		h.renderError(c, http.StatusBadGateway, "Could not complete login with the identity provider.")
		return
	}

	claims, err := h.Verifier.Verify(ctx, tok.AccessToken)
	if err != nil || claims.Subject == "" {
		logging.Warn().Err(err).Msg("[Auth] 登录令牌校验失败")
		session.Save()
		h.renderError(c, http.StatusUnauthorized, "The identity provider returned an invalid token.")
		return
	}

	if h.Users != nil {
		deactivated, err := h.Users.IsDeactivated(claims.Subject)
		if err != nil {
			logging.Warn().Err(err).Str("sub", claims.Subject).Msg("[Auth] 检查用户状态失败")
		} else if deactivated {
			session.Clear()
			session.Save()
			c.HTML(http.StatusForbidden, "account_deactivated.html", gin.H{
				"Title":    "Account deactivated",
				"Username": claims.PreferredUsername,
				"HomeURL":  h.Config.Server.FrontendURL,
			})
			return
		}
	}

	sid := h.Vault.Put(tok)
	session.Set(middleware.SessionKey, model.SessionUser{
		SID:      sid,
		Subject:  claims.Subject,
		Username: claims.PreferredUsername,
		Email:    claims.Email,
		Roles:    claims.Roles(),
	})
	if err := session.Save(); err != nil {
		h.Vault.Delete(sid)
		h.renderError(c, http.StatusInternalServerError, "Could not save the login session.")
		return
	}

	logging.Info().Str("username", claims.PreferredUsername).Msg("[Auth] 登录成功")
	c.Redirect(http.StatusFound, h.Config.Server.FrontendURL)
}

// Logout 清除会话并跳转到 Keycloak 登出
func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)

	q := url.Values{}
	q.Set("client_id", h.OAuth.ClientID)
	q.Set("post_logout_redirect_uri", h.Config.Server.FrontendURL)
	if su, ok := session.Get(middleware.SessionKey).(model.SessionUser); ok {
		if idToken := h.Vault.IDToken(su.SID); idToken != "" {
			q.Set("id_token_hint", idToken)
		}
		h.Vault.Delete(su.SID)
	}

	session.Clear()
	session.Save()

	c.Redirect(http.StatusFound, h.Config.Keycloak.Issuer()+"/protocol/openid-connect/logout?"+q.Encode())
}

// Session 当前浏览器会话的登录状态
func (h *AuthHandler) Session(c *gin.Context) {
	su, ok := sessions.Default(c).Get(middleware.SessionKey).(model.SessionUser)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	if _, valid := h.Vault.AccessToken(c.Request.Context(), su.SID); !valid {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": su})
}

func (h *AuthHandler) renderError(c *gin.Context, status int, message string) {
	c.HTML(status, "auth_error.html", gin.H{
		"Title":    "Login failed",
		"Message":  message,
		"LoginURL": "/auth/login",
	})
}
