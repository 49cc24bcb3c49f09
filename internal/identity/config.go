// Package identity 终端客户端的 Keycloak 登录会话
package identity

import (
	"strings"

	"golang.org/x/oauth2"
)

// Config 身份提供方配置
type Config struct {
	URL      string
	Realm    string
	ClientID string
	Scopes   []string
}

// Issuer realm 地址
func (c Config) Issuer() string {
	return strings.TrimRight(c.URL, "/") + "/realms/" + c.Realm
}

// Endpoint OIDC 授权与令牌端点
func (c Config) Endpoint() oauth2.Endpoint {
	base := c.Issuer() + "/protocol/openid-connect"
	return oauth2.Endpoint{
		AuthURL:   base + "/auth",
		TokenURL:  base + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// LogoutURL 登出端点
func (c Config) LogoutURL() string {
	return c.Issuer() + "/protocol/openid-connect/logout"
}

func (c Config) oauth2Config(redirectURL string) *oauth2.Config {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	return &oauth2.Config{
		ClientID:    c.ClientID,
		Endpoint:    c.Endpoint(),
		RedirectURL: redirectURL,
		Scopes:      scopes,
	}
}
