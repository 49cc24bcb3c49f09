package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/logging"
	"golang.org/x/oauth2"
)

// NewLoginConfig 浏览器登录使用的授权码流程配置
func NewLoginConfig(cfg config.KeycloakConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.Issuer() + "/protocol/openid-connect/auth",
			TokenURL: cfg.Issuer() + "/protocol/openid-connect/token",
		},
	}
}

type vaultEntry struct {
	token   *oauth2.Token
	idToken string
}

// TokenVault 服务端保存登录令牌，Cookie 中只存 SID
type TokenVault struct {
	oauth *oauth2.Config
	store *cache.Cache
}

// NewTokenVault ttl 为会话最长保留时间
func NewTokenVault(oauth *oauth2.Config, ttl time.Duration) *TokenVault {
	return &TokenVault{
		oauth: oauth,
		store: cache.New(ttl, 10*time.Minute),
	}
}

// Put 保存令牌并返回新的 SID
func (v *TokenVault) Put(tok *oauth2.Token) string {
	sid := uuid.NewString()
	idToken, _ := tok.Extra("id_token").(string)
	v.store.SetDefault(sid, &vaultEntry{token: tok, idToken: idToken})
	return sid
}

// AccessToken 取有效的访问令牌，过期时用刷新令牌续期
func (v *TokenVault) AccessToken(ctx context.Context, sid string) (string, bool) {
	raw, ok := v.store.Get(sid)
	if !ok {
		return "", false
	}
	entry := raw.(*vaultEntry)
	if entry.token.Valid() {
		return entry.token.AccessToken, true
	}
	if entry.token.RefreshToken == "" {
		v.store.Delete(sid)
		return "", false
	}

	tok, err := v.oauth.TokenSource(ctx, entry.token).Token()
	if err != nil {
		logging.Warn().Err(err).Msg("[Session] 刷新令牌失败")
		v.store.Delete(sid)
		return "", false
	}
	v.store.SetDefault(sid, &vaultEntry{token: tok, idToken: entry.idToken})
	return tok.AccessToken, true
}

// IDToken 登出时使用的 id_token
func (v *TokenVault) IDToken(sid string) string {
	if raw, ok := v.store.Get(sid); ok {
		return raw.(*vaultEntry).idToken
	}
	return ""
}

// Delete 删除会话
func (v *TokenVault) Delete(sid string) {
	v.store.Delete(sid)
}
