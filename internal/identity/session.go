package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/user/streamtrack/internal/client"
	"golang.org/x/oauth2"
)

// ErrNotAuthenticated 与 client 包共用，便于 Client 把未登录视为无令牌
var ErrNotAuthenticated = client.ErrNotAuthenticated

// Session 显式传递的登录会话，替代全局单例
type Session struct {
	cfg        Config
	store      TokenStore
	oauth      *oauth2.Config
	httpClient *http.Client

	mu     sync.Mutex
	token  *Token
	claims *Claims
}

// Option 会话选项
type Option func(*Session)

// WithHTTPClient 访问身份提供方使用的 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Session) {
		s.httpClient = hc
	}
}

// NewSession 创建会话，调用 Init 前处于未登录状态
func NewSession(cfg Config, store TokenStore, opts ...Option) *Session {
	if store == nil {
		store = &MemoryStore{}
	}
	s := &Session{cfg: cfg, store: store, oauth: cfg.oauth2Config("")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) withClient(ctx context.Context) context.Context {
	if s.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	return ctx
}

// Init 静默检查已保存的令牌，有效或可刷新即视为已登录，失败不报错
func (s *Session) Init(ctx context.Context) error {
	tok, err := s.store.Load()
	if errors.Is(err, ErrNoToken) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.Valid() {
		// 无法解码的令牌在 adoptLocked 中已被清除
		_ = s.adoptLocked(tok)
		return nil
	}
	if tok.RefreshToken == "" {
		return s.resetLocked()
	}
	s.token = tok
	if err := s.refreshLocked(ctx); err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return s.resetLocked()
		}
		// 身份提供方不可达时保留令牌，下次调用再刷新
		claims, perr := ParseClaims(tok.AccessToken)
		if perr != nil {
			return s.resetLocked()
		}
		s.claims = claims
	}
	return nil
}

// Close 保存当前令牌
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil
	}
	return s.store.Save(s.token)
}

// Authenticated 是否已登录
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != nil && s.claims != nil
}

// Claims 当前用户信息
func (s *Session) Claims() (Claims, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims == nil {
		return Claims{}, false
	}
	return *s.claims, true
}

// HasRole 当前用户是否拥有角色
func (s *Session) HasRole(role string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims.HasRole(role)
}

// AccessToken 返回可用的访问令牌，过期时先刷新
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return "", ErrNotAuthenticated
	}
	if s.token.Valid() {
		return s.token.AccessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			s.resetLocked()
			return "", fmt.Errorf("%w: session expired", ErrNotAuthenticated)
		}
		return "", err
	}
	return s.token.AccessToken, nil
}

// LoginPassword 用户名密码登录
func (s *Session) LoginPassword(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", client.ErrValidation)
	}
	tok, err := s.oauth.PasswordCredentialsToken(s.withClient(ctx), username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return s.setToken(tok)
}

// Logout 通知身份提供方结束会话并清除本地令牌
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return s.store.Clear()
	}

	form := url.Values{"client_id": {s.cfg.ClientID}}
	if s.token.RefreshToken != "" {
		form.Set("refresh_token", s.token.RefreshToken)
	}
	if s.token.IDToken != "" {
		form.Set("id_token_hint", s.token.IDToken)
	}
	var endErr error
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.LogoutURL(), strings.NewReader(form.Encode()))
	if err != nil {
		endErr = err
	} else {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := s.client().Do(req)
		switch {
		case err != nil:
			endErr = err
		case resp.StatusCode >= 300:
			resp.Body.Close()
			endErr = fmt.Errorf("end session: HTTP %d", resp.StatusCode)
		default:
			resp.Body.Close()
		}
	}

	if err := s.resetLocked(); err != nil {
		return err
	}
	if endErr != nil {
		return fmt.Errorf("logout: %w", endErr)
	}
	return nil
}

// EndSessionURL 浏览器登出地址
func (s *Session) EndSessionURL(postLogoutRedirect string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := url.Values{"client_id": {s.cfg.ClientID}}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	if s.token != nil && s.token.IDToken != "" {
		q.Set("id_token_hint", s.token.IDToken)
	}
	return s.cfg.LogoutURL() + "?" + q.Encode()
}

func (s *Session) client() *http.Client {
	if s.httpClient != nil {
		return s.httpClient
	}
	return http.DefaultClient
}

func (s *Session) setToken(t *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.adoptLocked(newToken(t)); err != nil {
		return err
	}
	return s.store.Save(s.token)
}

func (s *Session) adoptLocked(tok *Token) error {
	claims, err := ParseClaims(tok.AccessToken)
	if err != nil {
		s.resetLocked()
		return err
	}
	s.token = tok
	s.claims = claims
	return nil
}

func (s *Session) refreshLocked(ctx context.Context) error {
	src := s.oauth.TokenSource(s.withClient(ctx), &oauth2.Token{RefreshToken: s.token.RefreshToken})
	t, err := src.Token()
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	tok := newToken(t)
	if tok.RefreshToken == "" {
		tok.RefreshToken = s.token.RefreshToken
	}
	if tok.IDToken == "" {
		tok.IDToken = s.token.IDToken
	}
	if err := s.adoptLocked(tok); err != nil {
		return err
	}
	return s.store.Save(tok)
}

func (s *Session) resetLocked() error {
	s.token = nil
	s.claims = nil
	return s.store.Clear()
}
