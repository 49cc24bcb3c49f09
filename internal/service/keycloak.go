package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/logging"
	"github.com/user/streamtrack/internal/metrics"
	"golang.org/x/oauth2"
)

var (
	// ErrUserExists Keycloak 中已存在同名用户
	ErrUserExists = errors.New("user already exists in identity provider")
	// ErrIdentityUserNotFound Keycloak 中找不到用户
	ErrIdentityUserNotFound = errors.New("user not found in identity provider")
	// ErrIdentityUnavailable 无法连接 Keycloak
	ErrIdentityUnavailable = errors.New("could not connect to Keycloak")
)

// IdentityError Keycloak 管理 API 返回非 2xx
type IdentityError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("keycloak %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// NewIdentityUser 新建 Keycloak 用户的参数
type NewIdentityUser struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// IdentityUserUpdate 同步到 Keycloak 的资料，空串不更新
type IdentityUserUpdate struct {
	Email     string
	FirstName string
	LastName  string
}

type identityRole struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

const adminTokenKey = "admin_token"

// KeycloakService Keycloak 管理 API
type KeycloakService struct {
	cfg        config.KeycloakConfig
	httpClient *http.Client
	oauth      *oauth2.Config
	tokens     *cache.Cache
}

// NewKeycloakService 创建 Keycloak 管理服务，client 为 nil 时使用默认超时
func NewKeycloakService(cfg config.KeycloakConfig, client *http.Client) *KeycloakService {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeycloakService{
		cfg:        cfg,
		httpClient: client,
		oauth: &oauth2.Config{
			ClientID: cfg.AdminClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.AdminTokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokens: cache.New(time.Minute, 5*time.Minute),
	}
}

// adminToken 获取管理员令牌，过期前复用
func (s *KeycloakService) adminToken(ctx context.Context) (string, error) {
	if v, ok := s.tokens.Get(adminTokenKey); ok {
		return v.(string), nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	var tok *oauth2.Token
	err := retry.Do(
		func() error {
			var err error
			tok, err = s.oauth.PasswordCredentialsToken(ctx, s.cfg.AdminUser, s.cfg.AdminPassword)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		// 只重试连接错误，认证失败直接返回
		retry.RetryIf(func(err error) bool {
			var re *oauth2.RetrieveError
			return !errors.As(err, &re)
		}),
	)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", &IdentityError{Op: "admin token", StatusCode: re.Response.StatusCode, Body: string(re.Body)}
		}
		return "", fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("invalid token response from Keycloak")
	}

	ttl := time.Until(tok.Expiry) - 30*time.Second
	if tok.Expiry.IsZero() || ttl <= 0 {
		ttl = 30 * time.Second
	}
	s.tokens.Set(adminTokenKey, tok.AccessToken, ttl)
	return tok.AccessToken, nil
}

// CreateUser 创建用户并返回其 Keycloak ID
func (s *KeycloakService) CreateUser(ctx context.Context, u NewIdentityUser) (id string, err error) {
	defer func() { s.observe("create_user", err) }()

	payload := map[string]any{
		"username":      u.Username,
		"email":         u.Email,
		"enabled":       true,
		"emailVerified": true,
		"credentials": []map[string]any{{
			"type":      "password",
			"value":     u.Password,
			"temporary": false,
		}},
	}
	if u.FirstName != "" {
		payload["firstName"] = u.FirstName
	}
	if u.LastName != "" {
		payload["lastName"] = u.LastName
	}

	resp, err := s.do(ctx, http.MethodPost, "/users", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return "", ErrUserExists
	}
	if err := checkStatus("create user", resp); err != nil {
		return "", err
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		return path.Base(loc), nil
	}
	return s.GetUserIDByUsername(ctx, u.Username)
}

// GetUserIDByUsername 按用户名精确查找
func (s *KeycloakService) GetUserIDByUsername(ctx context.Context, username string) (string, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("exact", "true")

	var users []struct {
		ID string `json:"id"`
	}
	if err := s.getJSON(ctx, "lookup user", "/users?"+q.Encode(), &users); err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", ErrIdentityUserNotFound
	}
	return users[0].ID, nil
}

// UpdateUser 同步邮箱与姓名，没有字段时不请求
func (s *KeycloakService) UpdateUser(ctx context.Context, id string, u IdentityUserUpdate) (err error) {
	payload := map[string]any{}
	if u.Email != "" {
		payload["email"] = u.Email
	}
	if u.FirstName != "" {
		payload["firstName"] = u.FirstName
	}
	if u.LastName != "" {
		payload["lastName"] = u.LastName
	}
	if len(payload) == 0 {
		return nil
	}
	defer func() { s.observe("update_user", err) }()

	resp, err := s.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus("update user", resp)
}

// AssignRole 分配 realm 角色
func (s *KeycloakService) AssignRole(ctx context.Context, id, role string) (err error) {
	defer func() { s.observe("assign_role", err) }()
	return s.roleMapping(ctx, http.MethodPost, id, role)
}

// RemoveRole 移除 realm 角色
func (s *KeycloakService) RemoveRole(ctx context.Context, id, role string) (err error) {
	defer func() { s.observe("remove_role", err) }()
	return s.roleMapping(ctx, http.MethodDelete, id, role)
}

// GetUserRoles 用户的 realm 角色名
func (s *KeycloakService) GetUserRoles(ctx context.Context, id string) ([]string, error) {
	var roles []identityRole
	if err := s.getJSON(ctx, "get roles", "/users/"+url.PathEscape(id)+"/role-mappings/realm", &roles); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

func (s *KeycloakService) roleMapping(ctx context.Context, method, id, role string) error {
	var rep identityRole
	if err := s.getJSON(ctx, "get role", "/roles/"+url.PathEscape(role), &rep); err != nil {
		return err
	}
	resp, err := s.do(ctx, method, "/users/"+url.PathEscape(id)+"/role-mappings/realm", []identityRole{rep})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(strings.ToLower(method)+" role mapping", resp)
}

func (s *KeycloakService) getJSON(ctx context.Context, op, p string, out any) error {
	resp, err := s.do(ctx, http.MethodGet, p, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(op, resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// do 以管理员身份调用 /admin/realms/{realm} 下的接口
func (s *KeycloakService) do(ctx context.Context, method, p string, body any) (*http.Response, error) {
	token, err := s.adminToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	target := strings.TrimRight(s.cfg.ServerURL, "/") + "/admin/realms/" + url.PathEscape(s.cfg.Realm) + p
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// 令牌可能已在服务端失效
		s.tokens.Delete(adminTokenKey)
	}
	return resp, nil
}

func (s *KeycloakService) observe(op string, err error) {
	metrics.IdentityAdminCalls.WithLabelValues(op, metrics.Outcome(err)).Inc()
	if err != nil && !errors.Is(err, ErrUserExists) {
		logging.Warn().Err(err).Str("op", op).Msg("[Keycloak] 管理 API 调用失败")
	}
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &IdentityError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
