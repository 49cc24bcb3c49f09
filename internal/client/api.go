// Package client 访问后端 API 与 TMDB 代理的 HTTP 客户端
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var (
	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrValidation       = errors.New("validation failed")
)

var emptyObject = json.RawMessage("{}")

// APIError 非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsStatus err 是否为指定状态码的 APIError
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// TokenSource 提供访问令牌，未登录时返回空串
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenFunc 函数形式的 TokenSource
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken 固定令牌
func StaticToken(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

// FileUpload multipart 上传的文件
type FileUpload struct {
	Field    string
	Filename string
	Content  io.Reader
}

// RequestOptions 单次请求参数
type RequestOptions struct {
	Method string
	Query  url.Values
	// Body 以 JSON 编码发送
	Body any
	// File 非空时以 multipart 发送，忽略 Body
	File   *FileUpload
	Header http.Header
	// RequireAuth 没有令牌时直接返回 ErrNotAuthenticated，不发请求
	RequireAuth bool
}

// Client 带可选 Bearer 令牌的 JSON 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 自定义 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTokenSource 设置令牌来源
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// New 创建客户端
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL 服务根地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token 当前令牌，未登录返回空串
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	token, err := c.tokens.AccessToken(ctx)
	if errors.Is(err, ErrNotAuthenticated) {
		return "", nil
	}
	return token, err
}

// Call 发送请求并返回原始 JSON，204 或空响应体返回 {}
func (c *Client) Call(ctx context.Context, path string, opts *RequestOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	if opts.RequireAuth && token == "" {
		return nil, ErrNotAuthenticated
	}

	body, contentType, err := encodeBody(opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, opts.Query), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = buildHeader(opts.Header, token, contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return emptyObject, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %s: response is not JSON", method, path)
	}
	return json.RawMessage(data), nil
}

// CallJSON 发送请求并解码到 out，out 为 nil 时丢弃响应体
func (c *Client) CallJSON(ctx context.Context, path string, opts *RequestOptions, out any) error {
	raw, err := c.Call(ctx, path, opts)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func encodeBody(opts *RequestOptions) (io.Reader, string, error) {
	if opts.File != nil {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		field := opts.File.Field
		if field == "" {
			field = "file"
		}
		part, err := mw.CreateFormFile(field, opts.File.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, opts.File.Content); err != nil {
			return nil, "", fmt.Errorf("write form file: %w", err)
		}
		if err := mw.Close(); err != nil {
			return nil, "", fmt.Errorf("close multipart: %w", err)
		}
		return &buf, mw.FormDataContentType(), nil
	}
	if opts.Body == nil {
		return nil, "application/json", nil
	}
	data, err := json.Marshal(opts.Body)
	if err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

// buildHeader 每次返回新的 Header，不修改调用方传入的值
func buildHeader(extra http.Header, token, contentType string) http.Header {
	h := extra.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Accept", "application/json")
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	} else {
		h.Del("Authorization")
	}
	return h
}

// newAPIError 依次取 detail、message，最后退回状态码文本
func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Detail  any `json:"detail"`
		Message any `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if s, ok := payload.Detail.(string); ok && s != "" {
			return &APIError{StatusCode: status, Message: s}
		}
		if s, ok := payload.Message.(string); ok && s != "" {
			return &APIError{StatusCode: status, Message: s}
		}
	}
	msg := http.StatusText(status)
	if msg == "" {
		msg = "HTTP " + strconv.Itoa(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
