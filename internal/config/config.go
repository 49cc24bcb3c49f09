package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config 应用配置
type Config struct {
	Env      string         `koanf:"env"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Keycloak KeycloakConfig `koanf:"keycloak"`
	TMDB     TMDBConfig     `koanf:"tmdb"`
	Storage  StorageConfig  `koanf:"storage"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port        string        `koanf:"port"`
	CatalogPort string        `koanf:"catalog_port"`
	AppSecret   string        `koanf:"app_secret"`
	PublicURL   string        `koanf:"public_url"`
	FrontendURL string        `koanf:"frontend_url"`
	CORSOrigins []string      `koanf:"cors_origins"`
	Timeout     time.Duration `koanf:"timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`
}

// KeycloakConfig 身份提供方配置
type KeycloakConfig struct {
	ServerURL     string        `koanf:"server_url"`
	Realm         string        `koanf:"realm"`
	ClientID      string        `koanf:"client_id"`
	ClientSecret  string        `koanf:"client_secret"`
	AdminUser     string        `koanf:"admin_user"`
	AdminPassword string        `koanf:"admin_password"`
	AdminRealm    string        `koanf:"admin_realm"`
	AdminClientID string        `koanf:"admin_client_id"`
	JWKSURL       string        `koanf:"jwks_url"`
	JWKSCacheTTL  time.Duration `koanf:"jwks_cache_ttl"`
	RedirectURL   string        `koanf:"redirect_url"`
}

// TMDBConfig 影视目录上游配置
type TMDBConfig struct {
	BaseURL    string        `koanf:"base_url"`
	APIKey     string        `koanf:"api_key"`
	APIKeyFile string        `koanf:"api_key_file"`
	Token      string        `koanf:"token"`
	Language   string        `koanf:"language"`
	Region     string        `koanf:"region"`
	RateLimit  float64       `koanf:"rate_limit"`
	Timeout    time.Duration `koanf:"timeout"`
	CacheTTL   time.Duration `koanf:"cache_ttl"`
}

// StorageConfig 静态文件存储配置
type StorageConfig struct {
	StaticDir       string        `koanf:"static_dir"`
	MaxAvatarBytes  int64         `koanf:"max_avatar_bytes"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DSN 返回数据库连接串，DATABASE_URL 优先
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// Issuer realm 的签发者地址
func (k KeycloakConfig) Issuer() string {
	return strings.TrimRight(k.ServerURL, "/") + "/realms/" + k.Realm
}

// JWKSEndpoint 公钥地址，未配置时由 realm 推导
func (k KeycloakConfig) JWKSEndpoint() string {
	if k.JWKSURL != "" {
		return k.JWKSURL
	}
	return k.Issuer() + "/protocol/openid-connect/certs"
}

// AdminTokenURL 管理员令牌地址
func (k KeycloakConfig) AdminTokenURL() string {
	return strings.TrimRight(k.ServerURL, "/") + "/realms/" + k.AdminRealm + "/protocol/openid-connect/token"
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port must not be empty"))
	}
	if c.Keycloak.Realm == "" {
		errs = append(errs, errors.New("keycloak.realm must not be empty"))
	}
	if c.Storage.MaxAvatarBytes <= 0 {
		errs = append(errs, errors.New("storage.max_avatar_bytes must be positive"))
	}
	if c.TMDB.RateLimit < 0 {
		errs = append(errs, errors.New("tmdb.rate_limit must not be negative"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// resolveSecrets 从文件读取密钥，文件不可读时保留环境变量中的值
func (c *Config) resolveSecrets() {
	if c.TMDB.APIKeyFile == "" {
		return
	}
	data, err := os.ReadFile(c.TMDB.APIKeyFile)
	if err != nil {
		return
	}
	if key := strings.TrimSpace(string(data)); key != "" {
		c.TMDB.APIKey = key
	}
}
