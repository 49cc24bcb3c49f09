package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar 配置文件路径环境变量
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths 按顺序查找的配置文件
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/streamtrack/config.yaml",
}

func defaultConfig() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:        "8000",
			CatalogPort: "8001",
			AppSecret:   "your-secret-key-change-in-production",
			PublicURL:   "http://localhost:8000",
			FrontendURL: "http://localhost:3000",
			CORSOrigins: []string{"http://localhost:3000"},
			Timeout:     10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			Name:     "streamtrack",
			SSLMode:  "disable",
		},
		Keycloak: KeycloakConfig{
			ServerURL:     "http://keycloak:8080",
			Realm:         "streamtrack",
			ClientID:      "frontend",
			AdminUser:     "admin",
			AdminPassword: "admin",
			AdminRealm:    "master",
			AdminClientID: "admin-cli",
			JWKSCacheTTL:  15 * time.Minute,
			RedirectURL:   "http://localhost:8000/auth/callback",
		},
		TMDB: TMDBConfig{
			BaseURL:   "https://api.themoviedb.org/3",
			Language:  "pl-PL",
			Region:    "PL",
			RateLimit: 40,
			Timeout:   10 * time.Second,
			CacheTTL:  time.Hour,
		},
		Storage: StorageConfig{
			StaticDir:       "static",
			MaxAvatarBytes:  5 * 1024 * 1024,
			CleanupInterval: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load 加载配置：默认值 -> 配置文件 -> 环境变量
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("加载默认配置失败: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("加载配置文件 %s 失败: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("加载环境变量失败: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	if cfg.IsProduction() && cfg.Server.AppSecret == defaultConfig().Server.AppSecret {
		fmt.Fprintln(os.Stderr, "【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{"server.cors_origins"}

// splitSliceFields 将逗号分隔的环境变量拆成切片
func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("设置 %s 失败: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"app_env":      "env",
	"port":         "server.port",
	"catalog_port": "server.catalog_port",
	"app_secret":   "server.app_secret",
	"public_url":   "server.public_url",
	"frontend_url": "server.frontend_url",
	"cors_origins": "server.cors_origins",
	"http_timeout": "server.timeout",

	"database_url": "database.url",
	"db_host":      "database.host",
	"db_port":      "database.port",
	"db_user":      "database.user",
	"db_password":  "database.password",
	"db_name":      "database.name",
	"db_sslmode":   "database.sslmode",

	"keycloak_server_url":      "keycloak.server_url",
	"keycloak_realm_name":      "keycloak.realm",
	"keycloak_client_id":       "keycloak.client_id",
	"keycloak_client_secret":   "keycloak.client_secret",
	"keycloak_admin":           "keycloak.admin_user",
	"keycloak_admin_password":  "keycloak.admin_password",
	"keycloak_admin_realm":     "keycloak.admin_realm",
	"keycloak_admin_client_id": "keycloak.admin_client_id",
	"keycloak_jwks_url":        "keycloak.jwks_url",
	"keycloak_jwks_cache_ttl":  "keycloak.jwks_cache_ttl",
	"keycloak_redirect_url":    "keycloak.redirect_url",

	"tmdb_base_url":     "tmdb.base_url",
	"tmdb_api_key":      "tmdb.api_key",
	"tmdb_api_key_file": "tmdb.api_key_file",
	"tmdb_token":        "tmdb.token",
	"tmdb_language":     "tmdb.language",
	"tmdb_region":       "tmdb.region",
	"tmdb_rate_limit":   "tmdb.rate_limit",
	"tmdb_timeout":      "tmdb.timeout",
	"tmdb_cache_ttl":    "tmdb.cache_ttl",

	"static_dir":              "storage.static_dir",
	"max_avatar_bytes":        "storage.max_avatar_bytes",
	"avatar_cleanup_interval": "storage.cleanup_interval",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

// envTransformFunc 环境变量名映射到配置路径，未知变量忽略
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
