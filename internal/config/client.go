package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed client.example.toml
var clientExample []byte

// ClientConfig 终端客户端配置
type ClientConfig struct {
	API      ClientAPIConfig      `toml:"api"`
	Catalog  ClientCatalogConfig  `toml:"catalog"`
	Keycloak ClientKeycloakConfig `toml:"keycloak"`
}

// ClientAPIConfig 后端 API
type ClientAPIConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// ClientCatalogConfig TMDB 代理
type ClientCatalogConfig struct {
	URL    string `toml:"url"`
	Region string `toml:"region"`
}

// ClientKeycloakConfig 身份提供方
type ClientKeycloakConfig struct {
	URL      string `toml:"url"`
	Realm    string `toml:"realm"`
	ClientID string `toml:"client_id"`
}

// Duration 可从 "30s" 这类字符串解析的时长
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// 客户端环境变量
const (
	EnvClientConfig     = "STREAMTRACK_CONFIG"
	EnvClientAPIURL     = "STREAMTRACK_API_URL"
	EnvClientCatalogURL = "STREAMTRACK_CATALOG_URL"
	EnvClientRegion     = "STREAMTRACK_REGION"
	EnvClientKeycloak   = "STREAMTRACK_KEYCLOAK_URL"
	EnvClientRealm      = "STREAMTRACK_KEYCLOAK_REALM"
	EnvClientID         = "STREAMTRACK_KEYCLOAK_CLIENT_ID"
)

// DefaultClientConfig 内置默认配置
func DefaultClientConfig() *ClientConfig {
	var cfg ClientConfig
	if err := toml.Unmarshal(clientExample, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded client config: %v", err))
	}
	return &cfg
}

// ClientDir 客户端配置目录，遵循 XDG_CONFIG_HOME
func ClientDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "streamtrack"), nil
}

// ClientConfigPath 配置文件路径，STREAMTRACK_CONFIG 优先
func ClientConfigPath() (string, error) {
	if p := os.Getenv(EnvClientConfig); p != "" {
		return p, nil
	}
	dir, err := ClientDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LoadClientConfig 默认值 → 配置文件（不存在时跳过）→ 环境变量
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) applyEnv() {
	for env, field := range map[string]*string{
		EnvClientAPIURL:     &c.API.URL,
		EnvClientCatalogURL: &c.Catalog.URL,
		EnvClientRegion:     &c.Catalog.Region,
		EnvClientKeycloak:   &c.Keycloak.URL,
		EnvClientRealm:      &c.Keycloak.Realm,
		EnvClientID:         &c.Keycloak.ClientID,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*field = v
		}
	}
}

// Validate 检查必填地址
func (c *ClientConfig) Validate() error {
	var missing []string
	if c.API.URL == "" {
		missing = append(missing, "api.url")
	}
	if c.Catalog.URL == "" {
		missing = append(missing, "catalog.url")
	}
	if c.Keycloak.URL == "" || c.Keycloak.Realm == "" || c.Keycloak.ClientID == "" {
		missing = append(missing, "keycloak")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid client config: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Save 写入配置文件
func (c *ClientConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}
