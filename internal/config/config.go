package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Gateway   GatewayConfig
	Storage   StorageConfig
	Cache     CacheConfig
	Templates TemplatesConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type GatewayConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Retries  int
	CacheTTL time.Duration
	// Session is the backend session token saved by `folio login`.
	Session string
}

type StorageConfig struct {
	DataDir string
}

// Cache backends for the local template preference cache.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheDir    = "dir"
)

type CacheConfig struct {
	Backend string
}

type TemplatesConfig struct {
	Default string
}

type LogConfig struct {
	Level string
}

// SlogLevel maps Level onto slog, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Gateway: GatewayConfig{
			BaseURL:  "http://localhost:5000",
			Timeout:  10 * time.Second,
			Retries:  3,
			CacheTTL: 30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			Backend: CacheSQLite,
		},
		Templates: TemplatesConfig{
			Default: "default",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/folio/config.yaml, then applies FOLIO_* environment
// overrides. The gateway session comes from FOLIO_GATEWAY_SESSION or the
// secrets file written by `folio login`.
func Load() (Config, error) {
	return loadWith(openConfigFile(configFilePath()), fileSecrets{path: secretsFilePath()})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b keyStore, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Gateway.Session == "" {
		if token, err := secrets.Get(secretService, sessionAccount); err == nil && token != "" {
			cfg.Gateway.Session = token
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Cache.Backend {
	case CacheMemory, CacheSQLite, CacheDir:
	default:
		return fmt.Errorf("invalid cache.backend %q: want %s, %s or %s", c.Cache.Backend, CacheMemory, CacheSQLite, CacheDir)
	}
	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		return fmt.Errorf("missing required config: gateway.base_url. Set it via FOLIO_GATEWAY_BASE_URL or `folio config set gateway.base_url <url>`")
	}
	if c.Gateway.Retries < 1 {
		return fmt.Errorf("invalid gateway.retries %d: must be at least 1", c.Gateway.Retries)
	}
	return nil
}
