package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAdminSecret    = "HOLDROOM_ADMIN_SECRET"
	EnvTelegramToken  = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
	EnvDatabaseURL    = "DATABASE_URL"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Geo      GeoConfig      `yaml:"geo"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	WS       WSConfig       `yaml:"ws"`
	Register RegisterConfig `yaml:"register"`
	Bots     BotsConfig     `yaml:"bots"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AdminSecret    string   `yaml:"admin_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustProxy makes the server take the client address from
	// X-Forwarded-For.
	TrustProxy bool `yaml:"trust_proxy"`
}

type StorageConfig struct {
	Driver  string `yaml:"driver"` // memory or postgres
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type GeoConfig struct {
	Provider  string        `yaml:"provider"` // ipapi, mmdb or none
	Endpoint  string        `yaml:"endpoint"`
	MMDBPath  string        `yaml:"mmdb_path"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

type AlertsConfig struct {
	TelegramToken    string `yaml:"telegram_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	TelegramEndpoint string `yaml:"telegram_endpoint"`
	QueueSize        int    `yaml:"queue_size"`
	PerMinute        int    `yaml:"per_minute"`
}

type WSConfig struct {
	SendBuffer     int           `yaml:"send_buffer"`
	WriteWait      time.Duration `yaml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait"`
	PingPeriod     time.Duration `yaml:"ping_period"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

type RegisterConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type BotsConfig struct {
	ExtraPatterns []string `yaml:"extra_patterns"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8001,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Driver:  "memory",
			Migrate: true,
		},
		Geo: GeoConfig{
			Provider:  "ipapi",
			Endpoint:  "http://ip-api.com",
			Timeout:   4 * time.Second,
			CacheTTL:  time.Hour,
			CacheSize: 10000,
		},
		Alerts: AlertsConfig{
			TelegramEndpoint: "https://api.telegram.org",
			QueueSize:        100,
			PerMinute:        20,
		},
		WS: WSConfig{
			SendBuffer:     64,
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			PingPeriod:     54 * time.Second,
			MaxMessageSize: 4096,
		},
		Register: RegisterConfig{
			RatePerSecond: 1,
			Burst:         5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = defaultConfig()
		cfg.applyEnv(os.Getenv)
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvAdminSecret); v != "" {
		c.Server.AdminSecret = v
	}
	if v := getenv(EnvTelegramToken); v != "" {
		c.Alerts.TelegramToken = v
	}
	if v := getenv(EnvTelegramChatID); v != "" {
		c.Alerts.TelegramChatID = v
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		c.Storage.DSN = v
		if c.Storage.Driver == "memory" {
			c.Storage.Driver = "postgres"
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.AdminSecret == "" {
		problems = append(problems, fmt.Sprintf("server.admin_secret is required (or set %s)", EnvAdminSecret))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			problems = append(problems, fmt.Sprintf("storage.dsn is required for postgres (or set %s)", EnvDatabaseURL))
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q is not memory or postgres", c.Storage.Driver))
	}

	switch c.Geo.Provider {
	case "ipapi", "none":
	case "mmdb":
		if c.Geo.MMDBPath == "" {
			problems = append(problems, "geo.mmdb_path is required for the mmdb provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("geo.provider %q is not ipapi, mmdb or none", c.Geo.Provider))
	}

	if c.Register.RatePerSecond <= 0 || c.Register.Burst <= 0 {
		problems = append(problems, "register.rate_per_second and register.burst must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GenerateToken returns a random 32-character hex secret.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
