// Package config defines the top-level configuration for the ladder daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LADDER_* environment variables.
type Config struct {
	Terminal TerminalConfig `toml:"terminal"`
	Ladder   LadderConfig   `toml:"ladder"`
	Orders   OrdersConfig   `toml:"orders"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// TerminalConfig holds the trading terminal endpoints and API credentials.
type TerminalConfig struct {
	RestHost       string   `toml:"rest_host"`
	WsHost         string   `toml:"ws_host"`
	ApiKey         string   `toml:"api_key"`
	ApiSecret      string   `toml:"api_secret"`
	Token          string   `toml:"token"`
	Portfolio      string   `toml:"portfolio"`
	RequestTimeout duration `toml:"request_timeout"`
	PriceMaxAge    duration `toml:"price_max_age"`
	InstrumentTTL  duration `toml:"instrument_ttl"`
	SnapshotTTL    duration `toml:"snapshot_ttl"`
}

// LadderConfig holds widget defaults.
type LadderConfig struct {
	BufferRows         int    `toml:"buffer_rows"`
	DefaultDepth       int    `toml:"default_depth"`
	DefaultVisibleRows int    `toml:"default_visible_rows"`
	MouseScheme        string `toml:"mouse_scheme"`
}

// OrdersConfig bounds order flow per portfolio.
type OrdersConfig struct {
	PerWindow   int      `toml:"per_window"`
	Window      duration `toml:"window"`
	DedupWindow duration `toml:"dedup_window"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig controls moving old audit rows to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
}

// Retention returns RetentionDays as a duration.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIToken    string   `toml:"api_token"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Terminal: TerminalConfig{
			RestHost:       "https://api.example-broker.ru",
			WsHost:         "wss://api.example-broker.ru/ws",
			RequestTimeout: duration{10 * time.Second},
			PriceMaxAge:    duration{time.Minute},
			InstrumentTTL:  duration{12 * time.Hour},
			SnapshotTTL:    duration{time.Minute},
		},
		Ladder: LadderConfig{
			BufferRows:         50,
			DefaultDepth:       10,
			DefaultVisibleRows: 100,
			MouseScheme:        "scheme1",
		},
		Orders: OrdersConfig{
			PerWindow:   10,
			Window:      duration{time.Second},
			DedupWindow: duration{300 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "ladder",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "ladder:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ladder-audit",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{6 * time.Hour},
			BatchSize:     5000,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   600,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"order_failed", "feed_disconnected", "archive_failed"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"headless": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validMouseSchemes = map[string]bool{
	"scheme1": true,
	"scheme2": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, headless)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Terminal
	if c.Terminal.RestHost == "" {
		errs = append(errs, "terminal: rest_host must not be empty")
	}
	if c.Terminal.WsHost == "" {
		errs = append(errs, "terminal: ws_host must not be empty")
	}
	if (c.Terminal.ApiKey == "") != (c.Terminal.ApiSecret == "") {
		errs = append(errs, "terminal: api_key and api_secret must be set together")
	}
	if c.Terminal.RequestTimeout.Duration <= 0 {
		errs = append(errs, "terminal: request_timeout must be > 0")
	}

	// Ladder
	if c.Ladder.BufferRows < 1 {
		errs = append(errs, "ladder: buffer_rows must be >= 1")
	}
	if c.Ladder.DefaultDepth < 1 || c.Ladder.DefaultDepth > 50 {
		errs = append(errs, fmt.Sprintf("ladder: default_depth must be 1-50, got %d", c.Ladder.DefaultDepth))
	}
	if c.Ladder.DefaultVisibleRows < 1 {
		errs = append(errs, "ladder: default_visible_rows must be >= 1")
	}
	if !validMouseSchemes[c.Ladder.MouseScheme] {
		errs = append(errs, fmt.Sprintf("ladder: unknown mouse_scheme %q (valid: scheme1, scheme2)", c.Ladder.MouseScheme))
	}

	// Orders
	if c.Orders.PerWindow < 0 {
		errs = append(errs, "orders: per_window must be >= 0")
	}
	if c.Orders.PerWindow > 0 && c.Orders.Window.Duration <= 0 {
		errs = append(errs, "orders: window must be > 0 when per_window is set")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive needs the audit table, object storage and the lock.
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if !c.Redis.Enabled {
			errs = append(errs, "archive: requires redis.enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if strings.ToLower(c.Mode) == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics: path must start with /, got %q", c.Metrics.Path))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
