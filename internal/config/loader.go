package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LADDER_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is
// empty. The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LADDER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Terminal ──
	setStr(&cfg.Terminal.RestHost, "LADDER_TERMINAL_REST_HOST")
	setStr(&cfg.Terminal.WsHost, "LADDER_TERMINAL_WS_HOST")
	setStr(&cfg.Terminal.ApiKey, "LADDER_TERMINAL_API_KEY")
	setStr(&cfg.Terminal.ApiSecret, "LADDER_TERMINAL_API_SECRET")
	setStr(&cfg.Terminal.Token, "LADDER_TERMINAL_TOKEN")
	setStr(&cfg.Terminal.Portfolio, "LADDER_TERMINAL_PORTFOLIO")
	setDuration(&cfg.Terminal.RequestTimeout, "LADDER_TERMINAL_REQUEST_TIMEOUT")
	setDuration(&cfg.Terminal.PriceMaxAge, "LADDER_TERMINAL_PRICE_MAX_AGE")

	// ── Ladder ──
	setInt(&cfg.Ladder.BufferRows, "LADDER_LADDER_BUFFER_ROWS")
	setInt(&cfg.Ladder.DefaultDepth, "LADDER_LADDER_DEFAULT_DEPTH")
	setInt(&cfg.Ladder.DefaultVisibleRows, "LADDER_LADDER_DEFAULT_VISIBLE_ROWS")
	setStr(&cfg.Ladder.MouseScheme, "LADDER_LADDER_MOUSE_SCHEME")

	// ── Orders ──
	setInt(&cfg.Orders.PerWindow, "LADDER_ORDERS_PER_WINDOW")
	setDuration(&cfg.Orders.Window, "LADDER_ORDERS_WINDOW")
	setDuration(&cfg.Orders.DedupWindow, "LADDER_ORDERS_DEDUP_WINDOW")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "LADDER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "LADDER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LADDER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LADDER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LADDER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LADDER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LADDER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LADDER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LADDER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LADDER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LADDER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LADDER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LADDER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LADDER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LADDER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LADDER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LADDER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LADDER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "LADDER_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LADDER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LADDER_S3_REGION")
	setStr(&cfg.S3.Bucket, "LADDER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LADDER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LADDER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LADDER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LADDER_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "LADDER_S3_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "LADDER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "LADDER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "LADDER_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "LADDER_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setInt(&cfg.Server.Port, "LADDER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LADDER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIToken, "LADDER_SERVER_API_TOKEN")
	setInt(&cfg.Server.RateLimit, "LADDER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LADDER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LADDER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LADDER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LADDER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LADDER_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "LADDER_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "LADDER_METRICS_PATH")

	// ── Top-level ──
	setStr(&cfg.Mode, "LADDER_MODE")
	setStr(&cfg.LogLevel, "LADDER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
