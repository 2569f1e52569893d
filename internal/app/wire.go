package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/scalperladder/internal/blob/s3"
	"github.com/alanyoungcy/scalperladder/internal/cache/redis"
	"github.com/alanyoungcy/scalperladder/internal/config"
	"github.com/alanyoungcy/scalperladder/internal/crypto"
	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/metrics"
	"github.com/alanyoungcy/scalperladder/internal/notify"
	"github.com/alanyoungcy/scalperladder/internal/platform/terminal"
	"github.com/alanyoungcy/scalperladder/internal/server/handler"
	"github.com/alanyoungcy/scalperladder/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function. Fields
// backed by an optional service are nil when that service is disabled.
type Dependencies struct {
	// Terminal
	Terminal *terminal.Client
	Feed     *terminal.WSClient

	// Stores
	AuditStore    domain.AuditStore
	SettingsStore domain.SettingsStore

	// Caches
	BookCache       domain.BookCache
	PriceCache      domain.PriceCache
	InstrumentCache domain.InstrumentCache
	RateLimiter     domain.RateLimiter
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus

	// Blob storage
	Archiver *s3blob.AuditArchiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks by dependency name.
	Checks map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.SettingsStore = postgres.NewSettingsStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewBookCache(redisClient, cfg.Terminal.SnapshotTTL.Duration)
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Terminal.PriceMaxAge.Duration)
		deps.InstrumentCache = redis.NewInstrumentCache(redisClient, cfg.Terminal.InstrumentTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, logger)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- S3 audit archive (needs the audit table and the lock) ---
	if cfg.Archive.Enabled && deps.AuditStore != nil && deps.LockManager != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewAuditArchiver(
			deps.AuditStore,
			s3blob.NewWriter(s3Client),
			s3blob.NewStat(s3Client),
			deps.LockManager,
			cfg.Archive.BatchSize,
			logger,
		).WithNotifier(deps.Notifier)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Trading terminal ---
	var auth *crypto.HMACAuth
	if cfg.Terminal.ApiKey != "" {
		auth = &crypto.HMACAuth{Key: cfg.Terminal.ApiKey, Secret: cfg.Terminal.ApiSecret}
	}
	deps.Terminal = terminal.NewClient(cfg.Terminal.RestHost, auth, cfg.Terminal.RequestTimeout.Duration)

	deps.Feed = terminal.NewWSClient(cfg.Terminal.WsHost, cfg.Terminal.Token, logger)
	notifier := deps.Notifier
	deps.Feed.OnDisconnect(func(err error) {
		// Hooks run on the read goroutine.
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if nerr := notifier.Notify(nctx, notify.EventFeedDisconnected, "Feed disconnected", err.Error()); nerr != nil {
				logger.Warn("notify failed", slog.String("error", nerr.Error()))
			}
		}()
	})
	deps.Feed.OnReconnect(func() {
		metrics.WSReconnectsTotal.Inc()
		logger.Info("terminal feed reconnected")
	})
	closers = append(closers, func() { _ = deps.Feed.Close() })

	return deps, cleanup, nil
}
