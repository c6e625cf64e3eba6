package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/will87p/betpool/internal/blob/s3"
	"github.com/will87p/betpool/internal/cache/redis"
	"github.com/will87p/betpool/internal/config"
	"github.com/will87p/betpool/internal/domain"
	"github.com/will87p/betpool/internal/identity"
	"github.com/will87p/betpool/internal/notify"
	"github.com/will87p/betpool/internal/store/memory"
	"github.com/will87p/betpool/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the serve loop needs. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Store is PostgreSQL in serve mode and in-memory in dev mode.
	Store domain.LedgerStore

	// PG is set only in serve mode, for health checks.
	PG *postgres.Client

	// Redis-backed infrastructure; nil when Redis is disabled.
	Bus         domain.EventBus
	Cache       domain.MarketCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Images is nil when S3 is disabled; image endpoints are not registered
	// in that case.
	Images domain.ImageStore

	// Notifier always exists; with no senders configured it is a no-op.
	Notifier *notify.Notifier
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

	deps := &Dependencies{}

	// --- Ledger store ---
	if strings.ToLower(cfg.Mode) == "serve" {
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

		deps.PG = pgClient
		deps.Store = postgres.NewLedgerStore(pgClient.Pool())
	} else {
		deps.Store = memory.New()
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
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewEventBus(redisClient)
		deps.Cache = redis.NewMarketCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 image storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Images = s3blob.NewImageStore(s3Client)
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

	return deps, cleanup, nil
}

// apiKeyTable normalizes the configured API key credentials into the map the
// identity middleware consumes.
func apiKeyTable(keys []config.APIKeyConfig) (map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		addr, err := identity.NormalizeAddress(k.Address)
		if err != nil {
			return nil, fmt.Errorf("wire: api key for %q: %w", k.Address, err)
		}
		out[addr] = k.KeyHash
	}
	return out, nil
}
