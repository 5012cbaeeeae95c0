package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/goosemarket/marketd/internal/blob/s3"
	"github.com/goosemarket/marketd/internal/cache/redis"
	"github.com/goosemarket/marketd/internal/config"
	"github.com/goosemarket/marketd/internal/domain"
	"github.com/goosemarket/marketd/internal/notify"
	"github.com/goosemarket/marketd/internal/server/handler"
	"github.com/goosemarket/marketd/internal/store/memory"
	"github.com/goosemarket/marketd/internal/store/postgres"
)

// Dependencies bundles every backend the services need. Wire constructs
// them from config: PostgreSQL and Redis when configured, in-memory
// fallbacks otherwise, so a single binary serves both production and
// local development.
type Dependencies struct {
	Ledger   domain.Ledger
	Markets  domain.MarketStore
	Accounts domain.AccountStore
	Trades   domain.TradeStore
	Position domain.PositionStore
	Audit    domain.AuditStore

	PriceCache  domain.PriceCache
	MarketCache domain.MarketCache
	Ranking     domain.RankingIndex
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver and ArchiveReader are nil when no S3 bucket is
	// configured.
	Archiver      *s3blob.Archiver
	ArchiveReader *s3blob.Reader

	Notifier *notify.Notifier

	// HealthChecks ping the configured backends.
	HealthChecks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations and returns
// them with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.Check),
	}

	// --- Persistence: PostgreSQL, or the in-memory store for dev ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
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
		deps.Ledger = postgres.NewLedger(pool)
		deps.Markets = postgres.NewMarketStore(pool)
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Position = postgres.NewPositionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	} else {
		logger.Warn("wire: no postgres configured, using in-memory store")
		store := memory.NewStore()
		deps.Ledger = store
		deps.Markets = store
		deps.Accounts = store.Accounts()
		deps.Trades = store
		deps.Position = store.Positions()
		deps.Audit = store
	}

	// --- Cache and coordination: Redis, or in-memory fallbacks ---
	if cfg.Redis.Addr != "" {
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

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.Ranking = redis.NewRanking(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.Warn("wire: no redis configured, using in-memory coordination")
		deps.PriceCache = memory.NewPriceCache()
		deps.MarketCache = memory.NewMarketCache()
		deps.Ranking = memory.NewRanking()
		deps.RateLimiter = memory.NewLimiter()
		deps.LockManager = memory.NewLocker()
		deps.SignalBus = memory.NewBus()
	}

	// --- Settlement archive (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(writer, reader, deps.Audit)
		deps.ArchiveReader = reader
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Kinds, logger)

	return deps, cleanup, nil
}
