package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/sidewaysbot/internal/blob/s3"
	"github.com/alanyoungcy/sidewaysbot/internal/cache/redis"
	"github.com/alanyoungcy/sidewaysbot/internal/config"
	"github.com/alanyoungcy/sidewaysbot/internal/domain"
	"github.com/alanyoungcy/sidewaysbot/internal/notify"
	"github.com/alanyoungcy/sidewaysbot/internal/server/handler"
	"github.com/alanyoungcy/sidewaysbot/internal/store/postgres"
	"github.com/alanyoungcy/sidewaysbot/internal/stream/kafka"
)

// Dependencies bundles the adapters built from configuration. Optional
// adapters are nil interfaces when their backend is disabled.
type Dependencies struct {
	SignalStore domain.SignalStore
	AuditStore  domain.AuditStore

	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	SignalProducer domain.PersistenceSink
	Archive        domain.Archiver

	Notifier *notify.Notifier

	// Pingers feed the health endpoint.
	Pingers map[string]handler.Pinger
}

// Sinks returns the configured persistence sinks.
func (d *Dependencies) Sinks() []domain.PersistenceSink {
	var out []domain.PersistenceSink
	if d.SignalStore != nil {
		out = append(out, d.SignalStore)
	}
	if d.SignalProducer != nil {
		out = append(out, d.SignalProducer)
	}
	return out
}

// Wire builds every adapter. A backend that is enabled but unreachable is a
// startup error.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Pingers: map[string]handler.Pinger{}}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.SignalStore = postgres.NewSignalStore(pg.Pool())
		deps.AuditStore = postgres.NewAuditStore(pg.Pool())
		deps.Pingers["postgres"] = pg
	}

	rc, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = rc.Close() })
	deps.PriceCache = redis.NewPriceCache(rc, cfg.Redis.PriceTTL.Duration)
	deps.BookCache = redis.NewOrderbookCache(rc, cfg.Redis.BookTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(rc)
	deps.LockManager = redis.NewLockManager(rc)
	deps.SignalBus = redis.NewSignalBus(rc, cfg.Patterns.PollInterval.Duration)
	deps.Pingers["redis"] = rc

	if cfg.Kafka.Enabled {
		producer := kafka.NewSignalProducer(cfg.Kafka.Brokers, cfg.Kafka.SignalsTopic)
		closers = append(closers, func() { _ = producer.Close() })
		deps.SignalProducer = producer
	}

	if cfg.Archive.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archive = s3blob.NewClosedArchive(s3blob.NewWriter(sc), cfg.Archive.Prefix)
		deps.Pingers["s3"] = sc
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, "")
		if err != nil {
			logger.WarnContext(ctx, "telegram disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
