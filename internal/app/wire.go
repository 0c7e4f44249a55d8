package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/tickreplay/internal/blob/s3"
	"github.com/alanyoungcy/tickreplay/internal/cache/redis"
	"github.com/alanyoungcy/tickreplay/internal/config"
	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/executor"
	"github.com/alanyoungcy/tickreplay/internal/instrumentation"
	"github.com/alanyoungcy/tickreplay/internal/notify"
	"github.com/alanyoungcy/tickreplay/internal/pipeline"
	"github.com/alanyoungcy/tickreplay/internal/server/handler"
	"github.com/alanyoungcy/tickreplay/internal/store/postgres"
	natslog "github.com/alanyoungcy/tickreplay/internal/stream/nats"
	"github.com/alanyoungcy/tickreplay/internal/tradelog"
)

// Dependencies bundles everything the modes need. Optional parts stay nil
// when their backend is not configured for the current mode.
type Dependencies struct {
	// Trade log
	Dial domain.TradeLogDialer

	// Redis
	Locks       domain.LockManager
	Books       domain.BookCache
	RateLimiter domain.RateLimiter

	// Stores
	Sessions domain.SessionStore
	Chunks   domain.ChunkStore
	Audit    domain.AuditStore

	// Blob storage
	Archive  handler.ArchiveSource
	Archiver *pipeline.Archiver

	Notifier *notify.Notifier
	Registry *prometheus.Registry
	Metrics  *instrumentation.Metrics
	Health   map[string]handler.HealthCheck
}

// archiveSource joins the object store with the archive key layout.
type archiveSource struct {
	*s3blob.ObjectStore
	*s3blob.ChunkArchiver
}

// needsRedis mirrors the config validation: the redis backend and the live
// ingestor (lock, book cache) need a connection.
func needsRedis(cfg *config.Config) bool {
	return cfg.Stream.Backend == "redis" || cfg.Mode == "ingest" || cfg.Mode == "full"
}

// Wire constructs the concrete dependencies for cfg and returns them with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: map[string]handler.HealthCheck{}}

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = instrumentation.NewMetrics(deps.Registry)

	// --- Redis ---
	redisCfg := redis.ClientConfig{
		Addr:        cfg.Redis.Addr,
		Username:    cfg.Redis.Username,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
		TLSEnabled:  cfg.Redis.TLSEnabled,
	}
	if needsRedis(cfg) {
		redisClient, err := redis.New(ctx, redisCfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient, logger)
		deps.Books = redis.NewBookCache(redisClient, cfg.Feed.BookCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- Trade log ---
	switch cfg.Stream.Backend {
	case "nats":
		deps.Dial = natslog.NewTradeLogDialer(natslog.Config{
			URL:            cfg.NATS.URL,
			User:           cfg.NATS.User,
			Password:       cfg.NATS.Password,
			Token:          cfg.NATS.Token,
			Stream:         cfg.NATS.Stream,
			Subject:        cfg.NATS.Subject,
			Bucket:         cfg.NATS.Bucket,
			Replicas:       cfg.NATS.Replicas,
			ConnectTimeout: cfg.NATS.ConnectTimeout.Duration,
			FetchWait:      cfg.NATS.FetchWait.Duration,
		})
	default:
		deps.Dial = redis.NewTradeLogDialer(redisCfg, redis.TradeLogConfig{
			Stream: cfg.Stream.Name,
			MaxLen: cfg.Stream.MaxLen,
			Block:  cfg.Stream.Block.Duration,
		})
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
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
		deps.Sessions = postgres.NewSessionStore(pool)
		deps.Chunks = postgres.NewChunkStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	}

	// --- S3 chunk archive ---
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

		objects := s3blob.NewObjectStore(s3Client)
		chunkArchiver := s3blob.NewChunkArchiver(objects, deps.Audit, cfg.S3.Prefix)
		deps.Archive = archiveSource{ObjectStore: objects, ChunkArchiver: chunkArchiver}
		if deps.Sessions != nil && deps.Chunks != nil {
			deps.Archiver = pipeline.NewArchiver(chunkArchiver, deps.Sessions, deps.Chunks, logger)
		}
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// backoffConfig converts the stream section to the reconnect policy.
func backoffConfig(s config.StreamConfig) tradelog.BackoffConfig {
	return tradelog.BackoffConfig{
		Initial:     s.BackoffInitial.Duration,
		Max:         s.BackoffMax.Duration,
		MaxAttempts: s.BackoffAttempts,
	}
}

// pipelineConfig converts the trading section. The session's own
// TradingConfig is filled in per session.
func pipelineConfig(t config.TradingConfig) (pipeline.Config, error) {
	var (
		vals = make(map[string]decimal.Decimal, 4)
		errs []string
	)
	for name, raw := range map[string]string{
		"starting_currency": t.StartingCurrency,
		"starting_coin":     t.StartingCoin,
		"buy_amount":        t.BuyAmount,
		"sell_amount":       t.SellAmount,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		vals[name] = d
	}
	if len(errs) > 0 {
		return pipeline.Config{}, fmt.Errorf("app: trading config: %s", strings.Join(errs, "; "))
	}
	return pipeline.Config{
		WindowSize:       t.WindowSize,
		MaxGap:           t.MaxGap.Duration,
		StartingCurrency: vals["starting_currency"],
		StartingCoin:     vals["starting_coin"],
		Simulator: executor.SimulatorConfig{
			BuyAmount:  vals["buy_amount"],
			SellAmount: vals["sell_amount"],
		},
	}, nil
}
