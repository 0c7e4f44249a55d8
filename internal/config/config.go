// Package config defines the tickreplay configuration and its validation.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// Config is the root configuration. Fields come from Defaults, then a TOML
// file, then TICKREPLAY_* environment variables.
type Config struct {
	Redis    RedisConfig    `toml:"redis" envPrefix:"REDIS_"`
	NATS     NATSConfig     `toml:"nats" envPrefix:"NATS_"`
	Postgres PostgresConfig `toml:"postgres" envPrefix:"POSTGRES_"`
	S3       S3Config       `toml:"s3" envPrefix:"S3_"`
	Stream   StreamConfig   `toml:"stream" envPrefix:"STREAM_"`
	Trading  TradingConfig  `toml:"trading" envPrefix:"TRADING_"`
	Feed     FeedConfig     `toml:"feed" envPrefix:"FEED_"`
	Server   ServerConfig   `toml:"server" envPrefix:"SERVER_"`
	Notify   NotifyConfig   `toml:"notify" envPrefix:"NOTIFY_"`
	Backtest BacktestConfig `toml:"backtest" envPrefix:"BACKTEST_"`
	Mode     string         `toml:"mode" env:"MODE"`
	LogLevel string         `toml:"log_level" env:"LOG_LEVEL"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr        string   `toml:"addr" env:"ADDR"`
	Username    string   `toml:"username" env:"USERNAME"`
	Password    string   `toml:"password" env:"PASSWORD"`
	DB          int      `toml:"db" env:"DB"`
	PoolSize    int      `toml:"pool_size" env:"POOL_SIZE"`
	MaxRetries  int      `toml:"max_retries" env:"MAX_RETRIES"`
	TLSEnabled  bool     `toml:"tls_enabled" env:"TLS_ENABLED"`
	DialTimeout duration `toml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// NATSConfig holds JetStream parameters for the nats stream backend.
type NATSConfig struct {
	URL            string   `toml:"url" env:"URL"`
	User           string   `toml:"user" env:"USER"`
	Password       string   `toml:"password" env:"PASSWORD"`
	Token          string   `toml:"token" env:"TOKEN"`
	Stream         string   `toml:"stream" env:"STREAM"`
	Subject        string   `toml:"subject" env:"SUBJECT"`
	Bucket         string   `toml:"bucket" env:"BUCKET"`
	Replicas       int      `toml:"replicas" env:"REPLICAS"`
	ConnectTimeout duration `toml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	FetchWait      duration `toml:"fetch_wait" env:"FETCH_WAIT"`
}

// PostgresConfig holds PostgreSQL connection parameters. With Enabled false
// sessions and chunks are not persisted.
type PostgresConfig struct {
	Enabled        bool     `toml:"enabled" env:"ENABLED"`
	DSN            string   `toml:"dsn" env:"DSN"`
	Host           string   `toml:"host" env:"HOST"`
	Port           int      `toml:"port" env:"PORT"`
	Database       string   `toml:"database" env:"DATABASE"`
	User           string   `toml:"user" env:"USER"`
	Password       string   `toml:"password" env:"PASSWORD"`
	SSLMode        string   `toml:"ssl_mode" env:"SSL_MODE"`
	PoolMaxConns   int      `toml:"pool_max_conns" env:"POOL_MAX_CONNS"`
	PoolMinConns   int      `toml:"pool_min_conns" env:"POOL_MIN_CONNS"`
	RunMigrations  bool     `toml:"run_migrations" env:"RUN_MIGRATIONS"`
	ConnectTimeout duration `toml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// S3Config holds object storage parameters for the chunk archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled" env:"ENABLED"`
	Endpoint       string `toml:"endpoint" env:"ENDPOINT"`
	Region         string `toml:"region" env:"REGION"`
	Bucket         string `toml:"bucket" env:"BUCKET"`
	AccessKey      string `toml:"access_key" env:"ACCESS_KEY"`
	SecretKey      string `toml:"secret_key" env:"SECRET_KEY"`
	UseSSL         bool   `toml:"use_ssl" env:"USE_SSL"`
	ForcePathStyle bool   `toml:"force_path_style" env:"FORCE_PATH_STYLE"`
	Prefix         string `toml:"prefix" env:"PREFIX"`
}

// StreamConfig selects and tunes the durable trade log.
type StreamConfig struct {
	Backend      string   `toml:"backend" env:"BACKEND"`
	Name         string   `toml:"name" env:"NAME"`
	Group        string   `toml:"group" env:"GROUP"`
	MaxLen       int64    `toml:"max_len" env:"MAX_LEN"`
	BatchSize    int      `toml:"batch_size" env:"BATCH_SIZE"`
	Block        duration `toml:"block" env:"BLOCK"`
	SendAttempts int      `toml:"send_attempts" env:"SEND_ATTEMPTS"`
	AsyncQueue   int      `toml:"async_queue" env:"ASYNC_QUEUE"`
	CloseTimeout duration `toml:"close_timeout" env:"CLOSE_TIMEOUT"`

	BackoffInitial  duration `toml:"backoff_initial" env:"BACKOFF_INITIAL"`
	BackoffMax      duration `toml:"backoff_max" env:"BACKOFF_MAX"`
	BackoffAttempts int      `toml:"backoff_attempts" env:"BACKOFF_ATTEMPTS"`
}

// TradingConfig holds the replay engine constants. Money values are decimal
// strings.
type TradingConfig struct {
	WindowSize       int      `toml:"window_size" env:"WINDOW_SIZE"`
	MaxGap           duration `toml:"max_gap" env:"MAX_GAP"`
	StartingCurrency string   `toml:"starting_currency" env:"STARTING_CURRENCY"`
	StartingCoin     string   `toml:"starting_coin" env:"STARTING_COIN"`
	BuyAmount        string   `toml:"buy_amount" env:"BUY_AMOUNT"`
	SellAmount       string   `toml:"sell_amount" env:"SELL_AMOUNT"`
}

// FeedConfig configures live ingestion from the exchange websocket.
type FeedConfig struct {
	URL            string   `toml:"url" env:"URL"`
	Pair           string   `toml:"pair" env:"PAIR"`
	BookDepth      int      `toml:"book_depth" env:"BOOK_DEPTH"`
	ReconnectDelay duration `toml:"reconnect_delay" env:"RECONNECT_DELAY"`
	LockKey        string   `toml:"lock_key" env:"LOCK_KEY"`
	LockTTL        duration `toml:"lock_ttl" env:"LOCK_TTL"`
	BookCacheTTL   duration `toml:"book_cache_ttl" env:"BOOK_CACHE_TTL"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port" env:"PORT"`
	CORSOrigins     []string `toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	RateLimit       int      `toml:"rate_limit" env:"RATE_LIMIT"`
	RateWindow      duration `toml:"rate_window" env:"RATE_WINDOW"`
	ArchiveCron     string   `toml:"archive_cron" env:"ARCHIVE_CRON"`
	ShutdownTimeout duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" env:"TELEGRAM_TOKEN"`
	TelegramChatID    string   `toml:"telegram_chat_id" env:"TELEGRAM_CHAT_ID"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" env:"DISCORD_WEBHOOK_URL"`
	Events            []string `toml:"events" env:"EVENTS" envSeparator:","`
}

// BacktestConfig is the session request replayed by backtest mode. Output is
// a file path for JSONL snapshots, "-" for stdout, or empty for none.
type BacktestConfig struct {
	SessionID         string `toml:"id" env:"ID"`
	Ups               int    `toml:"ups" env:"UPS"`
	Downs             int    `toml:"downs" env:"DOWNS"`
	UseBidVsAsk       bool   `toml:"use_avg_bid_vs_avg_ask" env:"USE_AVG_BID_VS_AVG_ASK"`
	UseShortVsLongMA  bool   `toml:"use_short_vs_long_mov_avg" env:"USE_SHORT_VS_LONG_MOV_AVG"`
	UseSumUpVsDown    bool   `toml:"use_sum_amt_up_vs_down" env:"USE_SUM_AMT_UP_VS_DOWN"`
	UseCloserToAskBid bool   `toml:"use_trade_price_closer_to_ask_vs_buy" env:"USE_TRADE_PRICE_CLOSER_TO_ASK_VS_BUY"`
	Output            string `toml:"output" env:"OUTPUT"`
}

// TradingRequest converts the backtest section to a session config.
func (b BacktestConfig) TradingRequest() domain.TradingConfig {
	return domain.TradingConfig{
		SessionID:         b.SessionID,
		Ups:               b.Ups,
		Downs:             b.Downs,
		UseBidVsAsk:       b.UseBidVsAsk,
		UseShortVsLongMA:  b.UseShortVsLongMA,
		UseSumUpVsDown:    b.UseSumUpVsDown,
		UseCloserToAskBid: b.UseCloserToAskBid,
	}
}

// duration wraps time.Duration so TOML and env values like "5m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration that files and env override.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Stream:         "TRADES",
			Subject:        "trades.btcusd",
			Bucket:         "tickreplay_offsets",
			Replicas:       1,
			ConnectTimeout: duration{5 * time.Second},
			FetchWait:      duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "tickreplay",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			RunMigrations:  true,
			ConnectTimeout: duration{10 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tickreplay",
			ForcePathStyle: true,
			Prefix:         "archive",
		},
		Stream: StreamConfig{
			Backend:         "redis",
			Name:            "trades",
			Group:           "tickreplay",
			MaxLen:          1_000_000,
			BatchSize:       100,
			Block:           duration{time.Second},
			SendAttempts:    3,
			AsyncQueue:      256,
			CloseTimeout:    duration{5 * time.Second},
			BackoffInitial:  duration{time.Second},
			BackoffMax:      duration{30 * time.Second},
			BackoffAttempts: 10,
		},
		Trading: TradingConfig{
			WindowSize:       20,
			MaxGap:           duration{time.Hour},
			StartingCurrency: "1000",
			StartingCoin:     "1",
			BuyAmount:        "0.01",
			SellAmount:       "0.01",
		},
		Feed: FeedConfig{
			URL:            "wss://ws.bitstamp.net",
			Pair:           "btcusd",
			BookDepth:      10,
			ReconnectDelay: duration{5 * time.Second},
			LockKey:        "lock:ingest",
			LockTTL:        duration{15 * time.Second},
			BookCacheTTL:   duration{time.Minute},
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ArchiveCron:     "0 3 * * *",
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"chunk_completed", "transport_stopped", "session_failed"},
		},
		Backtest: BacktestConfig{
			Downs:  3,
			Output: "-",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"ingest":   true,
	"server":   true,
	"backtest": true,
	"full":     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"redis": true,
	"nats":  true,
}

// Validate checks Config and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, server, backtest, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Stream
	if !validBackends[c.Stream.Backend] {
		errs = append(errs, fmt.Sprintf("stream: unknown backend %q (valid: redis, nats)", c.Stream.Backend))
	}
	if c.Stream.Name == "" {
		errs = append(errs, "stream: name must not be empty")
	}
	if c.Stream.BatchSize < 1 {
		errs = append(errs, "stream: batch_size must be >= 1")
	}
	if c.Stream.SendAttempts < 1 {
		errs = append(errs, "stream: send_attempts must be >= 1")
	}
	if c.Stream.BackoffInitial.Duration <= 0 || c.Stream.BackoffMax.Duration < c.Stream.BackoffInitial.Duration {
		errs = append(errs, "stream: backoff_initial must be > 0 and not exceed backoff_max")
	}
	if c.Stream.BackoffAttempts < 1 {
		errs = append(errs, "stream: backoff_attempts must be >= 1")
	}

	if c.Stream.Backend == "redis" || c.Mode == "ingest" || c.Mode == "full" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Stream.Backend == "nats" {
		if c.NATS.URL == "" {
			errs = append(errs, "nats: url must not be empty")
		}
		if c.NATS.Stream == "" || c.NATS.Subject == "" || c.NATS.Bucket == "" {
			errs = append(errs, "nats: stream, subject and bucket must be set")
		}
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled")
		}
	}

	// Trading
	if c.Trading.WindowSize < 1 {
		errs = append(errs, "trading: window_size must be >= 1")
	}
	if c.Trading.MaxGap.Duration <= 0 {
		errs = append(errs, "trading: max_gap must be > 0")
	}
	for name, v := range map[string]string{
		"starting_currency": c.Trading.StartingCurrency,
		"starting_coin":     c.Trading.StartingCoin,
		"buy_amount":        c.Trading.BuyAmount,
		"sell_amount":       c.Trading.SellAmount,
	} {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			errs = append(errs, fmt.Sprintf("trading: %s must be a non-negative decimal, got %q", name, v))
		}
	}

	if c.Mode == "ingest" || c.Mode == "full" {
		if c.Feed.URL == "" || c.Feed.Pair == "" {
			errs = append(errs, "feed: url and pair must be set for mode "+c.Mode)
		}
		if c.Feed.LockTTL.Duration < time.Second {
			errs = append(errs, "feed: lock_ttl must be at least 1s")
		}
	}
	if c.Mode == "server" || c.Mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Mode == "backtest" && (c.Backtest.Ups < 0 || c.Backtest.Downs < 0) {
		errs = append(errs, "backtest: ups and downs must be >= 0")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
