package domain

import (
	"context"
	"time"
)

// LogRecord is one entry read back from the durable trade log. Offset is
// opaque and backend specific; reading "after" it resumes at the next entry.
type LogRecord struct {
	Offset string
	Key    string
	Value  []byte
}

// TradeLog is a single-partition durable log client. Implementations are not
// required to be safe for concurrent use; each producer and consumer owns
// its own client.
type TradeLog interface {
	// Append writes value under key and returns the new record's offset.
	Append(ctx context.Context, key string, value []byte) (string, error)
	// Read returns up to max records strictly after the given offset. An
	// empty offset reads from the beginning. It may block for a backend
	// defined poll interval and returns an empty slice when nothing arrived.
	Read(ctx context.Context, after string, max int) ([]LogRecord, error)
	// Commit stores offset as the last processed position of group.
	Commit(ctx context.Context, group, offset string) error
	// Committed returns the last committed offset of group, or ErrNotFound.
	Committed(ctx context.Context, group string) (string, error)
	Close() error
}

// TradeLogDialer constructs a fresh TradeLog client.
type TradeLogDialer func(ctx context.Context) (TradeLog, error)

// Lock is a held distributed lock. It is renewed in the background until
// Release; Lost is closed if renewal fails and another holder may take over.
type Lock interface {
	Lost() <-chan struct{}
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// RateLimiter provides sliding-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BookCache keeps the latest order book per trading pair so that it can be
// inspected outside the ingestor process.
type BookCache interface {
	SetLatest(ctx context.Context, pair string, book OrderBookSnapshot, at time.Time) error
	GetLatest(ctx context.Context, pair string) (OrderBookSnapshot, time.Time, error)
}
