package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// TradeLogConfig names the stream and tunes reads.
type TradeLogConfig struct {
	Stream string
	// MaxLen trims the stream approximately on every append. 0 keeps
	// everything, which replay from the beginning relies on.
	MaxLen int64
	// Block is how long a read waits for new entries.
	Block time.Duration
}

// TradeLog implements domain.TradeLog with a Redis stream. Each entry carries
// the record key and JSON payload; stream IDs are the offsets. Committed
// offsets are plain string keys.
type TradeLog struct {
	client *Client
	rdb    *redis.Client
	cfg    TradeLogConfig
}

// NewTradeLog creates a TradeLog that owns c; closing the log closes c.
func NewTradeLog(c *Client, cfg TradeLogConfig) *TradeLog {
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &TradeLog{client: c, rdb: c.Underlying(), cfg: cfg}
}

// NewTradeLogDialer returns a dialer that opens a new connection per client.
func NewTradeLogDialer(clientCfg ClientConfig, logCfg TradeLogConfig) domain.TradeLogDialer {
	return func(ctx context.Context) (domain.TradeLog, error) {
		c, err := New(ctx, clientCfg)
		if err != nil {
			return nil, err
		}
		return NewTradeLog(c, logCfg), nil
	}
}

func offsetKey(stream, group string) string {
	return "offsets:" + stream + ":" + group
}

// Append adds one entry with XADD and returns its stream ID.
func (l *TradeLog) Append(ctx context.Context, key string, value []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: l.cfg.Stream,
		Values: map[string]interface{}{
			"key":     key,
			"payload": value,
		},
	}
	if l.cfg.MaxLen > 0 {
		args.MaxLen = l.cfg.MaxLen
		args.Approx = true
	}
	id, err := l.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("redis: xadd %s: %w", l.cfg.Stream, err)
	}
	return id, nil
}

// Read returns up to max entries after the given stream ID, blocking for the
// configured interval when none are available.
func (l *TradeLog) Read(ctx context.Context, after string, max int) ([]domain.LogRecord, error) {
	if after == "" {
		after = "0-0"
	}
	results, err := l.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{l.cfg.Stream, after},
		Count:   int64(max),
		Block:   l.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: xread %s: %w", l.cfg.Stream, err)
	}

	var out []domain.LogRecord
	for _, s := range results {
		for _, msg := range s.Messages {
			rec := domain.LogRecord{Offset: msg.ID}
			if k, ok := msg.Values["key"].(string); ok {
				rec.Key = k
			}
			switch v := msg.Values["payload"].(type) {
			case string:
				rec.Value = []byte(v)
			case []byte:
				rec.Value = v
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// Commit records offset for group.
func (l *TradeLog) Commit(ctx context.Context, group, offset string) error {
	if err := l.rdb.Set(ctx, offsetKey(l.cfg.Stream, group), offset, 0).Err(); err != nil {
		return fmt.Errorf("redis: commit %s/%s: %w", l.cfg.Stream, group, err)
	}
	return nil
}

// Committed returns the last offset committed for group.
func (l *TradeLog) Committed(ctx context.Context, group string) (string, error) {
	off, err := l.rdb.Get(ctx, offsetKey(l.cfg.Stream, group)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: committed %s/%s: %w", l.cfg.Stream, group, err)
	}
	return off, nil
}

// Len is the number of entries currently in the stream.
func (l *TradeLog) Len(ctx context.Context) (int64, error) {
	n, err := l.rdb.XLen(ctx, l.cfg.Stream).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: xlen %s: %w", l.cfg.Stream, err)
	}
	return n, nil
}

// Close closes the underlying connection.
func (l *TradeLog) Close() error {
	return l.client.Close()
}

// Compile-time interface check.
var _ domain.TradeLog = (*TradeLog)(nil)
