package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// BookCache implements domain.BookCache.
//
// Key schema:
//
//	book:{pair}  - hash with "levels" (JSON OrderBookSnapshot) and "ts" (unix ms)
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookCache creates a BookCache. Entries expire after ttl without updates;
// 0 disables expiry.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	return &BookCache{rdb: c.Underlying(), ttl: ttl}
}

func bookKey(pair string) string { return "book:" + pair }

// SetLatest replaces the cached book of pair.
func (bc *BookCache) SetLatest(ctx context.Context, pair string, book domain.OrderBookSnapshot, at time.Time) error {
	levels, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("redis: encode book %s: %w", pair, err)
	}

	key := bookKey(pair)
	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "levels", levels, "ts", strconv.FormatInt(at.UnixMilli(), 10))
	if bc.ttl > 0 {
		pipe.Expire(ctx, key, bc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", pair, err)
	}
	return nil
}

// GetLatest returns the cached book of pair or domain.ErrNotFound.
func (bc *BookCache) GetLatest(ctx context.Context, pair string) (domain.OrderBookSnapshot, time.Time, error) {
	vals, err := bc.rdb.HGetAll(ctx, bookKey(pair)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.OrderBookSnapshot{}, time.Time{}, fmt.Errorf("redis: get book %s: %w", pair, err)
	}
	raw, ok := vals["levels"]
	if !ok {
		return domain.OrderBookSnapshot{}, time.Time{}, domain.ErrNotFound
	}

	var book domain.OrderBookSnapshot
	if err := json.Unmarshal([]byte(raw), &book); err != nil {
		return domain.OrderBookSnapshot{}, time.Time{}, fmt.Errorf("redis: decode book %s: %w", pair, err)
	}
	var at time.Time
	if ms, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		at = time.UnixMilli(ms).UTC()
	}
	return book, at, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
