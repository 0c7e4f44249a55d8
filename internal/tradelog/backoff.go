// Package tradelog is the resilient transport between trade producers and
// replay sessions: it encodes trades onto a durable single-partition log and
// reads them back, reconnecting with bounded exponential backoff.
package tradelog

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// BackoffConfig tunes the reconnect policy.
type BackoffConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff starts at 1s, doubles up to 30s and gives up after 10
// consecutive attempts.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Initial: time.Second, Max: 30 * time.Second, MaxAttempts: 10}
}

// Backoff counts consecutive reconnect attempts. Reset it after any
// successful operation. Not safe for concurrent use.
type Backoff struct {
	cfg     BackoffConfig
	attempt int
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewBackoff fills zero fields of cfg from DefaultBackoff.
func NewBackoff(cfg BackoffConfig) *Backoff {
	def := DefaultBackoff()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Backoff{cfg: cfg, sleep: sleepCtx}
}

// Next returns the delay before the next attempt and counts it. ok is false
// once MaxAttempts have been used.
func (b *Backoff) Next() (d time.Duration, ok bool) {
	if b.attempt >= b.cfg.MaxAttempts {
		return 0, false
	}
	d = b.cfg.Initial
	for i := 0; i < b.attempt && d < b.cfg.Max; i++ {
		d *= 2
	}
	if d > b.cfg.Max {
		d = b.cfg.Max
	}
	b.attempt++
	return d, true
}

// Wait sleeps for the next delay. It returns an error wrapping
// domain.ErrStopped once attempts are exhausted, or ctx.Err() if cancelled.
func (b *Backoff) Wait(ctx context.Context) error {
	d, ok := b.Next()
	if !ok {
		return fmt.Errorf("tradelog: %d reconnect attempts exhausted: %w", b.cfg.MaxAttempts, domain.ErrStopped)
	}
	return b.sleep(ctx, d)
}

// Attempts is the number of attempts since the last Reset.
func (b *Backoff) Attempts() int { return b.attempt }

// Reset clears the attempt counter.
func (b *Backoff) Reset() { b.attempt = 0 }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
