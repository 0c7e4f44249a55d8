package tradelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

const roleConsumer = "consumer"

// StartMode selects where a consumer begins reading.
type StartMode int

const (
	// FromBeginning replays the whole log and never commits.
	FromBeginning StartMode = iota
	// Resume continues after the group's committed offset and commits after
	// each handled record.
	Resume
)

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	Mode      StartMode
	Group     string
	BatchSize int
	Backoff   BackoffConfig
	// StopWhenIdle makes Run return once a read comes back empty, i.e. the
	// consumer has caught up with the log.
	StopWhenIdle bool
	Observer     Observer
}

// Handler processes one record. Returning false stops the consumer.
type Handler func(ctx context.Context, rec domain.LogRecord) bool

// Consumer reads the single log partition in order and hands records to a
// Handler. Transient and unclassified failures reconnect with backoff; fatal
// errors and exhausted backoff stop the consumer and are reported through
// Err and Done.
type Consumer struct {
	dial   domain.TradeLogDialer
	cfg    ConsumerConfig
	obs    Observer
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	client   domain.TradeLog
	position string
	err      error
}

// NewConsumer creates a consumer. Nothing is dialled until Run.
func NewConsumer(dial domain.TradeLogDialer, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		dial:   dial,
		cfg:    cfg,
		obs:    observerOrNop(cfg.Observer),
		logger: logger.With(slog.String("component", "tradelog_consumer"), slog.String("group", cfg.Group)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Run consumes until the handler returns false, the consumer is closed, ctx
// is cancelled, or a terminal error occurs. It must be called at most once.
// Terminal errors are also available from Err after Done is closed.
func (c *Consumer) Run(ctx context.Context, h Handler) (err error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(c.ctx, stop)
	defer unregister()

	defer func() {
		c.mu.Lock()
		c.err = err
		c.closeClientLocked()
		c.mu.Unlock()
		close(c.done)
	}()

	backoff := NewBackoff(c.cfg.Backoff)
	positioned := false

	for {
		if runCtx.Err() != nil {
			return c.exitErr(ctx)
		}

		client, err := c.connect(runCtx)
		if err == nil && !positioned {
			err = c.seek(runCtx, client)
			positioned = err == nil
		}
		if err != nil {
			if runCtx.Err() != nil {
				return c.exitErr(ctx)
			}
			if ferr := c.recover(runCtx, backoff, err); ferr != nil {
				return ferr
			}
			continue
		}

		recs, err := client.Read(runCtx, c.Position(), c.cfg.BatchSize)
		if err != nil {
			if runCtx.Err() != nil {
				return c.exitErr(ctx)
			}
			if ferr := c.recover(runCtx, backoff, err); ferr != nil {
				return ferr
			}
			continue
		}
		backoff.Reset()

		if len(recs) == 0 {
			if c.cfg.StopWhenIdle {
				c.logger.Info("caught up with log", slog.String("position", c.Position()))
				return nil
			}
			continue
		}

		for _, rec := range recs {
			if !h(runCtx, rec) {
				c.logger.Info("handler requested stop", slog.String("offset", rec.Offset))
				return nil
			}
			c.advance(runCtx, client, rec.Offset)
		}
	}
}

func (c *Consumer) exitErr(parent context.Context) error {
	if c.ctx.Err() != nil {
		return nil
	}
	return parent.Err()
}

func (c *Consumer) connect(ctx context.Context) (domain.TradeLog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("tradelog: dial: %w", err)
	}
	c.client = client
	return client, nil
}

// seek sets the starting position on first connect.
func (c *Consumer) seek(ctx context.Context, client domain.TradeLog) error {
	if c.cfg.Mode != Resume {
		c.setPosition("")
		return nil
	}
	offset, err := client.Committed(ctx, c.cfg.Group)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		offset = ""
	case err != nil:
		return fmt.Errorf("tradelog: committed offset: %w", err)
	}
	c.setPosition(offset)
	c.logger.Info("resuming", slog.String("after", offset))
	return nil
}

func (c *Consumer) advance(ctx context.Context, client domain.TradeLog, offset string) {
	c.setPosition(offset)
	if c.cfg.Mode != Resume {
		return
	}
	if err := client.Commit(ctx, c.cfg.Group, offset); err != nil && ctx.Err() == nil {
		c.logger.Warn("commit failed", slog.String("offset", offset), slog.String("error", err.Error()))
	}
}

// recover drops the client and waits for the next attempt. It returns a
// non-nil error when the consumer must stop.
func (c *Consumer) recover(ctx context.Context, backoff *Backoff, cause error) error {
	class := Classify(cause)
	c.mu.Lock()
	c.closeClientLocked()
	c.mu.Unlock()

	if class == ClassFatal {
		c.logger.Error("fatal transport error", slog.String("error", cause.Error()))
		c.obs.Stopped(roleConsumer)
		return fmt.Errorf("tradelog: consumer stopped: %w", cause)
	}

	c.logger.Warn("transport error, reconnecting",
		slog.String("class", class.String()),
		slog.Int("attempt", backoff.Attempts()+1),
		slog.String("error", cause.Error()),
	)
	c.obs.Reconnect(roleConsumer)
	if err := backoff.Wait(ctx); err != nil {
		if errors.Is(err, domain.ErrStopped) {
			c.obs.Stopped(roleConsumer)
			return fmt.Errorf("%w (last error: %v)", err, cause)
		}
		return c.exitErr(ctx)
	}
	return nil
}

func (c *Consumer) closeClientLocked() {
	if c.client == nil {
		return
	}
	if err := c.client.Close(); err != nil {
		c.logger.Debug("closing client", slog.String("error", err.Error()))
	}
	c.client = nil
}

func (c *Consumer) setPosition(offset string) {
	c.mu.Lock()
	c.position = offset
	c.mu.Unlock()
}

// Position is the offset of the last handled record, empty before the first.
func (c *Consumer) Position() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Done is closed when Run returns.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Err is the terminal error of Run, nil for a clean stop.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close wakes a blocked poll and waits up to timeout for Run to return. If
// Run is wedged in a backend call the client is closed from here.
func (c *Consumer) Close(timeout time.Duration) error {
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
	}

	c.mu.Lock()
	c.closeClientLocked()
	c.mu.Unlock()
	return fmt.Errorf("tradelog: consumer did not stop within %s", timeout)
}
