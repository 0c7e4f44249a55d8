package tradelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

const roleProducer = "producer"

// ErrQueueFull is returned by SendAsync when the ordered lane has no room,
// typically because the lane is waiting out a reconnect.
var ErrQueueFull = errors.New("tradelog: queue full")

// ProducerConfig tunes a Producer.
type ProducerConfig struct {
	Backoff BackoffConfig
	// SendAttempts is how many times a message is retried in place on
	// transient errors before the client is replaced. Defaults to 3.
	SendAttempts int
	// AsyncQueue is the capacity of the SendAsync lane. Defaults to 256.
	AsyncQueue int
	Observer   Observer
}

// SendResult is delivered to SendAsync callbacks.
type SendResult struct {
	TradeID int64
	Offset  string
	Err     error
}

type asyncSend struct {
	trade domain.Trade
	done  func(SendResult)
}

// Producer appends trades to the log. Send is safe for concurrent use and
// appends in call order; SendAsync funnels through a single ordered lane.
//
// Once reconnect attempts are exhausted the producer is stopped for good and
// every further send returns domain.ErrStopped.
type Producer struct {
	dial    domain.TradeLogDialer
	cfg     ProducerConfig
	obs     Observer
	logger  *slog.Logger
	backoff *Backoff

	mu     sync.Mutex
	client domain.TradeLog

	stopped atomic.Bool
	closed  atomic.Bool

	lane     chan asyncSend
	laneDone chan struct{}
	laneCtx  context.Context
	cancel   context.CancelFunc
	closeMu  sync.RWMutex
}

// NewProducer creates a producer. The first client is dialled on the first
// send.
func NewProducer(dial domain.TradeLogDialer, cfg ProducerConfig, logger *slog.Logger) *Producer {
	if cfg.SendAttempts <= 0 {
		cfg.SendAttempts = 3
	}
	if cfg.AsyncQueue <= 0 {
		cfg.AsyncQueue = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		dial:     dial,
		cfg:      cfg,
		obs:      observerOrNop(cfg.Observer),
		logger:   logger.With(slog.String("component", "tradelog_producer")),
		backoff:  NewBackoff(cfg.Backoff),
		lane:     make(chan asyncSend, cfg.AsyncQueue),
		laneDone: make(chan struct{}),
		laneCtx:  ctx,
		cancel:   cancel,
	}
	go p.runLane()
	return p
}

// Send appends t and returns its offset.
func (p *Producer) Send(ctx context.Context, t domain.Trade) (string, error) {
	if p.stopped.Load() {
		return "", domain.ErrStopped
	}
	key, value, err := Encode(t)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	for {
		if p.stopped.Load() {
			return "", domain.ErrStopped
		}
		if p.client == nil {
			client, err := p.dial(ctx)
			if err != nil {
				p.logger.Warn("dial failed", slog.String("error", err.Error()))
				if werr := p.waitReconnect(ctx); werr != nil {
					return "", werr
				}
				continue
			}
			p.client = client
		}

		offset, err := p.appendWithRetry(ctx, key, value)
		if err == nil {
			p.backoff.Reset()
			p.obs.Sent(time.Since(start))
			return offset, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		switch class := Classify(err); class {
		case ClassFatal:
			p.logger.Error("fatal send error, replacing client",
				slog.Int64("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		case ClassTransient:
			p.logger.Warn("send failed after retries, reconnecting",
				slog.Int64("trade_id", t.ID),
				slog.Int("attempts", p.cfg.SendAttempts),
				slog.String("error", err.Error()),
			)
		default:
			return "", fmt.Errorf("tradelog: send trade %d: %w", t.ID, err)
		}

		p.closeClient()
		if werr := p.waitReconnect(ctx); werr != nil {
			return "", werr
		}
	}
}

// appendWithRetry retries transient failures in place. Any other error is
// returned at once.
func (p *Producer) appendWithRetry(ctx context.Context, key string, value []byte) (string, error) {
	var err error
	for i := 0; i < p.cfg.SendAttempts; i++ {
		var offset string
		offset, err = p.client.Append(ctx, key, value)
		if err == nil {
			return offset, nil
		}
		if ctx.Err() != nil || Classify(err) != ClassTransient {
			return "", err
		}
	}
	return "", err
}

// waitReconnect counts a reconnect attempt and sleeps. Exhaustion stops the
// producer.
func (p *Producer) waitReconnect(ctx context.Context) error {
	p.obs.Reconnect(roleProducer)
	err := p.backoff.Wait(ctx)
	if errors.Is(err, domain.ErrStopped) {
		p.stopped.Store(true)
		p.obs.Stopped(roleProducer)
		p.logger.Error("producer stopped", slog.Int("attempts", p.backoff.Attempts()))
	}
	return err
}

func (p *Producer) closeClient() {
	if p.client == nil {
		return
	}
	if err := p.client.Close(); err != nil {
		p.logger.Debug("closing client", slog.String("error", err.Error()))
	}
	p.client = nil
}

// SendAsync queues t on the ordered lane without blocking. done, if non-nil,
// is called from the lane goroutine with the outcome. A full lane returns
// ErrQueueFull and t is not queued.
func (p *Producer) SendAsync(t domain.Trade, done func(SendResult)) error {
	if p.stopped.Load() {
		return domain.ErrStopped
	}
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed.Load() {
		return fmt.Errorf("tradelog: producer closed: %w", domain.ErrStopped)
	}
	select {
	case p.lane <- asyncSend{trade: t, done: done}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Producer) runLane() {
	defer close(p.laneDone)
	for req := range p.lane {
		offset, err := p.Send(p.laneCtx, req.trade)
		if err != nil && req.done == nil {
			p.logger.Warn("async send failed", slog.Int64("trade_id", req.trade.ID), slog.String("error", err.Error()))
		}
		if req.done != nil {
			req.done(SendResult{TradeID: req.trade.ID, Offset: offset, Err: err})
		}
	}
}

// Stopped reports whether the producer gave up reconnecting.
func (p *Producer) Stopped() bool { return p.stopped.Load() }

// Close drains the async lane and closes the client. Pending async sends are
// abandoned after timeout.
func (p *Producer) Close(timeout time.Duration) error {
	p.closeMu.Lock()
	if p.closed.Swap(true) {
		p.closeMu.Unlock()
		return nil
	}
	close(p.lane)
	p.closeMu.Unlock()

	var err error
	select {
	case <-p.laneDone:
	case <-time.After(timeout):
		p.cancel()
		<-p.laneDone
		err = errors.New("tradelog: producer close timed out, pending sends abandoned")
	}
	p.cancel()

	p.mu.Lock()
	p.closeClient()
	p.mu.Unlock()
	return err
}
