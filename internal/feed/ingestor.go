package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/instrumentation"
	"github.com/alanyoungcy/tickreplay/internal/notify"
	"github.com/alanyoungcy/tickreplay/internal/strategy"
	"github.com/alanyoungcy/tickreplay/internal/tradelog"
)

// ErrLockLost is returned by Run when the single-ingestor lock expired.
var ErrLockLost = errors.New("feed: ingest lock lost")

// Publisher appends trades to the durable log in order.
type Publisher interface {
	SendAsync(t domain.Trade, done func(tradelog.SendResult)) error
}

// IngestorConfig configures an Ingestor.
type IngestorConfig struct {
	Pair    string
	LockKey string
	LockTTL time.Duration
}

// Ingestor turns live exchange events into classified, book-annotated trades
// on the trade log. Only one ingestor per pair runs at a time; the lock is
// held for the whole Run.
type Ingestor struct {
	cfg      IngestorConfig
	pub      Publisher
	books    domain.BookCache
	locks    domain.LockManager
	metrics  *instrumentation.Metrics
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	classifier *strategy.TickClassifier

	mu      sync.Mutex
	book    *domain.OrderBookSnapshot
	stopped func(error)
}

// NewIngestor creates an Ingestor. books, locks, metrics and notifier may be
// nil.
func NewIngestor(cfg IngestorConfig, pub Publisher, books domain.BookCache, locks domain.LockManager,
	metrics *instrumentation.Metrics, notifier *notify.Notifier, logger *slog.Logger) *Ingestor {
	if cfg.LockKey == "" {
		cfg.LockKey = "lock:ingest"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Second
	}
	return &Ingestor{
		cfg:        cfg,
		pub:        pub,
		books:      books,
		locks:      locks,
		metrics:    metrics,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "ingestor"), slog.String("pair", cfg.Pair)),
		now:        time.Now,
		classifier: strategy.NewTickClassifier(),
	}
}

// Run holds the ingest lock and feeds exchange events through the ingestor
// until ctx is cancelled, the lock is lost or the producer stops.
func (i *Ingestor) Run(ctx context.Context, feed *ExchangeFeed) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	i.mu.Lock()
	i.stopped = cancel
	i.mu.Unlock()

	if i.locks != nil {
		key := i.cfg.LockKey + ":" + i.cfg.Pair
		lock, err := i.locks.Acquire(ctx, key, i.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("feed: acquire %s: %w", key, err)
		}
		defer lock.Release()
		i.logger.Info("ingest lock acquired", slog.String("key", key))

		go func() {
			select {
			case <-lock.Lost():
				cancel(ErrLockLost)
			case <-runCtx.Done():
			}
		}()
	}

	err := feed.Run(runCtx, i.HandleTrade, i.HandleBook)
	if cause := context.Cause(runCtx); cause != nil && ctx.Err() == nil {
		if errors.Is(cause, domain.ErrStopped) {
			_ = i.notifier.TransportStopped(context.WithoutCancel(ctx), "producer", cause)
		}
		i.logger.Error("ingestion stopped", slog.String("error", cause.Error()))
		return cause
	}
	return err
}

// HandleBook keeps book as the latest snapshot for the next trades.
func (i *Ingestor) HandleBook(ctx context.Context, book domain.OrderBookSnapshot, at time.Time) {
	i.mu.Lock()
	i.book = &book
	i.mu.Unlock()

	if i.books == nil {
		return
	}
	if err := i.books.SetLatest(ctx, i.cfg.Pair, book, at); err != nil && ctx.Err() == nil {
		i.logger.Debug("caching order book", slog.String("error", err.Error()))
	}
}

// HandleTrade scales the exchange id, classifies the price movement,
// attaches a copy of the latest book and queues the trade for publishing.
func (i *Ingestor) HandleTrade(ctx context.Context, raw RawTrade) {
	if !raw.Price.IsPositive() {
		i.logger.Warn("dropping trade with non-positive price", slog.Int64("exchange_id", raw.ExchangeID))
		i.metrics.RecordDropped("invalid_price")
		return
	}

	ts, err := domain.TimestampNowFallback.Resolve(raw.Timestamp, i.now)
	if err != nil {
		i.logger.Warn("trade timestamp unparseable, using now",
			slog.Int64("exchange_id", raw.ExchangeID),
			slog.String("timestamp", raw.Timestamp),
		)
	}

	tick, streak := i.classifier.Classify(raw.Price)
	t := domain.NewTrade(raw.ExchangeID*domain.RealIDScale, ts, raw.Price, raw.Amount, raw.MakerSide).
		WithTick(tick, streak)
	if book := i.latestBook(); book != nil {
		t = t.WithOrderBook(*book)
	}

	switch err := i.pub.SendAsync(t, i.sent); {
	case err == nil:
	case errors.Is(err, tradelog.ErrQueueFull):
		i.logger.Warn("publish queue full, dropping trade", slog.Int64("trade_id", t.ID))
		i.metrics.RecordDropped("queue_full")
	default:
		i.stop(err)
	}
}

func (i *Ingestor) sent(res tradelog.SendResult) {
	switch {
	case res.Err == nil:
		i.metrics.RecordProduced()
	case errors.Is(res.Err, domain.ErrStopped):
		i.stop(res.Err)
	default:
		i.logger.Warn("trade not published",
			slog.Int64("trade_id", res.TradeID),
			slog.String("error", res.Err.Error()),
		)
		i.metrics.RecordDropped("publish")
	}
}

func (i *Ingestor) stop(err error) {
	i.mu.Lock()
	stop := i.stopped
	i.mu.Unlock()
	if stop != nil {
		stop(err)
	}
}

func (i *Ingestor) latestBook() *domain.OrderBookSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.book
}
