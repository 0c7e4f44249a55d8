// Package session runs replay sessions: one decision pipeline fed by a
// dedicated trade log consumer that replays the log from the beginning and
// forwards every snapshot to the session's Sink.
package session

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
	"github.com/alanyoungcy/tickreplay/internal/pipeline"
	"github.com/alanyoungcy/tickreplay/internal/tradelog"
)

// DefaultCloseTimeout bounds consumer shutdown at teardown.
const DefaultCloseTimeout = 5 * time.Second

const (
	notifyTimeout = 5 * time.Second
	// maxPendingNotifications caps chunk notifications in flight per session.
	maxPendingNotifications = 4
)

// Sink receives the snapshots of one session. Done is closed when the
// receiving side has gone away.
type Sink interface {
	Send(ctx context.Context, snap domain.TradeSnapshot) error
	Done() <-chan struct{}
}

// Archiver exports the stored chunks of a finished session.
type Archiver interface {
	ArchiveSession(ctx context.Context, sessionID string) (string, error)
}

// Deps are shared by every session of a Manager. Stores, archiver, notifier
// and metrics are optional.
type Deps struct {
	Dial         domain.TradeLogDialer
	Pipeline     pipeline.Config
	Consumer     tradelog.ConsumerConfig
	Decoder      tradelog.Decoder
	CloseTimeout time.Duration

	Sessions domain.SessionStore
	Chunks   domain.ChunkStore
	Audit    domain.AuditStore
	Archiver Archiver
	Notifier *notify.Notifier
	Metrics  *instrumentation.Metrics
	Logger   *slog.Logger
}

// Info is a point-in-time view of a running session.
type Info struct {
	ID        string               `json:"id"`
	Config    domain.TradingConfig `json:"config"`
	Status    domain.SessionStatus `json:"status"`
	Trades    int64                `json:"trades"`
	Chunk     int                  `json:"chunkNumber"`
	Position  string               `json:"position"`
	StartedAt time.Time            `json:"startedAt"`
}

// ReplaySession owns a pipeline, a consumer and a sink. Run processes records
// on a single goroutine; Cancel and the accessors are safe from any
// goroutine.
type ReplaySession struct {
	cfg      domain.TradingConfig
	deps     Deps
	sink     Sink
	pipeline *pipeline.DecisionPipeline
	consumer *tradelog.Consumer
	logger   *slog.Logger
	started  time.Time

	done     chan struct{}
	onFinish func()

	notifySlots chan struct{}

	mu        sync.Mutex
	status    domain.SessionStatus
	err       error
	cancelled bool
	trades    int64
	chunk     int
}

func newReplaySession(cfg domain.TradingConfig, sink Sink, deps Deps) *ReplaySession {
	pcfg := deps.Pipeline
	pcfg.Trading = cfg
	logger := deps.Logger.With(slog.String("component", "session"), slog.String("session_id", cfg.SessionID))

	ccfg := deps.Consumer
	ccfg.Mode = tradelog.FromBeginning
	ccfg.Group = "replay-" + cfg.SessionID
	if ccfg.Observer == nil && deps.Metrics != nil {
		ccfg.Observer = deps.Metrics
	}

	return &ReplaySession{
		cfg:      cfg,
		deps:     deps,
		sink:     sink,
		pipeline: pipeline.NewDecisionPipeline(pcfg, deps.Logger),
		consumer: tradelog.NewConsumer(deps.Dial, ccfg, deps.Logger),
		logger:   logger,
		started:  time.Now().UTC(),
		done:     make(chan struct{}),
		status:   domain.SessionRunning,

		notifySlots: make(chan struct{}, maxPendingNotifications),
	}
}

// ID returns the session id.
func (s *ReplaySession) ID() string { return s.cfg.SessionID }

// Done is closed after teardown finished.
func (s *ReplaySession) Done() <-chan struct{} { return s.done }

// Status returns the session state and, for failed sessions, the cause.
func (s *ReplaySession) Status() (domain.SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.err
}

// Info snapshots the session for listings.
func (s *ReplaySession) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.cfg.SessionID,
		Config:    s.cfg,
		Status:    s.status,
		Trades:    s.trades,
		Chunk:     s.chunk,
		Position:  s.consumer.Position(),
		StartedAt: s.started,
	}
}

// Cancel stops the session. It returns immediately; wait on Done for
// teardown.
func (s *ReplaySession) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	go func() {
		if err := s.consumer.Close(s.closeTimeout()); err != nil {
			s.logger.Warn("consumer close", slog.String("error", err.Error()))
		}
	}()
}

func (s *ReplaySession) closeTimeout() time.Duration {
	if s.deps.CloseTimeout > 0 {
		return s.deps.CloseTimeout
	}
	return DefaultCloseTimeout
}

// Run replays the log until the sink goes away, the session is cancelled,
// the log is exhausted (when the consumer stops on idle) or the transport
// fails. Teardown always runs before Run returns.
func (s *ReplaySession) Run(ctx context.Context) error {
	s.logger.Info("session started", slog.Any("criteria", s.pipeline.Criteria()))
	s.deps.Metrics.SessionStarted()

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.sink.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	err := s.consumer.Run(runCtx, s.handle)
	sinkGone := isClosed(s.sink.Done())
	cancel()

	s.mu.Lock()
	switch {
	case s.err != nil:
		s.status = domain.SessionFailed
	case err != nil && !sinkGone && ctx.Err() == nil:
		s.status = domain.SessionFailed
		s.err = err
	case s.cancelled || sinkGone || ctx.Err() != nil:
		s.status = domain.SessionCancelled
	default:
		s.status = domain.SessionCompleted
	}
	status, cause := s.status, s.err
	s.mu.Unlock()

	s.teardown(context.WithoutCancel(ctx), status, cause)
	return cause
}

// handle processes one record; returning false stops the consumer.
func (s *ReplaySession) handle(ctx context.Context, rec domain.LogRecord) bool {
	if isClosed(s.sink.Done()) {
		return false
	}

	trade, err := s.deps.Decoder.Decode(rec.Value)
	if err != nil {
		s.logger.Warn("skipping undecodable record",
			slog.String("offset", rec.Offset),
			slog.String("error", err.Error()),
		)
		s.deps.Metrics.RecordDropped("decode")
		return true
	}

	snap, err := s.pipeline.Process(trade)
	if errors.Is(err, domain.ErrMissingOrderBook) {
		s.deps.Metrics.RecordDropped("no_order_book")
		return true
	}
	if err != nil {
		s.fail(err)
		return false
	}

	s.deps.Metrics.RecordProcessed()
	if snap.PretendTrade != nil {
		s.deps.Metrics.RecordPretendTrade(snap.PretendTrade.Side)
	}
	if snap.CompletedChunk != nil {
		s.chunkCompleted(ctx, *snap.CompletedChunk)
	}

	s.mu.Lock()
	s.trades++
	s.chunk = snap.ChunkNumber
	s.mu.Unlock()

	if err := s.sink.Send(ctx, snap); err != nil {
		if errors.Is(err, domain.ErrSinkClosed) || ctx.Err() != nil {
			return false
		}
		s.fail(fmt.Errorf("session: send snapshot %d: %w", snap.ID, err))
		return false
	}
	return true
}

func (s *ReplaySession) chunkCompleted(ctx context.Context, c domain.ChunkInfo) {
	s.deps.Metrics.RecordChunk()
	s.logger.Info("chunk completed",
		slog.Int("chunk", c.Number),
		slog.String("profit", c.Profit.String()),
		slog.Int("trades", c.TradeCount),
	)
	s.persistChunk(ctx, c)
	s.notifyChunk(ctx, c)
}

// notifyChunk sends the chunk notification off the replay goroutine. When
// maxPendingNotifications are already in flight the notification is dropped.
func (s *ReplaySession) notifyChunk(ctx context.Context, c domain.ChunkInfo) {
	if !s.deps.Notifier.Enabled() {
		return
	}
	select {
	case s.notifySlots <- struct{}{}:
	default:
		s.logger.Warn("chunk notification dropped, notifier busy", slog.Int("chunk", c.Number))
		return
	}
	go func() {
		defer func() { <-s.notifySlots }()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.deps.Notifier.ChunkCompleted(nctx, s.cfg.SessionID, c); err != nil {
			s.logger.Warn("chunk notification failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *ReplaySession) persistChunk(ctx context.Context, c domain.ChunkInfo) {
	if s.deps.Chunks == nil {
		return
	}
	if err := s.deps.Chunks.Insert(ctx, s.cfg.SessionID, c); err != nil {
		s.logger.Warn("persisting chunk failed",
			slog.Int("chunk", c.Number),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ReplaySession) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// teardown finalizes persistence and releases pipeline state. It runs on a
// context detached from the session's cancellation.
func (s *ReplaySession) teardown(ctx context.Context, status domain.SessionStatus, cause error) {
	defer close(s.done)
	defer func() {
		if s.onFinish != nil {
			s.onFinish()
		}
	}()

	if err := s.consumer.Close(s.closeTimeout()); err != nil {
		s.logger.Warn("consumer close", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if status == domain.SessionCompleted {
		if last := s.pipeline.Finish(); last != nil {
			s.persistChunk(ctx, *last)
		}
	}

	trades := s.pipeline.Processed()
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.Finish(ctx, s.cfg.SessionID, status, trades, errMsg); err != nil {
			s.logger.Warn("finishing session record", slog.String("error", err.Error()))
		}
	}
	s.audit(ctx, "session.finished", map[string]any{
		"session_id": s.cfg.SessionID,
		"status":     string(status),
		"trades":     trades,
		"chunks":     len(s.pipeline.Completed()),
		"error":      errMsg,
	})

	if s.deps.Archiver != nil && s.deps.Chunks != nil {
		if key, err := s.deps.Archiver.ArchiveSession(ctx, s.cfg.SessionID); err != nil {
			s.logger.Warn("archiving session failed", slog.String("error", err.Error()))
		} else if key != "" {
			s.logger.Info("session chunks archived", slog.String("key", key))
		}
	}

	if cause != nil {
		if errors.Is(cause, domain.ErrStopped) || tradelog.Classify(cause) == tradelog.ClassFatal {
			_ = s.deps.Notifier.TransportStopped(ctx, "consumer", cause)
		}
		_ = s.deps.Notifier.SessionFailed(ctx, s.cfg.SessionID, cause)
	}

	s.pipeline.Release()
	s.deps.Metrics.SessionEnded()
	s.logger.Info("session finished",
		slog.String("status", string(status)),
		slog.Int64("trades", trades),
	)
}

func (s *ReplaySession) audit(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
