package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/feed"
	"github.com/alanyoungcy/tickreplay/internal/server"
	"github.com/alanyoungcy/tickreplay/internal/server/handler"
	"github.com/alanyoungcy/tickreplay/internal/server/ws"
	"github.com/alanyoungcy/tickreplay/internal/session"
	"github.com/alanyoungcy/tickreplay/internal/tradelog"
)

// defaultShutdown bounds teardown when the config leaves it unset.
const defaultShutdown = 10 * time.Second

// IngestMode publishes live exchange trades to the trade log.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode", slog.String("pair", a.cfg.Feed.Pair))

	g, ctx := errgroup.WithContext(ctx)
	a.startIngestor(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// ServerMode serves replay sessions over HTTP and websocket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return err
	}
	return ignoreCanceled(g.Wait())
}

// FullMode runs the ingestor and the server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startIngestor(ctx, g, deps)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return err
	}
	return ignoreCanceled(g.Wait())
}

// BacktestMode replays the whole trade log once with the [backtest] session
// request, writes the snapshots as JSON lines and returns when the log is
// exhausted.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	req := a.cfg.Backtest.TradingRequest()
	a.logger.InfoContext(ctx, "starting backtest mode",
		slog.String("session_id", req.SessionID),
		slog.String("output", a.cfg.Backtest.Output),
	)

	var out io.Writer
	switch a.cfg.Backtest.Output {
	case "":
	case "-":
		out = os.Stdout
	default:
		f, err := os.Create(a.cfg.Backtest.Output)
		if err != nil {
			return fmt.Errorf("backtest: open output: %w", err)
		}
		defer f.Close()
		out = f
	}

	sdeps, err := a.sessionDeps(deps, true)
	if err != nil {
		return err
	}
	manager := session.NewManager(sdeps)
	sink := session.NewWriterSink(out)

	sess, err := manager.Start(ctx, req, sink)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		sess.Cancel()
		<-sess.Done()
	}
	sink.Close()

	status, cause := sess.Status()
	info := sess.Info()
	a.logger.InfoContext(ctx, "backtest finished",
		slog.String("session_id", sess.ID()),
		slog.String("status", string(status)),
		slog.Int64("trades", info.Trades),
		slog.Int64("snapshots", sink.Count()),
		slog.Int("chunk", info.Chunk),
	)
	if cause != nil {
		return fmt.Errorf("backtest: session %s %s: %w", sess.ID(), status, cause)
	}
	return nil
}

// sessionDeps builds the shared session dependencies. Optional stores are
// only set when wired so their interfaces stay nil.
func (a *App) sessionDeps(deps *Dependencies, stopWhenIdle bool) (session.Deps, error) {
	pcfg, err := pipelineConfig(a.cfg.Trading)
	if err != nil {
		return session.Deps{}, err
	}
	sd := session.Deps{
		Dial:     deps.Dial,
		Pipeline: pcfg,
		Consumer: tradelog.ConsumerConfig{
			BatchSize:    a.cfg.Stream.BatchSize,
			Backoff:      backoffConfig(a.cfg.Stream),
			StopWhenIdle: stopWhenIdle,
		},
		Decoder:      tradelog.Decoder{Policy: domain.TimestampStrict, Logger: a.logger},
		CloseTimeout: a.cfg.Stream.CloseTimeout.Duration,
		Sessions:     deps.Sessions,
		Chunks:       deps.Chunks,
		Audit:        deps.Audit,
		Notifier:     deps.Notifier,
		Metrics:      deps.Metrics,
		Logger:       a.logger,
	}
	if deps.Archiver != nil {
		sd.Archiver = deps.Archiver
	}
	return sd, nil
}

// startIngestor runs the exchange feed through a producer until ctx ends.
func (a *App) startIngestor(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	producer := tradelog.NewProducer(deps.Dial, tradelog.ProducerConfig{
		Backoff:      backoffConfig(a.cfg.Stream),
		SendAttempts: a.cfg.Stream.SendAttempts,
		AsyncQueue:   a.cfg.Stream.AsyncQueue,
		Observer:     deps.Metrics,
	}, a.logger)

	ingestor := feed.NewIngestor(feed.IngestorConfig{
		Pair:    a.cfg.Feed.Pair,
		LockKey: a.cfg.Feed.LockKey,
		LockTTL: a.cfg.Feed.LockTTL.Duration,
	}, producer, deps.Books, deps.Locks, deps.Metrics, deps.Notifier, a.logger)

	exchange := feed.NewExchangeFeed(feed.ExchangeConfig{
		URL:            a.cfg.Feed.URL,
		Pair:           a.cfg.Feed.Pair,
		BookDepth:      a.cfg.Feed.BookDepth,
		ReconnectDelay: a.cfg.Feed.ReconnectDelay.Duration,
	}, a.logger)

	g.Go(func() error {
		defer func() {
			if err := producer.Close(a.cfg.Stream.CloseTimeout.Duration); err != nil {
				a.logger.Warn("producer close", slog.String("error", err.Error()))
			}
		}()
		defer exchange.Close()
		if err := ingestor.Run(ctx, exchange); err != nil && ctx.Err() == nil {
			return fmt.Errorf("ingest: %w", err)
		}
		return nil
	})
}

// startHTTPServer registers the API, the replay websocket and the archive
// schedule on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	sdeps, err := a.sessionDeps(deps, false)
	if err != nil {
		return err
	}
	manager := session.NewManager(sdeps)

	validator, err := ws.NewRequestValidator()
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, manager),
		Sessions: handler.NewSessionHandler(manager, deps.Sessions, deps.Chunks, deps.Archive, a.logger),
		Replay:   ws.NewReplayHandler(manager, validator, a.cfg.Server.CORSOrigins, a.logger),
	}
	if deps.Books != nil {
		handlers.OrderBook = handler.NewOrderBookHandler(deps.Books, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, deps.Registry, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = defaultShutdown
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		manager.Shutdown(timeout)
		return err
	})

	if deps.Archiver != nil && a.cfg.Server.ArchiveCron != "" {
		g.Go(func() error {
			err := deps.Archiver.RunCron(ctx, a.cfg.Server.ArchiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archive cron: %w", err)
		})
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
