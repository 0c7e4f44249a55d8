// Package server exposes the HTTP API and the websocket replay stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/server/handler"
	"github.com/alanyoungcy/tickreplay/internal/server/middleware"
	"github.com/alanyoungcy/tickreplay/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// RateLimit is the per-client request budget per RateWindow on /api.
	// Zero or a nil Limiter disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. OrderBook and
// Replay are optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Sessions  *handler.SessionHandler
	OrderBook *handler.OrderBookHandler
	Replay    *ws.ReplayHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger
}

// NewServer builds the chi router with the middleware chain and all routes.
// A nil gatherer leaves /metrics unregistered.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Route("/api", func(r chi.Router) {
		if limiter != nil && cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(limiter, "api:", cfg.RateLimit, cfg.RateWindow))
		}
		r.Get("/health", handlers.Health.HealthCheck)
		r.Get("/status", handlers.Status.GetStatus)
		r.Get("/sessions", handlers.Sessions.ListSessions)
		r.Delete("/sessions/{id}", handlers.Sessions.CancelSession)
		r.Get("/sessions/{id}/chunks", handlers.Sessions.ListChunks)
		r.Get("/sessions/{id}/archive", handlers.Sessions.GetArchive)
		if handlers.OrderBook != nil {
			r.Get("/orderbook/{pair}", handlers.OrderBook.GetLatest)
		}
	})

	if handlers.Replay != nil {
		r.Method(http.MethodGet, "/ws/replay", handlers.Replay)
	}
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return &Server{httpServer: srv, router: r, logger: logger}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline. Hijacked websocket
// connections are not tracked; sessions are shut down by their manager.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
