package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// Manager registers running sessions by id. The registration map is the only
// state shared between sessions.
type Manager struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*ReplaySession
}

// NewManager creates a Manager.
func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:     deps,
		logger:   deps.Logger.With(slog.String("component", "session_manager")),
		sessions: make(map[string]*ReplaySession),
	}
}

// Start registers a session and runs it on its own goroutine. An empty id is
// replaced by a generated one. Starting an id that is already running returns
// domain.ErrSessionExists.
func (m *Manager) Start(ctx context.Context, cfg domain.TradingConfig, sink Sink) (*ReplaySession, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	m.mu.Lock()
	if _, ok := m.sessions[cfg.SessionID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", cfg.SessionID, domain.ErrSessionExists)
	}
	s := newReplaySession(cfg, sink, m.deps)
	s.onFinish = func() { m.remove(s) }
	m.sessions[cfg.SessionID] = s
	m.mu.Unlock()

	if m.deps.Sessions != nil {
		rec := domain.SessionRecord{
			ID:        cfg.SessionID,
			Config:    cfg,
			Status:    domain.SessionRunning,
			StartedAt: s.started,
		}
		if err := m.deps.Sessions.Create(ctx, rec); err != nil {
			m.remove(s)
			if errors.Is(err, domain.ErrAlreadyExists) {
				// Ids stay unique across restarts so stored chunks never mix.
				return nil, fmt.Errorf("session %s: %w", cfg.SessionID, domain.ErrSessionExists)
			}
			return nil, fmt.Errorf("session %s: create record: %w", cfg.SessionID, err)
		}
	}
	s.audit(ctx, "session.started", map[string]any{
		"session_id": cfg.SessionID,
		"criteria":   s.pipeline.Criteria(),
	})

	go func() {
		if err := s.Run(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("session ended with error",
				slog.String("session_id", cfg.SessionID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return s, nil
}

// Get returns a running session.
func (m *Manager) Get(id string) (*ReplaySession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the running sessions ordered by start time.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*ReplaySession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len is the number of running sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Cancel stops a running session without waiting for teardown.
func (m *Manager) Cancel(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	s.Cancel()
	return nil
}

// Shutdown cancels every session and waits up to timeout for them to finish.
func (m *Manager) Shutdown(timeout time.Duration) {
	m.mu.Lock()
	sessions := make([]*ReplaySession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	deadline := time.After(timeout)
	for _, s := range sessions {
		s.Cancel()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
			m.logger.Warn("sessions still running at shutdown", slog.Int("remaining", m.Len()))
			return
		}
	}
}

// remove drops s from the map unless the id was re-registered since.
func (m *Manager) remove(s *ReplaySession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.ID()]; ok && cur == s {
		delete(m.sessions, s.ID())
	}
}
