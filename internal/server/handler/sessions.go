package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/session"
)

// SessionRegistry is the view of the session manager the API needs.
type SessionRegistry interface {
	List() []session.Info
	Cancel(id string) error
}

// ArchiveSource reads archived session chunks.
type ArchiveSource interface {
	domain.BlobReader
	ArchiveKey(sessionID string) string
}

// SessionHandler serves the session endpoints. The stores and archive are
// optional; endpoints that need a missing one answer 503.
type SessionHandler struct {
	registry SessionRegistry
	sessions domain.SessionStore
	chunks   domain.ChunkStore
	archive  ArchiveSource
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(registry SessionRegistry, sessions domain.SessionStore, chunks domain.ChunkStore, archive ArchiveSource, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		registry: registry,
		sessions: sessions,
		chunks:   chunks,
		archive:  archive,
		logger:   logHandler(logger, "sessions"),
	}
}

type sessionView struct {
	ID         string               `json:"id"`
	Config     domain.TradingConfig `json:"config"`
	Status     domain.SessionStatus `json:"status"`
	Error      string               `json:"error,omitempty"`
	Trades     int64                `json:"trades"`
	Chunks     int                  `json:"chunks"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt *time.Time           `json:"finishedAt,omitempty"`
}

// ListSessions returns the running sessions and, when a session store is
// configured, the stored history.
// GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	running := h.registry.List()
	out := map[string]any{"running": running}

	if h.sessions != nil {
		recs, err := h.sessions.List(r.Context(), parseListOpts(r))
		if err != nil {
			h.logger.Error("list sessions", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list sessions")
			return
		}
		history := make([]sessionView, 0, len(recs))
		for _, rec := range recs {
			history = append(history, sessionView{
				ID:         rec.ID,
				Config:     rec.Config,
				Status:     rec.Status,
				Error:      rec.Error,
				Trades:     rec.Trades,
				Chunks:     rec.Chunks,
				StartedAt:  rec.StartedAt,
				FinishedAt: rec.FinishedAt,
			})
		}
		out["history"] = history
	}

	writeJSON(w, http.StatusOK, out)
}

// CancelSession cancels a running session.
// DELETE /api/sessions/{id}
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.registry.Cancel(id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not running")
			return
		}
		h.logger.Error("cancel session", slog.String("session_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to cancel session")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// ListChunks returns the persisted chunks of a session.
// GET /api/sessions/{id}/chunks
func (h *SessionHandler) ListChunks(w http.ResponseWriter, r *http.Request) {
	if h.chunks == nil {
		writeError(w, http.StatusServiceUnavailable, "chunk store not configured")
		return
	}
	id := pathParam(r, "id")
	chunks, err := h.chunks.ListBySession(r.Context(), id)
	if err != nil {
		h.logger.Error("list chunks", slog.String("session_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list chunks")
		return
	}
	if chunks == nil {
		chunks = []domain.ChunkInfo{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

// GetArchive streams the archived JSONL chunks of a session.
// GET /api/sessions/{id}/archive
func (h *SessionHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	id := pathParam(r, "id")
	body, err := h.archive.Get(r.Context(), h.archive.ArchiveKey(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.Error("get archive", slog.String("session_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to read archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream archive", slog.String("session_id", id), slog.String("error", err.Error()))
	}
}
