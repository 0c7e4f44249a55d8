package handler

import (
	"net/http"
	"time"
)

// SessionCounter reports the number of running sessions.
type SessionCounter interface {
	Len() int
}

// StatusHandler serves the process status.
type StatusHandler struct {
	mode     string
	started  time.Time
	sessions SessionCounter
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, sessions SessionCounter) *StatusHandler {
	return &StatusHandler{mode: mode, started: time.Now(), sessions: sessions}
}

// GetStatus responds with the run mode, uptime and running session count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	active := 0
	if h.sessions != nil {
		active = h.sessions.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":            h.mode,
		"uptime_seconds":  int64(time.Since(h.started).Seconds()),
		"active_sessions": active,
	})
}
