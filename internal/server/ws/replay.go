// Package ws serves replay sessions over websocket: the client sends a
// session request as its first text frame and then receives one JSON
// snapshot per processed trade.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/session"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// requestWait bounds how long a client may take to send its request.
	requestWait = 30 * time.Second
	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096
	// sendBufferSize is the per-connection snapshot buffer.
	sendBufferSize = 256
	// maxCloseReason is the payload limit of a close frame minus the code.
	maxCloseReason = 123
)

// SessionStarter starts replay sessions.
type SessionStarter interface {
	Start(ctx context.Context, cfg domain.TradingConfig, sink session.Sink) (*session.ReplaySession, error)
}

// ReplayHandler upgrades GET /ws/replay and runs one session per connection.
type ReplayHandler struct {
	sessions  SessionStarter
	validator *RequestValidator
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewReplayHandler creates a ReplayHandler. An empty origins list accepts
// any origin.
func NewReplayHandler(sessions SessionStarter, validator *RequestValidator, origins []string, logger *slog.Logger) *ReplayHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &ReplayHandler{
		sessions:  sessions,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
		logger: logger.With(slog.String("component", "ws_replay")),
	}
}

// connSink adapts a websocket connection to session.Sink. Send blocks while
// the buffer is full so no snapshot is dropped.
type connSink struct {
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newConnSink() *connSink {
	return &connSink{out: make(chan []byte, sendBufferSize), done: make(chan struct{})}
}

func (s *connSink) Send(ctx context.Context, snap domain.TradeSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ws: marshal snapshot %d: %w", snap.ID, err)
	}
	select {
	case <-s.done:
		return domain.ErrSinkClosed
	default:
	}
	select {
	case s.out <- data:
		return nil
	case <-s.done:
		return domain.ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *connSink) Done() <-chan struct{} { return s.done }

func (s *connSink) close() { s.once.Do(func() { close(s.done) }) }

// ServeHTTP handles GET /ws/replay.
func (h *ReplayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(requestWait))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		h.logger.Debug("no session request", slog.String("error", err.Error()))
		return
	}
	if msgType != websocket.TextMessage {
		closeWith(conn, websocket.CloseUnsupportedData, "session request must be a text frame")
		return
	}

	cfg, err := h.validator.Parse(raw)
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	sink := newConnSink()
	defer sink.close()
	sess, err := h.sessions.Start(r.Context(), cfg, sink)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, domain.ErrSessionExists) {
			code = websocket.ClosePolicyViolation
		}
		closeWith(conn, code, err.Error())
		return
	}
	h.logger.Info("replay client attached", slog.String("session_id", sess.ID()), slog.String("remote_addr", r.RemoteAddr))

	go h.readPump(conn, sink)
	h.writePump(conn, sink, sess)
}

// readPump detects client disconnects. Frames after the request are ignored.
func (h *ReplayHandler) readPump(conn *websocket.Conn, sink *connSink) {
	defer sink.close()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump forwards snapshots and pings until the session ends or the
// client goes away, then closes with the session status as the reason.
func (h *ReplayHandler) writePump(conn *websocket.Conn, sink *connSink, sess *session.ReplaySession) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(data []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case data := <-sink.out:
			if !write(data) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sink.done:
			return
		case <-sess.Done():
			// Sends have finished; flush what is buffered.
			for len(sink.out) > 0 {
				if !write(<-sink.out) {
					return
				}
			}
			status, cause := sess.Status()
			reason := string(status)
			code := websocket.CloseNormalClosure
			if cause != nil {
				reason += ": " + cause.Error()
				code = websocket.CloseInternalServerErr
			}
			closeWith(conn, code, reason)
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, truncateReason(reason)),
		time.Now().Add(writeWait))
}

// truncateReason fits reason into a close frame without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
