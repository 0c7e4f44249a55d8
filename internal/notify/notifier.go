// Package notify fans replay events out to chat channels. Each Sender is one
// channel; the Notifier filters by event type before dispatching.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// Event types understood by the Notifier.
const (
	EventChunkCompleted   = "chunk_completed"
	EventTransportStopped = "transport_stopped"
	EventSessionFailed    = "session_failed"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender. An empty event list allows all events.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title and message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// ChunkCompleted reports a closed chunk of a session.
func (n *Notifier) ChunkCompleted(ctx context.Context, sessionID string, c domain.ChunkInfo) error {
	msg := fmt.Sprintf("session %s chunk %d closed: profit %s over %d trades (%s -> %s)",
		sessionID, c.Number, c.Profit.StringFixed(2), c.TradeCount,
		c.StartPrice.String(), c.EndPrice.String())
	return n.Notify(ctx, EventChunkCompleted, "Chunk completed", msg)
}

// TransportStopped reports a producer or consumer that gave up.
func (n *Notifier) TransportStopped(ctx context.Context, role string, cause error) error {
	msg := fmt.Sprintf("trade log %s stopped: %v", role, cause)
	return n.Notify(ctx, EventTransportStopped, "Transport stopped", msg)
}

// SessionFailed reports a replay session that ended with an error.
func (n *Notifier) SessionFailed(ctx context.Context, sessionID string, cause error) error {
	msg := fmt.Sprintf("session %s failed: %v", sessionID, cause)
	return n.Notify(ctx, EventSessionFailed, "Session failed", msg)
}

// dispatch delivers to every sender; one failing sender does not block the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
