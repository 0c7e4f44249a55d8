package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// WriterSink writes snapshots as JSON lines, e.g. to stdout in backtest mode.
// A nil writer only counts.
type WriterSink struct {
	mu    sync.Mutex
	enc   *json.Encoder
	count int64
	done  chan struct{}
	once  sync.Once
}

// NewWriterSink creates a WriterSink on w.
func NewWriterSink(w io.Writer) *WriterSink {
	s := &WriterSink{done: make(chan struct{})}
	if w != nil {
		s.enc = json.NewEncoder(w)
		s.enc.SetEscapeHTML(false)
	}
	return s
}

func (s *WriterSink) Send(_ context.Context, snap domain.TradeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isClosed(s.done) {
		return domain.ErrSinkClosed
	}
	s.count++
	if s.enc == nil {
		return nil
	}
	if err := s.enc.Encode(snap); err != nil {
		return fmt.Errorf("writer sink: %w", err)
	}
	return nil
}

func (s *WriterSink) Done() <-chan struct{} { return s.done }

// Close marks the sink as gone.
func (s *WriterSink) Close() {
	s.once.Do(func() { close(s.done) })
}

// Count is the number of snapshots accepted.
func (s *WriterSink) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
