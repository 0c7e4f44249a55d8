package tradelog

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// memLog is an in-memory single-partition log shared by every client it
// dials. Errors queued in the *Errs slices are returned one per call.
type memLog struct {
	mu      sync.Mutex
	recs    []domain.LogRecord
	commits map[string]string

	dialErrs   []error
	appendErrs []error
	readErrs   []error

	blockWhenEmpty bool

	dials   int
	closes  int
	appends int
}

func newMemLog() *memLog { return &memLog{commits: make(map[string]string)} }

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (m *memLog) dialer() domain.TradeLogDialer {
	return func(ctx context.Context) (domain.TradeLog, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.dials++
		if err := pop(&m.dialErrs); err != nil {
			return nil, err
		}
		return &memClient{log: m}, nil
	}
}

func (m *memLog) counts() (dials, closes, appends int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials, m.closes, m.appends
}

func (m *memLog) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.recs))
	for i, r := range m.recs {
		out[i] = r.Key
	}
	return out
}

type memClient struct{ log *memLog }

func (c *memClient) Append(_ context.Context, key string, value []byte) (string, error) {
	m := c.log
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if err := pop(&m.appendErrs); err != nil {
		return "", err
	}
	off := strconv.Itoa(len(m.recs) + 1)
	m.recs = append(m.recs, domain.LogRecord{Offset: off, Key: key, Value: value})
	return off, nil
}

func (c *memClient) Read(ctx context.Context, after string, max int) ([]domain.LogRecord, error) {
	m := c.log
	m.mu.Lock()
	if err := pop(&m.readErrs); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	start := 0
	if after != "" {
		start, _ = strconv.Atoi(after)
	}
	end := min(start+max, len(m.recs))
	var out []domain.LogRecord
	if start < end {
		out = append(out, m.recs[start:end]...)
	}
	block := m.blockWhenEmpty && len(out) == 0
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return out, nil
}

func (c *memClient) Commit(_ context.Context, group, offset string) error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	c.log.commits[group] = offset
	return nil
}

func (c *memClient) Committed(_ context.Context, group string) (string, error) {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	off, ok := c.log.commits[group]
	if !ok {
		return "", domain.ErrNotFound
	}
	return off, nil
}

func (c *memClient) Close() error {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	c.log.closes++
	return nil
}

func fastBackoff(attempts int) BackoffConfig {
	return BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: attempts}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
