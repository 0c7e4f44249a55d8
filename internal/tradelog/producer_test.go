package tradelog

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

var errReset = errors.New("read tcp 10.0.0.1:6379: connection reset by peer")

func newTestProducer(m *memLog, attempts int) *Producer {
	return NewProducer(m.dialer(), ProducerConfig{Backoff: fastBackoff(attempts)}, testLogger())
}

func TestProducer_RetriesTransientInPlace(t *testing.T) {
	m := newMemLog()
	m.appendErrs = []error{errReset, errReset}
	p := newTestProducer(m, 3)
	defer p.Close(time.Second)

	off, err := p.Send(context.Background(), sampleTrade(10))
	require.NoError(t, err)
	assert.Equal(t, "1", off)

	dials, _, appends := m.counts()
	assert.Equal(t, 1, dials)
	assert.Equal(t, 3, appends)
}

func TestProducer_ReconnectsAfterRepeatedTransient(t *testing.T) {
	m := newMemLog()
	m.appendErrs = []error{errReset, errReset, errReset}
	p := newTestProducer(m, 3)
	defer p.Close(time.Second)

	_, err := p.Send(context.Background(), sampleTrade(10))
	require.NoError(t, err)

	dials, closes, _ := m.counts()
	assert.Equal(t, 2, dials)
	assert.Equal(t, 1, closes)
}

func TestProducer_FatalReplacesClient(t *testing.T) {
	m := newMemLog()
	m.appendErrs = []error{domain.ErrFenced}
	p := newTestProducer(m, 3)
	defer p.Close(time.Second)

	_, err := p.Send(context.Background(), sampleTrade(10))
	require.NoError(t, err)

	dials, _, appends := m.counts()
	assert.Equal(t, 2, dials)
	assert.Equal(t, 2, appends, "fatal errors are not retried on the same client")
}

func TestProducer_StopsWhenReconnectsExhausted(t *testing.T) {
	m := newMemLog()
	for i := 0; i < 10; i++ {
		m.dialErrs = append(m.dialErrs, errReset)
	}
	p := newTestProducer(m, 2)
	defer p.Close(time.Second)

	_, err := p.Send(context.Background(), sampleTrade(10))
	assert.ErrorIs(t, err, domain.ErrStopped)
	assert.True(t, p.Stopped())

	dials, _, _ := m.counts()
	_, err = p.Send(context.Background(), sampleTrade(20))
	assert.ErrorIs(t, err, domain.ErrStopped)
	again, _, _ := m.counts()
	assert.Equal(t, dials, again, "a stopped producer never dials")
	assert.ErrorIs(t, p.SendAsync(sampleTrade(30), nil), domain.ErrStopped)
}

func TestProducer_OtherErrorReturned(t *testing.T) {
	m := newMemLog()
	m.appendErrs = []error{errors.New("ERR value too large")}
	p := newTestProducer(m, 3)
	defer p.Close(time.Second)

	_, err := p.Send(context.Background(), sampleTrade(10))
	assert.Error(t, err)
	assert.False(t, p.Stopped())

	_, err = p.Send(context.Background(), sampleTrade(20))
	assert.NoError(t, err)
}

func TestProducer_SendAsyncPreservesOrder(t *testing.T) {
	m := newMemLog()
	m.appendErrs = []error{errReset, errReset, errReset, errReset}
	p := newTestProducer(m, 5)

	var (
		mu      sync.Mutex
		results []SendResult
	)
	for i := 1; i <= 50; i++ {
		require.NoError(t, p.SendAsync(sampleTrade(int64(i)*10), func(r SendResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}))
	}
	require.NoError(t, p.Close(5*time.Second))

	want := make([]string, 0, 50)
	for i := 1; i <= 50; i++ {
		want = append(want, strconv.Itoa(i*10))
	}
	assert.Equal(t, want, m.keys())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 50)
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, int64(i+1)*10, r.TradeID)
	}
	assert.Error(t, p.SendAsync(sampleTrade(999), nil))
}

func TestProducer_SendAsyncNeverBlocksDuringBackoff(t *testing.T) {
	m := newMemLog()
	for i := 0; i < 100; i++ {
		m.dialErrs = append(m.dialErrs, errReset)
	}
	p := NewProducer(m.dialer(), ProducerConfig{
		Backoff:    BackoffConfig{Initial: 300 * time.Millisecond, Max: 300 * time.Millisecond, MaxAttempts: 50},
		AsyncQueue: 1,
	}, testLogger())

	errs := make(chan []error, 1)
	go func() {
		var out []error
		for i := 1; i <= 5; i++ {
			out = append(out, p.SendAsync(sampleTrade(int64(i)*10), nil))
		}
		errs <- out
	}()

	var got []error
	select {
	case got = <-errs:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("SendAsync blocked while the lane was backing off")
	}
	full := 0
	for _, err := range got {
		if errors.Is(err, ErrQueueFull) {
			full++
		}
	}
	assert.GreaterOrEqual(t, full, 3, "one queued and at most one in flight")

	closed := make(chan error, 1)
	go func() { closed <- p.Close(50 * time.Millisecond) }()
	select {
	case err := <-closed:
		assert.Error(t, err, "pending sends are abandoned")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Close did not honour its timeout")
	}
}
