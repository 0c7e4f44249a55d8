package tradelog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

func seed(t *testing.T, m *memLog, n int) {
	t.Helper()
	p := NewProducer(m.dialer(), ProducerConfig{Backoff: fastBackoff(3)}, testLogger())
	for i := 1; i <= n; i++ {
		_, err := p.Send(context.Background(), sampleTrade(int64(i)*10))
		require.NoError(t, err)
	}
	require.NoError(t, p.Close(time.Second))
}

func collect(keys *[]string) Handler {
	return func(_ context.Context, rec domain.LogRecord) bool {
		*keys = append(*keys, rec.Key)
		return true
	}
}

func TestConsumer_FromBeginningReadsAll(t *testing.T) {
	m := newMemLog()
	seed(t, m, 7)

	c := NewConsumer(m.dialer(), ConsumerConfig{BatchSize: 3, StopWhenIdle: true, Backoff: fastBackoff(3)}, testLogger())
	var keys []string
	require.NoError(t, c.Run(context.Background(), collect(&keys)))

	assert.Equal(t, []string{"10", "20", "30", "40", "50", "60", "70"}, keys)
	assert.Equal(t, "7", c.Position())
	assert.Empty(t, m.commits)
	<-c.Done()
	assert.NoError(t, c.Err())
}

func TestConsumer_HandlerStops(t *testing.T) {
	m := newMemLog()
	seed(t, m, 5)

	c := NewConsumer(m.dialer(), ConsumerConfig{Backoff: fastBackoff(3)}, testLogger())
	n := 0
	err := c.Run(context.Background(), func(context.Context, domain.LogRecord) bool {
		n++
		return n < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConsumer_ResumeAfterCommitted(t *testing.T) {
	m := newMemLog()
	seed(t, m, 6)

	first := NewConsumer(m.dialer(), ConsumerConfig{Mode: Resume, Group: "g", Backoff: fastBackoff(3)}, testLogger())
	var a []string
	require.NoError(t, first.Run(context.Background(), func(_ context.Context, rec domain.LogRecord) bool {
		a = append(a, rec.Key)
		return len(a) < 4
	}))
	assert.Equal(t, "3", m.commits["g"], "the record that stopped the handler is not committed")

	second := NewConsumer(m.dialer(), ConsumerConfig{Mode: Resume, Group: "g", StopWhenIdle: true, Backoff: fastBackoff(3)}, testLogger())
	var b []string
	require.NoError(t, second.Run(context.Background(), collect(&b)))
	assert.Equal(t, []string{"40", "50", "60"}, b)
	assert.Equal(t, "6", m.commits["g"])
}

func TestConsumer_TransientReadReconnects(t *testing.T) {
	m := newMemLog()
	seed(t, m, 4)
	m.readErrs = []error{errReset, errReset}

	c := NewConsumer(m.dialer(), ConsumerConfig{BatchSize: 2, StopWhenIdle: true, Backoff: fastBackoff(3)}, testLogger())
	var keys []string
	require.NoError(t, c.Run(context.Background(), collect(&keys)))
	assert.Equal(t, []string{"10", "20", "30", "40"}, keys)
}

func TestConsumer_FatalStops(t *testing.T) {
	m := newMemLog()
	seed(t, m, 2)
	m.readErrs = []error{errors.New("NOPERM this user has no permissions to run the 'xread' command")}

	c := NewConsumer(m.dialer(), ConsumerConfig{Backoff: fastBackoff(3)}, testLogger())
	err := c.Run(context.Background(), func(context.Context, domain.LogRecord) bool { return true })
	require.Error(t, err)

	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.Equal(t, err, c.Err())
}

func TestConsumer_ExhaustedBackoffStops(t *testing.T) {
	m := newMemLog()
	m.dialErrs = []error{errReset, errReset, errReset, errReset}

	c := NewConsumer(m.dialer(), ConsumerConfig{Backoff: fastBackoff(2)}, testLogger())
	err := c.Run(context.Background(), func(context.Context, domain.LogRecord) bool { return true })
	assert.ErrorIs(t, err, domain.ErrStopped)
}

func TestConsumer_CloseWakesBlockedPoll(t *testing.T) {
	m := newMemLog()
	m.blockWhenEmpty = true

	c := NewConsumer(m.dialer(), ConsumerConfig{Backoff: fastBackoff(3)}, testLogger())
	errc := make(chan error, 1)
	go func() {
		errc <- c.Run(context.Background(), func(context.Context, domain.LogRecord) bool { return true })
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close(time.Second))
	assert.NoError(t, <-errc)

	_, closes, _ := m.counts()
	assert.Equal(t, 1, closes)
}
