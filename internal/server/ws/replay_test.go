package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/executor"
	"github.com/alanyoungcy/tickreplay/internal/pipeline"
	"github.com/alanyoungcy/tickreplay/internal/session"
	"github.com/alanyoungcy/tickreplay/internal/tradelog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLog is a read-only trade log over fixed values with integer offsets.
type memLog struct {
	mu     sync.Mutex
	values [][]byte
}

func (l *memLog) Append(context.Context, string, []byte) (string, error) {
	return "", errors.New("read only")
}

func (l *memLog) Read(_ context.Context, after string, max int) ([]domain.LogRecord, error) {
	start := 0
	if after != "" {
		n, err := strconv.Atoi(after)
		if err != nil {
			return nil, err
		}
		start = n + 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.LogRecord
	for i := start; i < len(l.values) && len(out) < max; i++ {
		out = append(out, domain.LogRecord{Offset: strconv.Itoa(i), Key: strconv.Itoa(i), Value: l.values[i]})
	}
	return out, nil
}

func (l *memLog) Commit(context.Context, string, string) error { return nil }
func (l *memLog) Committed(context.Context, string) (string, error) {
	return "", domain.ErrNotFound
}
func (l *memLog) Close() error { return nil }

func newManager(t *testing.T, n int) *session.Manager {
	t.Helper()
	book := domain.OrderBookSnapshot{
		Asks: []domain.PriceLevel{{Price: decimal.NewFromInt(101), Amount: decimal.NewFromInt(2)}},
		Bids: []domain.PriceLevel{{Price: decimal.NewFromInt(99), Amount: decimal.NewFromInt(1)}},
	}
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	log := &memLog{}
	for i := 0; i < n; i++ {
		tr := domain.NewTrade(int64(10*(i+1)), t0.Add(time.Duration(i)*time.Second),
			decimal.NewFromInt(int64(100+i)), decimal.RequireFromString("0.5"), domain.MakerBuy).WithOrderBook(book)
		_, v, err := tradelog.Encode(tr)
		require.NoError(t, err)
		log.values = append(log.values, v)
	}

	return session.NewManager(session.Deps{
		Dial: func(context.Context) (domain.TradeLog, error) { return log, nil },
		Pipeline: pipeline.Config{
			WindowSize:       20,
			MaxGap:           time.Hour,
			StartingCurrency: decimal.NewFromInt(1000),
			StartingCoin:     decimal.NewFromInt(1),
			Simulator: executor.SimulatorConfig{
				BuyAmount:  decimal.RequireFromString("0.01"),
				SellAmount: decimal.RequireFromString("0.01"),
			},
		},
		Consumer: tradelog.ConsumerConfig{
			StopWhenIdle: true,
			Backoff:      tradelog.BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 2},
		},
		CloseTimeout: time.Second,
		Logger:       testLogger(),
	})
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func newTestServer(t *testing.T, m *session.Manager) *httptest.Server {
	t.Helper()
	v, err := NewRequestValidator()
	require.NoError(t, err)
	srv := httptest.NewServer(NewReplayHandler(m, v, nil, testLogger()))
	t.Cleanup(srv.Close)
	return srv
}

func TestReplayHandler_StreamsSnapshotsThenCloses(t *testing.T) {
	srv := newTestServer(t, newManager(t, 3))
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"ws-1","ups":1}`)))

	var ids []int64
	for {
		var snap domain.TradeSnapshot
		err := conn.ReadJSON(&snap)
		if err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
			assert.Equal(t, string(domain.SessionCompleted), ce.Text)
			break
		}
		ids = append(ids, snap.ID)
	}
	assert.Equal(t, []int64{10, 20, 30}, ids)
}

func TestReplayHandler_InvalidRequestClosesWithPolicyViolation(t *testing.T) {
	srv := newTestServer(t, newManager(t, 1))
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ups":-1}`)))

	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Contains(t, ce.Text, "invalid session request")
}

func TestConnSink_SendAfterClose(t *testing.T) {
	s := newConnSink()
	s.close()
	s.close()
	err := s.Send(context.Background(), domain.TradeSnapshot{ID: 1})
	assert.ErrorIs(t, err, domain.ErrSinkClosed)
}

func TestTruncateReason(t *testing.T) {
	assert.Equal(t, "completed", truncateReason("completed"))

	ascii := strings.Repeat("a", 200)
	assert.Len(t, truncateReason(ascii), maxCloseReason)

	// 122 ASCII bytes then a 3-byte rune straddling the limit.
	multi := strings.Repeat("a", 122) + "€" + "tail"
	got := truncateReason(multi)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 122), got)

	accents := strings.Repeat("é", 100)
	got = truncateReason(accents)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxCloseReason)
	assert.Len(t, got, 122)
}
