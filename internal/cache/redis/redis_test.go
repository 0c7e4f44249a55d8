package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	return c, mr
}

func TestTradeLog_AppendReadCommit(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	log := NewTradeLog(c, TradeLogConfig{Stream: "trades", Block: 10 * time.Millisecond})
	defer log.Close()

	var offsets []string
	for _, k := range []string{"10", "20", "30"} {
		off, err := log.Append(ctx, k, []byte(`{"id":`+k+`}`))
		require.NoError(t, err)
		offsets = append(offsets, off)
	}

	recs, err := log.Read(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "10", recs[0].Key)
	assert.Equal(t, `{"id":20}`, string(recs[1].Value))
	assert.Equal(t, offsets[1], recs[1].Offset)

	recs, err = log.Read(ctx, offsets[1], 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "30", recs[0].Key)

	recs, err = log.Read(ctx, offsets[2], 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = log.Committed(ctx, "g")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, log.Commit(ctx, "g", offsets[0]))
	got, err := log.Committed(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, offsets[0], got)

	n, err := log.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTradeLogDialer(t *testing.T) {
	mr := miniredis.RunT(t)
	dial := NewTradeLogDialer(ClientConfig{Addr: mr.Addr()}, TradeLogConfig{Stream: "s"})

	l, err := dial(context.Background())
	require.NoError(t, err)
	_, err = l.Append(context.Background(), "1", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	mr.Close()
	_, err = dial(context.Background())
	assert.Error(t, err)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLockManager_ExclusiveAndRelease(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c, discard())
	ctx := context.Background()

	l, err := lm.Acquire(ctx, "ingest", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "ingest", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	l.Release()
	l.Release()

	l2, err := lm.Acquire(ctx, "ingest", time.Minute)
	require.NoError(t, err)
	l2.Release()
}

func TestLockManager_LostWhenStolen(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c, discard())

	l, err := lm.Acquire(context.Background(), "ingest", 150*time.Millisecond)
	require.NoError(t, err)
	defer l.Release()

	require.NoError(t, mr.Set("lock:ingest", "someone-else"))
	select {
	case <-l.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("lock loss not detected")
	}
	v, _ := mr.Get("lock:ingest")
	l.Release()
	after, _ := mr.Get("lock:ingest")
	assert.Equal(t, v, after, "release must not delete a lock held by someone else")
}

func TestRateLimiter_Allow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "5.6.7.8", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := rl.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = rl.Allow(ctx, "k", 1, time.Minute)
	assert.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBookCache_Latest(t *testing.T) {
	c, _ := newTestClient(t)
	bc := NewBookCache(c, time.Minute)
	ctx := context.Background()

	_, _, err := bc.GetLatest(ctx, "btcusd")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	book := domain.OrderBookSnapshot{
		Asks: []domain.PriceLevel{{Price: decimal.RequireFromString("101"), Amount: decimal.RequireFromString("2")}},
		Bids: []domain.PriceLevel{{Price: decimal.RequireFromString("99"), Amount: decimal.RequireFromString("3")}},
	}
	at := time.UnixMilli(1700000000123).UTC()
	require.NoError(t, bc.SetLatest(ctx, "btcusd", book, at))

	got, gotAt, err := bc.GetLatest(ctx, "btcusd")
	require.NoError(t, err)
	assert.Equal(t, at, gotAt)
	require.Len(t, got.Asks, 1)
	assert.True(t, got.Asks[0].Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, got.Bids[0].Amount.Equal(decimal.NewFromInt(3)))
}
