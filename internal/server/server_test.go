package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/instrumentation"
	"github.com/alanyoungcy/tickreplay/internal/server/handler"
	"github.com/alanyoungcy/tickreplay/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRegistry struct {
	infos     []session.Info
	cancelled []string
}

func (f *fakeRegistry) List() []session.Info { return f.infos }
func (f *fakeRegistry) Len() int             { return len(f.infos) }
func (f *fakeRegistry) Cancel(id string) error {
	for _, in := range f.infos {
		if in.ID == id {
			f.cancelled = append(f.cancelled, id)
			return nil
		}
	}
	return domain.ErrSessionNotFound
}

type fakeSessions struct{ recs []domain.SessionRecord }

func (f *fakeSessions) Create(context.Context, domain.SessionRecord) error { return nil }
func (f *fakeSessions) Finish(context.Context, string, domain.SessionStatus, int64, string) error {
	return nil
}
func (f *fakeSessions) GetByID(context.Context, string) (domain.SessionRecord, error) {
	return domain.SessionRecord{}, domain.ErrNotFound
}
func (f *fakeSessions) List(_ context.Context, opts domain.ListOpts) ([]domain.SessionRecord, error) {
	if opts.Offset >= len(f.recs) {
		return nil, nil
	}
	return f.recs[opts.Offset:], nil
}

type fakeChunks struct{ byID map[string][]domain.ChunkInfo }

func (f *fakeChunks) Insert(context.Context, string, domain.ChunkInfo) error { return nil }
func (f *fakeChunks) ListBySession(_ context.Context, id string) ([]domain.ChunkInfo, error) {
	return f.byID[id], nil
}

type fakeArchive struct{ objects map[string]string }

func (f *fakeArchive) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeArchive) ArchiveKey(id string) string { return "archive/chunks/" + id + ".jsonl" }

type fakeBooks struct {
	books map[string]domain.OrderBookSnapshot
}

func (f *fakeBooks) SetLatest(context.Context, string, domain.OrderBookSnapshot, time.Time) error {
	return nil
}
func (f *fakeBooks) GetLatest(_ context.Context, pair string) (domain.OrderBookSnapshot, time.Time, error) {
	b, ok := f.books[pair]
	if !ok {
		return domain.OrderBookSnapshot{}, time.Time{}, domain.ErrNotFound
	}
	return b, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), nil
}

type denyAfter struct {
	mu    sync.Mutex
	limit int
	seen  map[string]int
}

func (d *denyAfter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]int{}
	}
	d.seen[key]++
	return d.seen[key] <= d.limit, nil
}

type fixture struct {
	srv      *httptest.Server
	registry *fakeRegistry
}

func newFixture(t *testing.T, checks map[string]handler.HealthCheck, limiter domain.RateLimiter) *fixture {
	t.Helper()
	logger := testLogger()
	reg := &fakeRegistry{infos: []session.Info{{ID: "live-1", Status: domain.SessionRunning}}}
	sessions := &fakeSessions{recs: []domain.SessionRecord{{ID: "old-1", Status: domain.SessionCompleted, Trades: 12}}}
	chunks := &fakeChunks{byID: map[string][]domain.ChunkInfo{
		"old-1": {{Number: 1, Profit: decimal.RequireFromString("1.5"), TradeCount: 4}},
	}}
	archive := &fakeArchive{objects: map[string]string{"archive/chunks/old-1.jsonl": "{\"chunkNumber\":1}\n"}}
	books := &fakeBooks{books: map[string]domain.OrderBookSnapshot{"btcusd": {
		Asks: []domain.PriceLevel{{Price: decimal.NewFromInt(101), Amount: decimal.NewFromInt(1)}},
	}}}

	promReg := prometheus.NewRegistry()
	metrics := instrumentation.NewMetrics(promReg)
	metrics.RecordProcessed()

	s := NewServer(Config{RateLimit: 2, RateWindow: time.Minute}, Handlers{
		Health:    handler.NewHealthHandler(checks, logger),
		Status:    handler.NewStatusHandler("server", reg),
		Sessions:  handler.NewSessionHandler(reg, sessions, chunks, archive, logger),
		OrderBook: handler.NewOrderBookHandler(books, logger),
	}, limiter, promReg, logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, registry: reg}
}

func (f *fixture) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestServer_Health(t *testing.T) {
	ok := newFixture(t, map[string]handler.HealthCheck{
		"redis": func(context.Context) error { return nil },
	}, nil)
	resp, body := ok.do(t, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))

	bad := newFixture(t, map[string]handler.HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}, nil)
	resp, body = bad.do(t, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var out struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "degraded", out.Status)
	assert.Equal(t, "ok", out.Checks["redis"])
	assert.Equal(t, "connection refused", out.Checks["postgres"])
}

func TestServer_Sessions(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, body := f.do(t, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Running []session.Info `json:"running"`
		History []struct {
			ID     string `json:"id"`
			Trades int64  `json:"trades"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Running, 1)
	assert.Equal(t, "live-1", list.Running[0].ID)
	require.Len(t, list.History, 1)
	assert.Equal(t, "old-1", list.History[0].ID)
	assert.Equal(t, int64(12), list.History[0].Trades)

	resp, _ = f.do(t, http.MethodDelete, "/api/sessions/live-1")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"live-1"}, f.registry.cancelled)

	resp, _ = f.do(t, http.MethodDelete, "/api/sessions/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/sessions/old-1/chunks")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chunks []domain.ChunkInfo
	require.NoError(t, json.Unmarshal(body, &chunks))
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Profit.Equal(decimal.RequireFromString("1.5")))

	resp, body = f.do(t, http.MethodGet, "/api/sessions/unknown/chunks")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestServer_Archive(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, body := f.do(t, http.MethodGet, "/api/sessions/old-1/archive")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Equal(t, "{\"chunkNumber\":1}\n", string(body))

	resp, _ = f.do(t, http.MethodGet, "/api/sessions/missing/archive")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_StatusAndOrderBook(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, body := f.do(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"mode":"server"`)
	assert.Contains(t, string(body), `"active_sessions":1`)

	resp, body = f.do(t, http.MethodGet, "/api/orderbook/BTCUSD")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"pair":"btcusd"`)

	resp, _ = f.do(t, http.MethodGet, "/api/orderbook/ethusd")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t, nil, nil)
	resp, body := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(body, []byte("tickreplay_")), "exported collectors")
}

func TestServer_RateLimit(t *testing.T) {
	f := newFixture(t, nil, &denyAfter{limit: 2})
	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodGet, "/api/status")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := f.do(t, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "metrics are outside /api")
}

func TestServer_CORSPreflight(t *testing.T) {
	f := newFixture(t, nil, nil)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
