package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

type memWriter struct {
	objects     map[string][]byte
	contentType string
	multipart   bool
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = b
	w.contentType = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	w.multipart = true
	return w.Put(ctx, path, data, "")
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}
func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestChunkArchiver_WritesJSONL(t *testing.T) {
	w := &memWriter{}
	audit := &memAudit{}
	a := NewChunkArchiver(w, audit, "")

	chunks := []domain.ChunkInfo{
		{Number: 1, Profit: decimal.RequireFromString("-1.5"), TradeCount: 10},
		{Number: 2, Profit: decimal.RequireFromString("3.25"), TradeCount: 4},
	}
	key, err := a.ArchiveChunks(context.Background(), "sess-1", chunks)
	require.NoError(t, err)
	assert.Equal(t, "archive/chunks/sess-1.jsonl", key)
	assert.Equal(t, "application/x-ndjson", w.contentType)
	assert.False(t, w.multipart)
	assert.Equal(t, []string{"archive.chunks"}, audit.events)

	sc := bufio.NewScanner(bytes.NewReader(w.objects[key]))
	var got []domain.ChunkInfo
	for sc.Scan() {
		var c domain.ChunkInfo
		require.NoError(t, json.Unmarshal(sc.Bytes(), &c))
		got = append(got, c)
	}
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].Number)
	assert.True(t, got[0].Profit.Equal(decimal.RequireFromString("-1.5")))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
	assert.Equal(t, "https://minio.internal:9443", normaliseEndpoint("minio.internal:9443", true))
	assert.Equal(t, "http://127.0.0.1:9000", normaliseEndpoint("127.0.0.1:9000", false))
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.False(t, isNotFound(io.ErrUnexpectedEOF))
	assert.True(t, isNotFound(fmt.Errorf("get: %w", &types.NoSuchKey{})))
	assert.True(t, isNotFound(&types.NotFound{}))
}
