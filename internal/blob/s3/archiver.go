package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

const (
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
	contentTypeJSONL   = "application/x-ndjson"
)

// ChunkArchiver implements domain.ChunkArchiver by writing a session's chunks
// as JSONL to archive/chunks/{sessionID}.jsonl and recording the upload in
// the audit log.
type ChunkArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	prefix string
}

// NewChunkArchiver creates a ChunkArchiver. audit may be nil.
func NewChunkArchiver(writer domain.BlobWriter, audit domain.AuditStore, prefix string) *ChunkArchiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &ChunkArchiver{writer: writer, audit: audit, prefix: prefix}
}

// ArchiveKey returns the object key for a session.
func (a *ChunkArchiver) ArchiveKey(sessionID string) string {
	return fmt.Sprintf("%s/chunks/%s.jsonl", a.prefix, sessionID)
}

// ArchiveChunks uploads chunks and returns the object key.
func (a *ChunkArchiver) ArchiveChunks(ctx context.Context, sessionID string, chunks []domain.ChunkInfo) (string, error) {
	buf, err := marshalJSONL(chunks)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive chunks marshal: %w", err)
	}

	key := a.ArchiveKey(sessionID)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive chunks upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.chunks", map[string]any{
			"session_id": sessionID,
			"path":       key,
			"count":      len(chunks),
			"bytes":      len(buf),
		}); err != nil {
			return key, fmt.Errorf("s3blob: archive chunks audit log: %w", err)
		}
	}
	return key, nil
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.ChunkArchiver = (*ChunkArchiver)(nil)
