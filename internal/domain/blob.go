package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader fetches objects. Get returns ErrNotFound for missing objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// ChunkArchiver exports the chunk history of a finished session.
type ChunkArchiver interface {
	ArchiveChunks(ctx context.Context, sessionID string, chunks []ChunkInfo) (string, error)
}
