package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// SessionStatus is the lifecycle state of a replay session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionFailed    SessionStatus = "failed"
)

// SessionRecord is the persisted view of a replay session.
type SessionRecord struct {
	ID         string
	Config     TradingConfig
	Status     SessionStatus
	Error      string
	Trades     int64
	Chunks     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// SessionStore persists replay session lifecycles.
type SessionStore interface {
	Create(ctx context.Context, rec SessionRecord) error
	Finish(ctx context.Context, id string, status SessionStatus, trades int64, errMsg string) error
	GetByID(ctx context.Context, id string) (SessionRecord, error)
	List(ctx context.Context, opts ListOpts) ([]SessionRecord, error)
}

// ChunkStore persists completed chunks per session.
type ChunkStore interface {
	Insert(ctx context.Context, sessionID string, chunk ChunkInfo) error
	ListBySession(ctx context.Context, sessionID string) ([]ChunkInfo, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
