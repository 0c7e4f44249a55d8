package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Create inserts a running session. It returns domain.ErrAlreadyExists if the
// id was used before.
func (s *SessionStore) Create(ctx context.Context, rec domain.SessionRecord) error {
	cfgJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal session config %s: %w", rec.ID, err)
	}

	const query = `
		INSERT INTO replay_sessions (id, config, status, started_at)
		VALUES ($1, $2, $3, $4)`
	_, err = s.pool.Exec(ctx, query, rec.ID, cfgJSON, string(rec.Status), rec.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create session %s: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create session %s: %w", rec.ID, err)
	}
	return nil
}

// Finish records the terminal status of a session.
func (s *SessionStore) Finish(ctx context.Context, id string, status domain.SessionStatus, trades int64, errMsg string) error {
	const query = `
		UPDATE replay_sessions
		SET status = $2, trades = $3, error = $4, finished_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), trades, errMsg)
	if err != nil {
		return fmt.Errorf("postgres: finish session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const sessionColumns = `
	s.id, s.config, s.status, s.error, s.trades, s.started_at, s.finished_at,
	(SELECT COUNT(*) FROM replay_chunks c WHERE c.session_id = s.id)`

func scanSession(row pgx.Row) (domain.SessionRecord, error) {
	var (
		rec     domain.SessionRecord
		cfgJSON []byte
		status  string
		chunks  int64
	)
	if err := row.Scan(&rec.ID, &cfgJSON, &status, &rec.Error, &rec.Trades, &rec.StartedAt, &rec.FinishedAt, &chunks); err != nil {
		return domain.SessionRecord{}, err
	}
	if err := json.Unmarshal(cfgJSON, &rec.Config); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("unmarshal config: %w", err)
	}
	rec.Status = domain.SessionStatus(status)
	rec.Chunks = int(chunks)
	return rec, nil
}

// GetByID returns one session or domain.ErrNotFound.
func (s *SessionStore) GetByID(ctx context.Context, id string) (domain.SessionRecord, error) {
	query := `SELECT` + sessionColumns + ` FROM replay_sessions s WHERE s.id = $1`
	rec, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionRecord{}, domain.ErrNotFound
		}
		return domain.SessionRecord{}, fmt.Errorf("postgres: get session %s: %w", id, err)
	}
	return rec, nil
}

// List returns sessions newest first.
func (s *SessionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SessionRecord, error) {
	query := `SELECT` + sessionColumns + ` FROM replay_sessions s ORDER BY s.started_at DESC`
	query, args := paginate(query, nil, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sessions rows: %w", err)
	}
	return out, nil
}

// paginate appends LIMIT/OFFSET placeholders after the existing args.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// Compile-time interface check.
var _ domain.SessionStore = (*SessionStore)(nil)
