package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// ChunkStore implements domain.ChunkStore using PostgreSQL. Money columns are
// NUMERIC and travel as text to keep decimal precision exact.
type ChunkStore struct {
	pool *pgxpool.Pool
}

// NewChunkStore creates a new ChunkStore backed by the given connection pool.
func NewChunkStore(pool *pgxpool.Pool) *ChunkStore {
	return &ChunkStore{pool: pool}
}

// Insert stores a completed chunk. Re-inserting the same chunk number for a
// session is a no-op, since chunks never change once closed.
func (s *ChunkStore) Insert(ctx context.Context, sessionID string, c domain.ChunkInfo) error {
	const query = `
		INSERT INTO replay_chunks (
			session_id, chunk_number, profit, start_price, end_price,
			trade_count, start_time_millis, end_time_millis
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8)
		ON CONFLICT (session_id, chunk_number) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		sessionID, c.Number, c.Profit.String(), c.StartPrice.String(), c.EndPrice.String(),
		c.TradeCount, c.StartTimeMillis, c.EndTimeMillis,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert chunk %s/%d: %w", sessionID, c.Number, err)
	}
	return nil
}

// ListBySession returns the chunks of a session in order.
func (s *ChunkStore) ListBySession(ctx context.Context, sessionID string) ([]domain.ChunkInfo, error) {
	const query = `
		SELECT chunk_number, profit::text, start_price::text, end_price::text,
		       trade_count, start_time_millis, end_time_millis
		FROM replay_chunks
		WHERE session_id = $1
		ORDER BY chunk_number`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list chunks %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []domain.ChunkInfo
	for rows.Next() {
		var (
			c                  domain.ChunkInfo
			profit, start, end string
		)
		if err := rows.Scan(&c.Number, &profit, &start, &end, &c.TradeCount, &c.StartTimeMillis, &c.EndTimeMillis); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		if c.Profit, err = decimal.NewFromString(profit); err != nil {
			return nil, fmt.Errorf("postgres: chunk profit %q: %w", profit, err)
		}
		if c.StartPrice, err = decimal.NewFromString(start); err != nil {
			return nil, fmt.Errorf("postgres: chunk start price %q: %w", start, err)
		}
		if c.EndPrice, err = decimal.NewFromString(end); err != nil {
			return nil, fmt.Errorf("postgres: chunk end price %q: %w", end, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list chunks rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ChunkStore = (*ChunkStore)(nil)
