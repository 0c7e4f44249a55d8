package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/replay?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "replay"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationFiles_Ordered(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_late.sql":  {Data: []byte("--")},
		"migrations/002_mid.sql":   {Data: []byte("--")},
		"migrations/001_first.sql": {Data: []byte("--")},
		"migrations/README.md":     {Data: []byte("x")},
	}
	names, err := migrationFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_first.sql", "002_mid.sql", "010_late.sql"}, names)

	embedded, err := migrationFiles(migrationsFS)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_sessions.sql", "002_chunks.sql", "003_audit_log.sql"}, embedded)
}

func TestPaginate(t *testing.T) {
	q, args := paginate("SELECT 1", []any{"a"}, domain.ListOpts{Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT 1 LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{"a", 10, 20}, args)

	q, args = paginate("SELECT 1", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT 1", q)
	assert.Empty(t, args)
}
