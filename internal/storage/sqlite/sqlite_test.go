package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpen_FileAppliesMigrations(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM refresh_tokens`))
	require.Zero(t, n)
}

func TestOpen_Memory(t *testing.T) {
	db, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`INSERT INTO users (id, tenant_id, username, username_norm, password_hash, created_at)
		VALUES ('a', 't', 'u', 'u', 'h', 0)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (id, tenant_id, username, username_norm, password_hash, created_at)
		VALUES ('b', 't', 'u', 'u', 'h', 0)`)
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestIsUniqueViolation_Plain(t *testing.T) {
	require.False(t, IsUniqueViolation(nil))
	require.False(t, IsUniqueViolation(errors.New("boom")))
	require.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: users.id")))
}

func TestMillis_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 123_000_000, time.FixedZone("x", 3600))
	require.True(t, ts.Equal(FromMillis(Millis(ts))))
	require.Equal(t, time.UTC, FromMillis(Millis(ts)).Location())
}
