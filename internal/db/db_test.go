package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenForTesting(t *testing.T) {
	db, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })

	var tableName string
	for _, want := range []string{"sessions", "turns"} {
		err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", want).Scan(&tableName)
		assert.NoError(t, err)
		assert.Equal(t, want, tableName)
	}
}

func TestOpenForTestingIsolated(t *testing.T) {
	a, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = a.Exec("INSERT INTO sessions (id) VALUES ('only-in-a')")
	require.NoError(t, err)

	var n int
	require.NoError(t, b.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n))
	assert.Zero(t, n)
}

func TestOpenFileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siteoptic.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Re-opening must not try to reapply migrations.
	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestForeignKeysEnforced(t *testing.T) {
	db, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec("INSERT INTO turns (session_id, role, content) VALUES ('missing', 'user', 'hi')")
	assert.Error(t, err)
}
