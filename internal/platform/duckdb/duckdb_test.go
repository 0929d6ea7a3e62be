package duckdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_InMemory(t *testing.T) {
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM ingest_meta`).Scan(&n))
	require.Equal(t, 0, n)
}

func TestOpen_FileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cols.duckdb")

	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO ingest_meta (key, value) VALUES ('k', 'v')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var v string
	require.NoError(t, db.QueryRow(`SELECT value FROM ingest_meta WHERE key = 'k'`).Scan(&v))
	require.Equal(t, "v", v)
}
