package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE pipelines SET deals_json=?, version=? WHERE key=?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `UPDATE pipelines SET deals_json=$1, version=$2 WHERE key=$3`, Postgres.Rebind(q))
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping())
	assert.FileExists(t, filepath.Join(dir, ".dealflow", "dealflow.db"))
}

func TestOpenPostgresNeedsDSN(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"})
	assert.Error(t, err)
	assert.Equal(t, Postgres, Config{Driver: "postgres"}.Dialect())
	assert.Equal(t, SQLite, Config{}.Dialect())
}
