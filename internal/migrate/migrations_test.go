package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealflow/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn, db.SQLite))
	require.NoError(t, Migrate(conn, db.SQLite))

	var version int
	require.NoError(t, conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM pipelines`).Scan(&n))
	assert.Zero(t, n)
}

func TestBothDialectsShipMigrations(t *testing.T) {
	for _, d := range []db.Dialect{db.SQLite, db.Postgres} {
		ms, err := loadMigrations(d)
		require.NoError(t, err)
		require.NotEmpty(t, ms, d)
		assert.Equal(t, 1, ms[0].Version)
	}
}

func TestStatements(t *testing.T) {
	got := statements("CREATE TABLE a(x INT);\n\nCREATE INDEX i ON a(x);\n")
	assert.Equal(t, []string{"CREATE TABLE a(x INT)", "CREATE INDEX i ON a(x)"}, got)
}
