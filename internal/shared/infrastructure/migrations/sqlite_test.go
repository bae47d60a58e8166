package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestRunSQLiteMigrations_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, RunSQLiteMigrations(ctx, db))
	require.NoError(t, RunSQLiteMigrations(ctx, db))

	for _, table := range []string{"user_subscriptions", "user_appointments", "orders"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestPostgresSchema(t *testing.T) {
	schema, err := PostgresSchema()
	require.NoError(t, err)
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS user_subscriptions")
	assert.Contains(t, schema, "TIMESTAMPTZ")
	assert.Contains(t, schema, "ADD COLUMN IF NOT EXISTS entitlement_charged")
}
