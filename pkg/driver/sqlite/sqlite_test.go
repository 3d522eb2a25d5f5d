package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillstone/dbguard/pkg/driver"
)

func openTestDB(t *testing.T) driver.Conn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := New().Connect(context.Background(), driver.ConnParams{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close(context.Background())
	})
	return conn
}

func TestConnectRequiresPath(t *testing.T) {
	_, err := New().Connect(context.Background(), driver.ConnParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")
}

func TestConnectFallsBackToDatabaseField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.db")
	conn, err := New().Connect(context.Background(), driver.ConnParams{Database: path})
	require.NoError(t, err)
	require.NoError(t, conn.Ping(context.Background()))
	require.NoError(t, conn.Close(context.Background()))
}

func TestQueryAndExec(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.Exec(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	affected, err := conn.Exec(ctx, "INSERT INTO items (name) VALUES (?), (?)", "alpha", "beta")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	rows, err := conn.Query(ctx, "SELECT name FROM items ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0]["name"])
	assert.Equal(t, "beta", rows[1]["name"])
}

func TestTransactionCommitAndRollback(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.Exec(ctx, "CREATE TABLE counters (n INTEGER)")
	require.NoError(t, err)

	require.NoError(t, conn.Begin(ctx))
	_, err = conn.Exec(ctx, "INSERT INTO counters (n) VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))

	require.NoError(t, conn.Begin(ctx))
	_, err = conn.Exec(ctx, "INSERT INTO counters (n) VALUES (2)")
	require.NoError(t, err)
	require.NoError(t, conn.Rollback(ctx))

	rows, err := conn.Query(ctx, "SELECT n FROM counters")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "only the committed insert survived")

	// Transaction state machine guards
	assert.Error(t, conn.Commit(ctx))
	assert.Error(t, conn.Rollback(ctx))
	require.NoError(t, conn.Begin(ctx))
	assert.Error(t, conn.Begin(ctx))
	require.NoError(t, conn.Rollback(ctx))
}
