package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE sales (region TEXT NOT NULL, amount REAL NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sales (region, amount) VALUES ('north', 100.0), ('south', 50.0)`)
	require.NoError(t, err)
	return db
}

func TestSQLExecutorRun(t *testing.T) {
	exec := NewSQLExecutor(newTestDB(t))
	ctx := context.Background()

	t.Run("returns columns and rows", func(t *testing.T) {
		res, err := exec.Run(ctx, "SELECT region, amount FROM sales ORDER BY amount")
		require.NoError(t, err)
		assert.Equal(t, []string{"region", "amount"}, res.Columns)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, "south", res.Rows[0][0])
	})

	t.Run("zero rows is ErrNoRows, not a crash", func(t *testing.T) {
		res, err := exec.Run(ctx, "SELECT region FROM sales WHERE amount > 9000")
		assert.Nil(t, res)
		require.ErrorIs(t, err, model.ErrNoRows)
	})

	t.Run("broken query surfaces the driver error", func(t *testing.T) {
		_, err := exec.Run(ctx, "SELECT nope FROM missing_table")
		require.Error(t, err)
		assert.NotErrorIs(t, err, model.ErrNoRows)
	})
}

func TestSQLExecutorSchema(t *testing.T) {
	exec := NewSQLExecutor(newTestDB(t))

	schemaText, err := exec.Schema(context.Background())
	require.NoError(t, err)
	assert.Contains(t, schemaText, "CREATE TABLE sales")
	assert.Contains(t, schemaText, "region")
}
