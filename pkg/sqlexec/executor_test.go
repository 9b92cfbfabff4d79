package sqlexec

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecutor(t *testing.T) *SQLiteExecutor {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE events (id INTEGER PRIMARY KEY, kind TEXT, node INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO events (kind, node) VALUES
		('write_committed', 1), ('delete_committed', 1), ('leader_elected', 2)`)
	require.NoError(t, err)

	return NewSQLiteExecutorFromDB(db)
}

func TestSQLiteExecutorQuery(t *testing.T) {
	exec := testExecutor(t)

	result, err := exec.Query(context.Background(), Query{
		Query: "SELECT kind, node FROM events ORDER BY id",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"kind", "node"}, result.Columns)
	assert.Equal(t, 3, result.RowCount)
	assert.False(t, result.IsTruncated)
	assert.Equal(t, "write_committed", result.Rows[0][0])
}

func TestSQLiteExecutorParams(t *testing.T) {
	exec := testExecutor(t)

	result, err := exec.Query(context.Background(), Query{
		Query:      "SELECT kind FROM events WHERE node = ?",
		ParamsJSON: "[2]",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount)
	assert.Equal(t, "leader_elected", result.Rows[0][0])
}

func TestSQLiteExecutorLimit(t *testing.T) {
	exec := testExecutor(t)

	limit := uint32(2)
	result, err := exec.Query(context.Background(), Query{
		Query: "SELECT id FROM events ORDER BY id",
		Limit: &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	assert.True(t, result.IsTruncated)
}

func TestSQLiteExecutorRejectsWrites(t *testing.T) {
	exec := testExecutor(t)

	cases := []string{
		"INSERT INTO events (kind, node) VALUES ('x', 1)",
		"DELETE FROM events",
		"UPDATE events SET node = 9",
		"DROP TABLE events",
		"SELECT 1; DELETE FROM events",
		"",
	}
	for _, q := range cases {
		_, err := exec.Query(context.Background(), Query{Query: q})
		assert.Error(t, err, "query should be rejected: %s", q)
	}
}

func TestSQLiteExecutorAllowsWithClause(t *testing.T) {
	exec := testExecutor(t)

	result, err := exec.Query(context.Background(), Query{
		Query: "WITH kv AS (SELECT * FROM events WHERE kind LIKE '%committed') SELECT COUNT(*) FROM kv",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount)
	assert.EqualValues(t, 2, result.Rows[0][0])
}
