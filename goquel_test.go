package goquel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goquel/goquel/config"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	db, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExecScriptRunsEachStatement(t *testing.T) {
	db := newTestDB(t)
	script := `
		CREATE TABLE students (id INT, name VARCHAR(20));
		INSERT INTO students (id, name) VALUES (1, 'Alice; Bob');
		-- a comment with a ; inside it
		SELECT * FROM students;
	`
	results, err := db.ExecScript(script)
	require.NoError(t, err)
	require.Len(t, results, 3)

	rows := results[2]
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice; Bob", rows[0]["name"].Str)
}

func TestExecScriptStopsAtFirstError(t *testing.T) {
	db := newTestDB(t)
	_, err := db.ExecScript(`CREATE TABLE t (id INT); SELECT * FROM missing;`)
	assert.Error(t, err)
}

func TestSplitStatementsHandlesQuotesAndComments(t *testing.T) {
	stmts := splitStatements(`SELECT 1; /* a; b */ SELECT ';'; `)
	require.Len(t, stmts, 2)
	assert.Equal(t, "SELECT 1", stmts[0])
	assert.Equal(t, "SELECT ';'", stmts[1])
}
