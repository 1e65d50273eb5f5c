package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goquel/goquel/catalog"
	"github.com/goquel/goquel/parser"
	"github.com/goquel/goquel/plan"
	"github.com/goquel/goquel/storage"
)

// testDB wires a fresh engine, catalog, and executor per test, mirroring
// plan.newTestCatalog's setup but exposed through the whole pipeline.
type testDB struct {
	engine *storage.Engine
	cat    *catalog.Catalog
	ex     *Executor
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()
	eng, err := storage.Open(t.TempDir(), 64, storage.PolicyLRU, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	cat, err := catalog.Open(eng, nil)
	require.NoError(t, err)
	return &testDB{engine: eng, cat: cat, ex: New(eng, cat, nil)}
}

func (db *testDB) run(t *testing.T, sql string) ([]map[string]any, error) {
	t.Helper()
	stmt, err := parser.Parse(sql)
	require.NoError(t, err)
	node, err := plan.Build(stmt, db.cat)
	require.NoError(t, err)
	op, err := Build(node)
	require.NoError(t, err)
	rows, err := db.ex.Run(op)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := map[string]any{}
		for k, v := range r {
			m[k] = v.String()
		}
		out[i] = m
	}
	return out, nil
}

func (db *testDB) mustRun(t *testing.T, sql string) []map[string]any {
	t.Helper()
	rows, err := db.run(t, sql)
	require.NoError(t, err)
	return rows
}

func TestCreateInsertSeqScanRoundTrip(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE students (id INT PRIMARY KEY, name VARCHAR(20), class_id INT)`)
	db.mustRun(t, `INSERT INTO students (id, name, class_id) VALUES (1, 'Alice', 2)`)
	db.mustRun(t, `INSERT INTO students (id, name, class_id) VALUES (2, 'Bob', 2)`)

	rows := db.mustRun(t, `SELECT id, name FROM students`)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alice", rows[0]["name"])
}

func TestFilterProjectSortLimit(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE students (id INT, name VARCHAR(20), class_id INT)`)
	db.mustRun(t, `INSERT INTO students (id, name, class_id) VALUES (1, 'Carol', 1)`)
	db.mustRun(t, `INSERT INTO students (id, name, class_id) VALUES (2, 'Alice', 1)`)
	db.mustRun(t, `INSERT INTO students (id, name, class_id) VALUES (3, 'Bob', 2)`)

	rows := db.mustRun(t, `SELECT name FROM students WHERE class_id = 1 ORDER BY name LIMIT 1`)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0]["name"])
}

func TestGroupByHaving(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE students (id INT, name VARCHAR(20), class_id INT)`)
	db.mustRun(t, `INSERT INTO students (id, name, class_id) VALUES (1, 'A', 1)`)
	db.mustRun(t, `INSERT INTO students (id, name, class_id) VALUES (2, 'B', 1)`)
	db.mustRun(t, `INSERT INTO students (id, name, class_id) VALUES (3, 'C', 2)`)

	rows := db.mustRun(t, `SELECT class_id, COUNT(*) FROM students GROUP BY class_id HAVING COUNT(*) > 1`)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["class_id"])
	assert.Equal(t, "2", rows[0]["COUNT(*)"])
}

func TestDistinct(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE students (id INT, class_id INT)`)
	db.mustRun(t, `INSERT INTO students (id, class_id) VALUES (1, 1)`)
	db.mustRun(t, `INSERT INTO students (id, class_id) VALUES (2, 1)`)
	db.mustRun(t, `INSERT INTO students (id, class_id) VALUES (3, 2)`)

	rows := db.mustRun(t, `SELECT DISTINCT class_id FROM students`)
	assert.Len(t, rows, 2)
}

func TestForeignKeyRestrict(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE classes (id INT PRIMARY KEY, name VARCHAR(20))`)
	db.mustRun(t, `CREATE TABLE students (id INT PRIMARY KEY, class_id INT, FOREIGN KEY (class_id) REFERENCES classes(id))`)
	db.mustRun(t, `INSERT INTO classes (id, name) VALUES (1, 'Math')`)
	db.mustRun(t, `INSERT INTO students (id, class_id) VALUES (1, 1)`)

	_, err := db.run(t, `DELETE FROM classes WHERE id = 1`)
	assert.Error(t, err)

	rows := db.mustRun(t, `SELECT id FROM classes`)
	assert.Len(t, rows, 1)
}

func TestLeftJoinNoMatch(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE students (id INT, class_id INT)`)
	db.mustRun(t, `CREATE TABLE classes (id INT, name VARCHAR(20))`)
	db.mustRun(t, `INSERT INTO students (id, class_id) VALUES (1, 99)`)
	db.mustRun(t, `INSERT INTO classes (id, name) VALUES (1, 'Math')`)

	rows := db.mustRun(t, `SELECT s.id, c.name FROM students s LEFT JOIN classes c ON s.class_id = c.id`)
	require.Len(t, rows, 1)
	assert.Equal(t, "NULL", rows[0]["c.name"])
}

func TestAlterTableAddColumn(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE students (id INT, name VARCHAR(20))`)
	db.mustRun(t, `INSERT INTO students (id, name) VALUES (1, 'Alice')`)
	db.mustRun(t, `ALTER TABLE students ADD COLUMN class_id INT`)

	rows := db.mustRun(t, `SELECT id, name, class_id FROM students`)
	require.Len(t, rows, 1)
	assert.Equal(t, "NULL", rows[0]["class_id"])
}

func TestAlterTableRename(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE students (id INT)`)
	db.mustRun(t, `ALTER TABLE students RENAME TO pupils`)
	assert.True(t, db.cat.TableExists("pupils"))
	assert.False(t, db.cat.TableExists("students"))
}

func TestShowTablesAndDesc(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE students (id INT, name VARCHAR(20))`)

	rows := db.mustRun(t, `SHOW TABLES`)
	require.Len(t, rows, 1)
	assert.Equal(t, "students", rows[0]["table_name"])

	rows = db.mustRun(t, `DESC students`)
	require.Len(t, rows, 2)
}
