package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goquel/goquel/catalog"
	"github.com/goquel/goquel/parser"
	"github.com/goquel/goquel/storage"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *catalog.Catalog, *storage.Engine) {
	t.Helper()
	eng, err := storage.Open(t.TempDir(), 64, storage.PolicyLRU, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	cat, err := catalog.Open(eng, nil)
	require.NoError(t, err)
	return New(cat), cat, eng
}

func TestAnalyzeCreateTableRejectsDuplicateName(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	require.NoError(t, eng.CreateTable("students", nil))
	_, err := cat.RegisterTable("students", nil)
	require.NoError(t, err)

	stmt, err := parser.Parse(`CREATE TABLE students (id INT)`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeCreateTableRejectsDuplicateColumn(t *testing.T) {
	a, _, _ := newTestAnalyzer(t)
	stmt, err := parser.Parse(`CREATE TABLE t (id INT, id INT)`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeInsertWrongArity(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	schema := catalog.Schema{
		{Column: storage.Column{Name: "id", Kind: storage.ColInt}},
		{Column: storage.Column{Name: "name", Kind: storage.ColVarchar, MaxLength: 10}},
	}
	require.NoError(t, eng.CreateTable("t", schema.StorageSchema()))
	_, err := cat.RegisterTable("t", schema)
	require.NoError(t, err)

	stmt, err := parser.Parse(`INSERT INTO t VALUES (1)`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeInsertTypeMismatch(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	schema := catalog.Schema{{Column: storage.Column{Name: "id", Kind: storage.ColInt}}}
	require.NoError(t, eng.CreateTable("t", schema.StorageSchema()))
	_, err := cat.RegisterTable("t", schema)
	require.NoError(t, err)

	stmt, err := parser.Parse(`INSERT INTO t VALUES ('not an int')`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeInsertNullIntoNotNullColumnFails(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	schema := catalog.Schema{{Column: storage.Column{Name: "id", Kind: storage.ColInt}, NotNull: true}}
	require.NoError(t, eng.CreateTable("t", schema.StorageSchema()))
	_, err := cat.RegisterTable("t", schema)
	require.NoError(t, err)

	stmt, err := parser.Parse(`INSERT INTO t VALUES (NULL)`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeSelectUnknownTableFails(t *testing.T) {
	a, _, _ := newTestAnalyzer(t)
	stmt, err := parser.Parse(`SELECT * FROM ghost`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeSelectUnknownColumnFails(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	schema := catalog.Schema{{Column: storage.Column{Name: "id", Kind: storage.ColInt}}}
	require.NoError(t, eng.CreateTable("t", schema.StorageSchema()))
	_, err := cat.RegisterTable("t", schema)
	require.NoError(t, err)

	stmt, err := parser.Parse(`SELECT ghost_col FROM t`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeSelectQualifiedColumnsAcrossJoin(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	students := catalog.Schema{
		{Column: storage.Column{Name: "id", Kind: storage.ColInt}},
		{Column: storage.Column{Name: "class_id", Kind: storage.ColInt}},
	}
	classes := catalog.Schema{
		{Column: storage.Column{Name: "id", Kind: storage.ColInt}},
		{Column: storage.Column{Name: "name", Kind: storage.ColVarchar, MaxLength: 20}},
	}
	require.NoError(t, eng.CreateTable("students", students.StorageSchema()))
	_, err := cat.RegisterTable("students", students)
	require.NoError(t, err)
	require.NoError(t, eng.CreateTable("classes", classes.StorageSchema()))
	_, err = cat.RegisterTable("classes", classes)
	require.NoError(t, err)

	stmt, err := parser.Parse(`SELECT s.id, c.name FROM students s JOIN classes c ON s.class_id = c.id`)
	require.NoError(t, err)
	assert.NoError(t, a.Analyze(stmt))
}

func TestAnalyzeSelectStarWithGroupByFails(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	schema := catalog.Schema{{Column: storage.Column{Name: "id", Kind: storage.ColInt}}}
	require.NoError(t, eng.CreateTable("t", schema.StorageSchema()))
	_, err := cat.RegisterTable("t", schema)
	require.NoError(t, err)

	stmt, err := parser.Parse(`SELECT * FROM t GROUP BY id`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeHavingWithoutGroupByOrAggregateFails(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	schema := catalog.Schema{{Column: storage.Column{Name: "id", Kind: storage.ColInt}}}
	require.NoError(t, eng.CreateTable("t", schema.StorageSchema()))
	_, err := cat.RegisterTable("t", schema)
	require.NoError(t, err)

	stmt, err := parser.Parse(`SELECT id FROM t HAVING id > 1`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeHavingWithAggregateOnly(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	schema := catalog.Schema{{Column: storage.Column{Name: "id", Kind: storage.ColInt}}}
	require.NoError(t, eng.CreateTable("t", schema.StorageSchema()))
	_, err := cat.RegisterTable("t", schema)
	require.NoError(t, err)

	stmt, err := parser.Parse(`SELECT COUNT(*) FROM t HAVING COUNT(*) > 1`)
	require.NoError(t, err)
	assert.NoError(t, a.Analyze(stmt))
}

func TestAnalyzeAlterTableAddExistingColumnFails(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	schema := catalog.Schema{{Column: storage.Column{Name: "id", Kind: storage.ColInt}}}
	require.NoError(t, eng.CreateTable("t", schema.StorageSchema()))
	_, err := cat.RegisterTable("t", schema)
	require.NoError(t, err)

	stmt, err := parser.Parse(`ALTER TABLE t ADD COLUMN id INT`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeAlterTableDropMissingColumnFails(t *testing.T) {
	a, cat, eng := newTestAnalyzer(t)
	schema := catalog.Schema{{Column: storage.Column{Name: "id", Kind: storage.ColInt}}}
	require.NoError(t, eng.CreateTable("t", schema.StorageSchema()))
	_, err := cat.RegisterTable("t", schema)
	require.NoError(t, err)

	stmt, err := parser.Parse(`ALTER TABLE t DROP COLUMN ghost`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeDropMissingTableFails(t *testing.T) {
	a, _, _ := newTestAnalyzer(t)
	stmt, err := parser.Parse(`DROP TABLE ghost`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}

func TestAnalyzeDescMissingTableFails(t *testing.T) {
	a, _, _ := newTestAnalyzer(t)
	stmt, err := parser.Parse(`DESC ghost`)
	require.NoError(t, err)
	err = a.Analyze(stmt)
	assert.Error(t, err)
}
