package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goquel/goquel/ast"
)

func TestParseCreateTableWithConstraints(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE students (
		id INT PRIMARY KEY,
		name VARCHAR(30) NOT NULL,
		email VARCHAR(50) UNIQUE,
		age INT DEFAULT 18
	)`)
	require.NoError(t, err)
	ct, ok := stmt.(*ast.CreateTable)
	require.True(t, ok)
	assert.Equal(t, "students", ct.Table)
	require.Len(t, ct.Columns, 4)
	assert.True(t, ct.Columns[0].HasConstraint(ast.ConstraintPrimaryKey))
	assert.True(t, ct.Columns[1].HasConstraint(ast.ConstraintNotNull))
	assert.True(t, ct.Columns[2].HasConstraint(ast.ConstraintUnique))
	def, ok := ct.Columns[3].DefaultValue()
	require.True(t, ok)
	assert.Equal(t, int32(18), def.Int)
}

func TestParseCreateTableWithForeignKey(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE enrollments (
		id INT PRIMARY KEY,
		student_id INT,
		FOREIGN KEY (student_id) REFERENCES students(id)
	)`)
	require.NoError(t, err)
	ct := stmt.(*ast.CreateTable)
	require.Len(t, ct.ForeignKeys, 1)
	assert.Equal(t, "student_id", ct.ForeignKeys[0].Column)
	assert.Equal(t, "students", ct.ForeignKeys[0].RefTable)
	assert.Equal(t, "id", ct.ForeignKeys[0].RefColumn)
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse(`INSERT INTO students (id, name) VALUES (1, 'Alice')`)
	require.NoError(t, err)
	ins := stmt.(*ast.Insert)
	assert.Equal(t, "students", ins.Table)
	assert.Equal(t, []string{"id", "name"}, ins.Columns)
	require.Len(t, ins.Values, 2)
	assert.Equal(t, int32(1), ins.Values[0].(*ast.ValueLit).Int)
	assert.Equal(t, "Alice", ins.Values[1].(*ast.ValueLit).Str)
}

func TestParseSelectWithWhereAndOrderAndLimit(t *testing.T) {
	stmt, err := Parse(`SELECT id, name FROM students WHERE age >= 18 ORDER BY name DESC LIMIT 10 OFFSET 5`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	require.Len(t, sel.Items, 2)
	require.NotNil(t, sel.Where)
	require.Len(t, sel.OrderBy, 1)
	assert.True(t, sel.OrderBy[0].Descending)
	assert.Equal(t, "name", sel.OrderBy[0].Column)
	assert.True(t, sel.LimitSet)
	assert.Equal(t, 10, sel.Limit)
	assert.Equal(t, 5, sel.Offset)
}

func TestParseSelectStarDistinct(t *testing.T) {
	stmt, err := Parse(`SELECT DISTINCT * FROM students`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	assert.True(t, sel.Distinct)
	require.Len(t, sel.Items, 1)
	assert.True(t, sel.Items[0].Star)
}

func TestParseSelectWithJoinAndAggregateGroupHaving(t *testing.T) {
	stmt, err := Parse(`SELECT c.name, COUNT(*) FROM students s
		LEFT JOIN classes c ON s.class_id = c.id
		GROUP BY c.name
		HAVING COUNT(*) > 1`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	require.Len(t, sel.Joins, 1)
	assert.Equal(t, ast.JoinLeft, sel.Joins[0].Kind)
	assert.Equal(t, []string{"c.name"}, sel.GroupBy)
	require.NotNil(t, sel.Having)
}

func TestParseWhereWithInLikeBetweenIsNull(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM t WHERE a IN (1, 2, 3) AND b LIKE 'A%' AND c BETWEEN 1 AND 10 AND d IS NOT NULL`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	logAnd, ok := sel.Where.(*ast.LogicalOp)
	require.True(t, ok)
	assert.Equal(t, ast.LogAnd, logAnd.Kind)
}

func TestParseUpdateWithWhere(t *testing.T) {
	stmt, err := Parse(`UPDATE students SET name = 'Bob', age = 21 WHERE id = 1`)
	require.NoError(t, err)
	upd := stmt.(*ast.Update)
	require.Len(t, upd.Set, 2)
	assert.Equal(t, "name", upd.Set[0].Column)
	require.NotNil(t, upd.Where)
}

func TestParseDeleteWithoutWhere(t *testing.T) {
	stmt, err := Parse(`DELETE FROM students`)
	require.NoError(t, err)
	del := stmt.(*ast.Delete)
	assert.Equal(t, "students", del.Table)
	assert.Nil(t, del.Where)
}

func TestParseAlterTableAddColumn(t *testing.T) {
	stmt, err := Parse(`ALTER TABLE students ADD COLUMN gpa INT`)
	require.NoError(t, err)
	alt := stmt.(*ast.AlterTable)
	assert.Equal(t, ast.AlterAddColumn, alt.Action)
	assert.Equal(t, "gpa", alt.Column.Name)
}

func TestParseAlterTableRename(t *testing.T) {
	stmt, err := Parse(`ALTER TABLE students RENAME TO pupils`)
	require.NoError(t, err)
	alt := stmt.(*ast.AlterTable)
	assert.Equal(t, ast.AlterRename, alt.Action)
	assert.Equal(t, "pupils", alt.NewTableName)
}

func TestParseShowTablesAndDesc(t *testing.T) {
	stmt, err := Parse(`SHOW TABLES`)
	require.NoError(t, err)
	_, ok := stmt.(*ast.ShowTables)
	assert.True(t, ok)

	stmt, err = Parse(`DESC students`)
	require.NoError(t, err)
	desc, ok := stmt.(*ast.DescTable)
	require.True(t, ok)
	assert.Equal(t, "students", desc.Table)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse(`SELECT * FROM t; SELECT * FROM u`)
	assert.Error(t, err)
}

func TestParseSyntaxErrorHasPosition(t *testing.T) {
	_, err := Parse(`SELECT FROM t`)
	require.Error(t, err)
}

func TestParseSubqueryInList(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM t WHERE id IN (SELECT id FROM u WHERE u.active = 1)`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	in, ok := sel.Where.(*ast.In)
	require.True(t, ok)
	require.NotNil(t, in.Subquery)
	assert.Nil(t, in.List)
	assert.Equal(t, "u", in.Subquery.From.Table)
}

func TestParseNamedForeignKeyConstraint(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE enrollments (
		id INT,
		student_id INT,
		CONSTRAINT fk_enroll_student FOREIGN KEY (student_id) REFERENCES students(id)
	)`)
	require.NoError(t, err)
	ct := stmt.(*ast.CreateTable)
	require.Len(t, ct.ForeignKeys, 1)
	assert.Equal(t, "fk_enroll_student", ct.ForeignKeys[0].ConstraintName)
	assert.Equal(t, "student_id", ct.ForeignKeys[0].Column)
}

func TestParseLimitCommaForm(t *testing.T) {
	stmt, err := Parse(`SELECT id FROM t LIMIT 5, 10`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	assert.True(t, sel.LimitSet)
	assert.Equal(t, 5, sel.Offset)
	assert.Equal(t, 10, sel.Limit)
}

func TestParseRejectsDecimalLiteral(t *testing.T) {
	_, err := Parse(`SELECT * FROM t WHERE x = 3.14`)
	assert.Error(t, err)
}

func TestParseDropTable(t *testing.T) {
	stmt, err := Parse(`DROP TABLE students`)
	require.NoError(t, err)
	drop, ok := stmt.(*ast.DropTable)
	require.True(t, ok)
	assert.Equal(t, "students", drop.Table)
}

func TestParseOrderByOrdinal(t *testing.T) {
	stmt, err := Parse(`SELECT id, name FROM t ORDER BY 2 DESC`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	require.Len(t, sel.OrderBy, 1)
	assert.Equal(t, 2, sel.OrderBy[0].Ordinal)
	assert.True(t, sel.OrderBy[0].Descending)
}

func TestParseRejectsFullJoin(t *testing.T) {
	_, err := Parse(`SELECT * FROM a FULL JOIN b ON a.id = b.id`)
	assert.Error(t, err)
}

func TestParseRejectsCommaJoin(t *testing.T) {
	_, err := Parse(`SELECT * FROM a, b WHERE a.id = b.id`)
	assert.Error(t, err)
}
