package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedEmployees loads the five-row employees table several query tests
// share.
func seedEmployees(t *testing.T, db *testDB) {
	t.Helper()
	db.mustRun(t, `CREATE TABLE employees (id INT, name VARCHAR(20), dept VARCHAR(20), salary INT, age INT)`)
	rows := []string{
		`INSERT INTO employees VALUES (1, 'Alice', 'Eng', 75000, 25)`,
		`INSERT INTO employees VALUES (2, 'Bob', 'Sales', 65000, 30)`,
		`INSERT INTO employees VALUES (3, 'Charlie', 'Eng', 80000, 28)`,
		`INSERT INTO employees VALUES (4, 'Diana', 'Sales', 70000, 26)`,
		`INSERT INTO employees VALUES (5, 'Eve', 'Eng', 85000, 30)`,
	}
	for _, sql := range rows {
		db.mustRun(t, sql)
	}
}

func TestFilterProjectOrderLimitScenario(t *testing.T) {
	db := newTestDB(t)
	seedEmployees(t, db)

	rows := db.mustRun(t, `SELECT name, salary FROM employees WHERE age > 25 ORDER BY salary DESC LIMIT 2`)
	require.Len(t, rows, 2)
	assert.Equal(t, "Eve", rows[0]["name"])
	assert.Equal(t, "85000", rows[0]["salary"])
	assert.Equal(t, "Charlie", rows[1]["name"])
	assert.Equal(t, "80000", rows[1]["salary"])
}

func TestGroupHavingScenario(t *testing.T) {
	db := newTestDB(t)
	seedEmployees(t, db)

	rows := db.mustRun(t, `SELECT dept, COUNT(*) AS cnt, AVG(salary) AS avg_sal FROM employees GROUP BY dept HAVING COUNT(*) >= 2`)
	require.Len(t, rows, 2)
	byDept := map[string]map[string]any{}
	for _, r := range rows {
		byDept[r["dept"].(string)] = r
	}
	require.Contains(t, byDept, "Eng")
	require.Contains(t, byDept, "Sales")
	assert.Equal(t, "3", byDept["Eng"]["cnt"])
	assert.Equal(t, "80000", byDept["Eng"]["avg_sal"])
	assert.Equal(t, "2", byDept["Sales"]["cnt"])
	assert.Equal(t, "67500", byDept["Sales"]["avg_sal"])
}

func TestHavingAggregateNotInSelectList(t *testing.T) {
	db := newTestDB(t)
	seedEmployees(t, db)

	rows := db.mustRun(t, `SELECT dept FROM employees GROUP BY dept HAVING COUNT(*) >= 3`)
	require.Len(t, rows, 1)
	assert.Equal(t, "Eng", rows[0]["dept"])
}

func TestDistinctFirstOccurrenceOrder(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE t (x INT, y INT)`)
	for _, sql := range []string{
		`INSERT INTO t VALUES (1, 1)`,
		`INSERT INTO t VALUES (1, 1)`,
		`INSERT INTO t VALUES (2, 2)`,
		`INSERT INTO t VALUES (1, 1)`,
		`INSERT INTO t VALUES (2, 3)`,
	} {
		db.mustRun(t, sql)
	}

	rows := db.mustRun(t, `SELECT DISTINCT x, y FROM t`)
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[0]["x"])
	assert.Equal(t, "1", rows[0]["y"])
	assert.Equal(t, "2", rows[1]["x"])
	assert.Equal(t, "2", rows[1]["y"])
	assert.Equal(t, "2", rows[2]["x"])
	assert.Equal(t, "3", rows[2]["y"])
}

func TestLeftJoinScenarioKeepsLeftOrder(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE a (id INT)`)
	db.mustRun(t, `CREATE TABLE b (aid INT, tag VARCHAR(4))`)
	for _, sql := range []string{
		`INSERT INTO a VALUES (1)`, `INSERT INTO a VALUES (2)`, `INSERT INTO a VALUES (3)`,
		`INSERT INTO b VALUES (1, 'x')`, `INSERT INTO b VALUES (3, 'y')`,
	} {
		db.mustRun(t, sql)
	}

	rows := db.mustRun(t, `SELECT a.id, b.tag FROM a LEFT JOIN b ON a.id = b.aid ORDER BY a.id ASC`)
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[0]["a.id"])
	assert.Equal(t, "x", rows[0]["b.tag"])
	assert.Equal(t, "2", rows[1]["a.id"])
	assert.Equal(t, "NULL", rows[1]["b.tag"])
	assert.Equal(t, "3", rows[2]["a.id"])
	assert.Equal(t, "y", rows[2]["b.tag"])
}

func TestRightJoinEmitsUnmatchedRightRows(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE a (id INT)`)
	db.mustRun(t, `CREATE TABLE b (aid INT, tag VARCHAR(4))`)
	for _, sql := range []string{
		`INSERT INTO a VALUES (1)`,
		`INSERT INTO b VALUES (1, 'x')`, `INSERT INTO b VALUES (9, 'z')`,
	} {
		db.mustRun(t, sql)
	}

	rows := db.mustRun(t, `SELECT a.id, b.tag FROM a RIGHT JOIN b ON a.id = b.aid`)
	require.Len(t, rows, 2)
	assert.Equal(t, "x", rows[0]["b.tag"])
	assert.Equal(t, "1", rows[0]["a.id"])
	assert.Equal(t, "z", rows[1]["b.tag"])
	assert.Equal(t, "NULL", rows[1]["a.id"])
}

func TestUpdateWithWhere(t *testing.T) {
	db := newTestDB(t)
	seedEmployees(t, db)

	status := db.mustRun(t, `UPDATE employees SET salary = 90000 WHERE name = 'Eve'`)
	require.Len(t, status, 1)
	assert.Equal(t, "1", status[0]["affected_rows"])

	rows := db.mustRun(t, `SELECT salary FROM employees WHERE name = 'Eve'`)
	require.Len(t, rows, 1)
	assert.Equal(t, "90000", rows[0]["salary"])
}

func TestDeleteWithWhereThenScan(t *testing.T) {
	db := newTestDB(t)
	seedEmployees(t, db)

	status := db.mustRun(t, `DELETE FROM employees WHERE dept = 'Sales'`)
	require.Len(t, status, 1)
	assert.Equal(t, "2", status[0]["affected_rows"])

	rows := db.mustRun(t, `SELECT name FROM employees`)
	assert.Len(t, rows, 3)
}

func TestInSubquery(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE depts (name VARCHAR(20), active INT)`)
	db.mustRun(t, `INSERT INTO depts VALUES ('Eng', 1)`)
	db.mustRun(t, `INSERT INTO depts VALUES ('Sales', 0)`)
	seedEmployees(t, db)

	rows := db.mustRun(t, `SELECT name FROM employees WHERE dept IN (SELECT name FROM depts WHERE active = 1)`)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Contains(t, []any{"Alice", "Charlie", "Eve"}, r["name"])
	}
}

func TestLimitWithOffsetDoesNotOverrun(t *testing.T) {
	db := newTestDB(t)
	seedEmployees(t, db)

	rows := db.mustRun(t, `SELECT name FROM employees ORDER BY id LIMIT 2 OFFSET 3`)
	require.Len(t, rows, 2)
	assert.Equal(t, "Diana", rows[0]["name"])
	assert.Equal(t, "Eve", rows[1]["name"])

	rows = db.mustRun(t, `SELECT name FROM employees ORDER BY id LIMIT 3, 2`)
	require.Len(t, rows, 2)
	assert.Equal(t, "Diana", rows[0]["name"])

	rows = db.mustRun(t, `SELECT name FROM employees LIMIT 10 OFFSET 99`)
	assert.Empty(t, rows)
}

func TestDropTable(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE doomed (id INT)`)
	db.mustRun(t, `DROP TABLE doomed`)
	assert.False(t, db.cat.TableExists("doomed"))

	_, err := db.run(t, `SELECT * FROM doomed`)
	assert.Error(t, err)
}

func TestDropTableBlockedByForeignKey(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE parents (id INT PRIMARY KEY)`)
	db.mustRun(t, `CREATE TABLE children (id INT, parent_id INT, FOREIGN KEY (parent_id) REFERENCES parents(id))`)

	_, err := db.run(t, `DROP TABLE parents`)
	assert.Error(t, err)
	assert.True(t, db.cat.TableExists("parents"))
}

func TestAggregatesOverEmptyTable(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE empty (x INT)`)

	rows := db.mustRun(t, `SELECT COUNT(*) AS c, SUM(x) AS s, MIN(x) AS lo FROM empty`)
	require.Len(t, rows, 1)
	assert.Equal(t, "0", rows[0]["c"])
	assert.Equal(t, "NULL", rows[0]["s"])
	assert.Equal(t, "NULL", rows[0]["lo"])
}

func TestCountSkipsNullsSumAvgSkipNulls(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE n (x INT)`)
	db.mustRun(t, `INSERT INTO n VALUES (10)`)
	db.mustRun(t, `INSERT INTO n VALUES (NULL)`)
	db.mustRun(t, `INSERT INTO n VALUES (20)`)

	rows := db.mustRun(t, `SELECT COUNT(*) AS all_rows, COUNT(x) AS non_null, SUM(x) AS total, AVG(x) AS mean FROM n`)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0]["all_rows"])
	assert.Equal(t, "2", rows[0]["non_null"])
	assert.Equal(t, "30", rows[0]["total"])
	assert.Equal(t, "15", rows[0]["mean"])
}

func TestInsertEnforcesUniqueAndNotNull(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE u (id INT PRIMARY KEY, email VARCHAR(30) UNIQUE, name VARCHAR(20) NOT NULL)`)
	db.mustRun(t, `INSERT INTO u VALUES (1, 'a@x', 'Alice')`)

	_, err := db.run(t, `INSERT INTO u VALUES (1, 'b@x', 'Bob')`)
	assert.Error(t, err) // duplicate primary key

	_, err = db.run(t, `INSERT INTO u VALUES (2, 'a@x', 'Bob')`)
	assert.Error(t, err) // duplicate unique email

	_, err = db.run(t, `INSERT INTO u (id, email) VALUES (3, 'c@x')`)
	assert.Error(t, err) // NOT NULL name omitted

	rows := db.mustRun(t, `SELECT id FROM u`)
	assert.Len(t, rows, 1)
}

func TestCreateTableRecordsConstraintIndexes(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE u (id INT PRIMARY KEY, email VARCHAR(30) UNIQUE, name VARCHAR(20))`)

	rows := db.mustRun(t, `SELECT index_name, column_name, index_type FROM sys_indexes`)
	require.Len(t, rows, 2)
	assert.Equal(t, "pk_u", rows[0]["index_name"])
	assert.Equal(t, "id", rows[0]["column_name"])
	assert.Equal(t, "PRIMARY", rows[0]["index_type"])
	assert.Equal(t, "uq_u_email", rows[1]["index_name"])
	assert.Equal(t, "email", rows[1]["column_name"])
	assert.Equal(t, "UNIQUE", rows[1]["index_type"])

	db.mustRun(t, `DROP TABLE u`)
	rows = db.mustRun(t, `SELECT index_name FROM sys_indexes`)
	assert.Empty(t, rows)
}

func TestAlterTableCarriesConstraintIndexes(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE u (id INT PRIMARY KEY, note VARCHAR(20))`)
	db.mustRun(t, `ALTER TABLE u ADD COLUMN extra INT`)

	rows := db.mustRun(t, `SELECT index_name, column_name FROM sys_indexes`)
	require.Len(t, rows, 1)
	assert.Equal(t, "pk_u", rows[0]["index_name"])
	assert.Equal(t, "id", rows[0]["column_name"])
}

func TestInsertAppliesDefault(t *testing.T) {
	db := newTestDB(t)
	db.mustRun(t, `CREATE TABLE d (id INT, age INT DEFAULT 18)`)
	db.mustRun(t, `INSERT INTO d (id) VALUES (1)`)

	rows := db.mustRun(t, `SELECT age FROM d`)
	require.Len(t, rows, 1)
	assert.Equal(t, "18", rows[0]["age"])
}
