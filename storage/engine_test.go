package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goquel/goquel/eval"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), 64, PolicyLRU, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngineInsertAndSeqScanPreservesOrder(t *testing.T) {
	e := newTestEngine(t)
	schema := studentSchema()
	require.NoError(t, e.CreateTable("students", schema))

	require.NoError(t, e.InsertRow("students", eval.Row{"id": eval.Int(1), "name": eval.Varchar("Alice")}))
	require.NoError(t, e.InsertRow("students", eval.Row{"id": eval.Int(2), "name": eval.Varchar("Bob")}))

	rows, err := e.SeqScan("students")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int32(1), rows[0]["id"].Int)
	assert.Equal(t, "Alice", rows[0]["name"].Str)
	assert.Equal(t, int32(2), rows[1]["id"].Int)
	assert.Equal(t, "Bob", rows[1]["name"].Str)
}

func TestEngineEmptyTableScanDoesNotTouchBuffer(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", studentSchema()))

	rows, err := e.SeqScan("t")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, e.bp.Len())
}

func TestEngineInsertIntoMissingTableFails(t *testing.T) {
	e := newTestEngine(t)
	err := e.InsertRow("ghost", eval.Row{"id": eval.Int(1)})
	assert.Error(t, err)
}

func TestEngineCreateTableTwiceFails(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", studentSchema()))
	err := e.CreateTable("t", studentSchema())
	assert.ErrorIs(t, err, ErrTableExists)
}

func TestEngineDeleteWhere(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", studentSchema()))
	require.NoError(t, e.InsertRow("t", eval.Row{"id": eval.Int(1), "name": eval.Varchar("a")}))
	require.NoError(t, e.InsertRow("t", eval.Row{"id": eval.Int(2), "name": eval.Varchar("b")}))

	n, err := e.DeleteWhere("t", func(r eval.Row) (bool, error) {
		return r["id"].Int == 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := e.SeqScan("t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(2), rows[0]["id"].Int)
}

func TestEngineDeleteWhereOnEmptyTableReturnsZero(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", studentSchema()))
	n, err := e.DeleteWhere("t", func(eval.Row) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEngineUpdateWhereInPlace(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", studentSchema()))
	require.NoError(t, e.InsertRow("t", eval.Row{"id": eval.Int(1), "name": eval.Varchar("a")}))

	n, err := e.UpdateWhere("t",
		func(r eval.Row) (bool, error) { return true, nil },
		func(r eval.Row) (eval.Row, error) {
			out := r.Clone()
			out["name"] = eval.Varchar("updated")
			return out, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := e.SeqScan("t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "updated", rows[0]["name"].Str)
}

func TestEngineUpdateWhereMigratesWhenRowGrows(t *testing.T) {
	e := newTestEngine(t)
	schema := Schema{{Name: "id", Kind: ColInt}, {Name: "s", Kind: ColVarchar, MaxLength: 4000}}
	require.NoError(t, e.CreateTable("t", schema))

	// Fill the first page nearly full so the grown row cannot fit back in place.
	filler := make([]byte, 3000)
	for i := range filler {
		filler[i] = 'x'
	}
	require.NoError(t, e.InsertRow("t", eval.Row{"id": eval.Int(1), "s": eval.Varchar("short")}))
	require.NoError(t, e.InsertRow("t", eval.Row{"id": eval.Int(2), "s": eval.Varchar(string(filler))}))

	big := make([]byte, 3500)
	for i := range big {
		big[i] = 'y'
	}
	n, err := e.UpdateWhere("t",
		func(r eval.Row) (bool, error) { return r["id"].Int == 1, nil },
		func(r eval.Row) (eval.Row, error) {
			out := r.Clone()
			out["s"] = eval.Varchar(string(big))
			return out, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := e.SeqScan("t")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	found := false
	for _, r := range rows {
		if r["id"].Int == 1 {
			assert.Equal(t, string(big), r["s"].Str)
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngineDropTable(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", studentSchema()))
	require.NoError(t, e.InsertRow("t", eval.Row{"id": eval.Int(1), "name": eval.Varchar("a")}))
	require.NoError(t, e.DropTable("t"))
	assert.False(t, e.TableExists("t"))

	err := e.InsertRow("t", eval.Row{"id": eval.Int(1)})
	assert.Error(t, err)
}
