package exec

import "github.com/goquel/goquel/eval"

// RowIter is the pull-based cursor Executor.RunIter returns, mirroring
// the database/sql.Rows shape: call Next until it returns false, then check
// Err. Every operator here materializes its child fully before yielding
// (Sort, GroupAggregate, and Distinct all require this anyway; doing the
// same for the order-preserving operators costs nothing observable since
// SeqScan itself already loads a table's rows into memory in one pass).
type RowIter interface {
	Next() bool
	Row() eval.Row
	Err() error
}

type sliceIter struct {
	rows []eval.Row
	pos  int
	err  error
}

func newSliceIter(rows []eval.Row, err error) *sliceIter {
	return &sliceIter{rows: rows, err: err}
}

func (it *sliceIter) Next() bool {
	if it.err != nil || it.pos >= len(it.rows) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIter) Row() eval.Row { return it.rows[it.pos-1] }
func (it *sliceIter) Err() error    { return it.err }

// drain pulls every row out of it into a slice, returned together with the
// iterator's error.
func drain(it RowIter) ([]eval.Row, error) {
	var rows []eval.Row
	for it.Next() {
		rows = append(rows, it.Row())
	}
	return rows, it.Err()
}
