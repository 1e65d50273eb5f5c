package exec

import (
	"fmt"

	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/catalog"
	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/goqlerr"
	"github.com/goquel/goquel/storage"
)

// filterCond pulls the predicate off a Delete/Update's Filter child, or
// nil when the statement carried no WHERE clause (the planner then wires
// a bare SeqScan directly as the child).
func filterCond(child Operator) ast.Expr {
	if f, ok := child.(*FilterOp); ok {
		return f.Cond
	}
	return nil
}

func (ex *Executor) execInsert(n *InsertOp) (eval.Row, error) {
	schema, ok := ex.Catalog.GetSchema(n.Table)
	if !ok {
		return nil, goqlerr.Exec("table %q does not exist", n.Table).WithOp("Insert")
	}

	cols := n.Columns
	if len(cols) == 0 {
		cols = make([]string, len(schema))
		for i, c := range schema {
			cols[i] = c.Name
		}
	}
	if len(cols) != len(n.Values) {
		return nil, goqlerr.Exec("%d columns but %d values given for %q", len(cols), len(n.Values), n.Table).WithOp("Insert")
	}

	ev := eval.New()
	row := eval.Row{}
	for i, name := range cols {
		v, err := ev.Evaluate(n.Values[i], eval.Row{})
		if err != nil {
			return nil, withOp(err, "Insert")
		}
		row[name] = v
	}
	row = catalog.ApplyDefaults(row, schema)

	for _, col := range schema {
		v, present := row[col.Name]
		if !present {
			v = eval.Null()
		}
		coerced, err := eval.CoerceForColumn(v, col.Kind == storage.ColVarchar, col.MaxLength)
		if err != nil {
			return nil, goqlerr.Exec("column %q of %q: %v", col.Name, n.Table, err).WithOp("Insert")
		}
		row[col.Name] = coerced
	}

	constraints := ex.Catalog.Constraints()
	if err := constraints.CheckRow(n.Table, schema, row, nil); err != nil {
		return nil, withOp(err, "Insert")
	}
	if err := constraints.CheckInsertForeignKeys(ex.Catalog, n.Table, row); err != nil {
		return nil, withOp(err, "Insert")
	}

	if err := ex.Engine.InsertRow(n.Table, row); err != nil {
		return nil, withOp(err, "Insert")
	}
	constraints.RecordInserted(n.Table, schema, row)
	if err := ex.Catalog.UpdateRowCount(n.Table, 1); err != nil {
		return nil, withOp(err, "Insert")
	}
	return statusRow("success", fmt.Sprintf("1 row inserted into %s", n.Table), 1), nil
}

func (ex *Executor) execDelete(n *DeleteOp) (eval.Row, error) {
	schema, ok := ex.Catalog.GetSchema(n.Table)
	if !ok {
		return nil, goqlerr.Exec("table %q does not exist", n.Table).WithOp("Delete")
	}
	cond := filterCond(n.Child)
	ev := ex.evaluatorFor(cond)
	constraints := ex.Catalog.Constraints()

	candidates, err := ex.Engine.SeqScan(n.Table)
	if err != nil {
		return nil, withOp(err, "Delete")
	}
	var matched []eval.Row
	for _, row := range candidates {
		ok, err := ev.Matches(cond, row)
		if err != nil {
			return nil, withOp(err, "Delete")
		}
		if !ok {
			continue
		}
		if err := constraints.CheckDeleteRestrict(ex.Catalog, n.Table, row); err != nil {
			return nil, withOp(err, "Delete")
		}
		matched = append(matched, row)
	}

	count, err := ex.Engine.DeleteWhere(n.Table, func(row eval.Row) (bool, error) {
		return ev.Matches(cond, row)
	})
	if err != nil {
		return nil, withOp(err, "Delete")
	}
	for _, row := range matched {
		constraints.RecordDeleted(n.Table, schema, row)
	}
	if count > 0 {
		if err := ex.Catalog.UpdateRowCount(n.Table, -count); err != nil {
			return nil, withOp(err, "Delete")
		}
	}
	return statusRow("success", fmt.Sprintf("%d row(s) deleted from %s", count, n.Table), count), nil
}

func (ex *Executor) execUpdate(n *UpdateOp) (eval.Row, error) {
	schema, ok := ex.Catalog.GetSchema(n.Table)
	if !ok {
		return nil, goqlerr.Exec("table %q does not exist", n.Table).WithOp("Update")
	}
	cond := filterCond(n.Child)
	ev := ex.evaluatorFor(cond)
	constraints := ex.Catalog.Constraints()

	changedCols := map[string]bool{}
	for _, asg := range n.Set {
		changedCols[asg.Column] = true
	}
	restrictNeeded := false
	for _, fk := range ex.Catalog.ForeignKeysReferencing(n.Table) {
		if changedCols[fk.RefColumn] {
			restrictNeeded = true
		}
	}

	pred := func(row eval.Row) (bool, error) { return ev.Matches(cond, row) }
	transform := func(row eval.Row) (eval.Row, error) {
		if restrictNeeded {
			if err := constraints.CheckDeleteRestrict(ex.Catalog, n.Table, row); err != nil {
				return nil, err
			}
		}
		out := row.Clone()
		for _, asg := range n.Set {
			v, err := ev.Evaluate(asg.Value, row)
			if err != nil {
				return nil, err
			}
			out[asg.Column] = v
		}
		for _, col := range schema {
			v, present := out[col.Name]
			if !present {
				v = eval.Null()
			}
			coerced, err := eval.CoerceForColumn(v, col.Kind == storage.ColVarchar, col.MaxLength)
			if err != nil {
				return nil, fmt.Errorf("column %q of %q: %w", col.Name, n.Table, err)
			}
			out[col.Name] = coerced
		}
		if err := constraints.CheckRow(n.Table, schema, out, row); err != nil {
			return nil, err
		}
		if err := constraints.CheckInsertForeignKeys(ex.Catalog, n.Table, out); err != nil {
			return nil, err
		}
		constraints.RecordDeleted(n.Table, schema, row)
		constraints.RecordInserted(n.Table, schema, out)
		return out, nil
	}

	count, err := ex.Engine.UpdateWhere(n.Table, pred, transform)
	if err != nil {
		return nil, withOp(err, "Update")
	}
	return statusRow("success", fmt.Sprintf("%d row(s) updated in %s", count, n.Table), count), nil
}
