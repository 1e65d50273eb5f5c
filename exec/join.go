package exec

import (
	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/goqlerr"
)

// qualifyRow renames every key of row to "alias.key", used to qualify a
// leaf SeqScan's plain column names before a Join merges two relations:
// merged output qualifies every column with its originating table's
// alias or name.
func qualifyRow(row eval.Row, alias string) eval.Row {
	out := make(eval.Row, len(row))
	for k, v := range row {
		out[alias+"."+k] = v
	}
	return out
}

func qualifyRows(rows []eval.Row, alias string) []eval.Row {
	out := make([]eval.Row, len(rows))
	for i, r := range rows {
		out[i] = qualifyRow(r, alias)
	}
	return out
}

func mergeRows(a, b eval.Row) eval.Row {
	out := make(eval.Row, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// outputKeys reports the qualified key set a join operand contributes to
// a merged row, used to build an all-NULL counterpart for LEFT/RIGHT
// unmatched rows. The grammar only ever nests a SeqScan or a prior Join as
// an operand (`from_clause := table_ref (join_clause)*`), so those are the
// only two shapes handled.
func (ex *Executor) outputKeys(op Operator, alias string) ([]string, error) {
	switch n := op.(type) {
	case *SeqScanOp:
		prefix := alias
		if prefix == "" {
			prefix = n.Alias
		}
		schema, ok := ex.Catalog.GetSchema(n.Table)
		if !ok {
			return nil, goqlerr.Exec("table %q not found", n.Table).WithOp("Join")
		}
		keys := make([]string, len(schema))
		for i, c := range schema {
			keys[i] = prefix + "." + c.Name
		}
		return keys, nil
	case *JoinOp:
		left, err := ex.outputKeys(n.Left, n.LeftAlias)
		if err != nil {
			return nil, err
		}
		right, err := ex.outputKeys(n.Right, n.RightAlias)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	default:
		return nil, goqlerr.Exec("join operand %T is not a scan or a prior join", op).WithOp("Join")
	}
}

func nullRowFor(keys []string) eval.Row {
	row := make(eval.Row, len(keys))
	for _, k := range keys {
		row[k] = eval.Null()
	}
	return row
}

// execJoin implements nested-loop INNER/LEFT/RIGHT join. The right side is
// always materialized in full; LEFT preserves the left relation's row
// order and RIGHT tracks matched right rows so unmatched ones can be
// emitted with left-side NULL.
func (ex *Executor) execJoin(n *JoinOp) ([]eval.Row, error) {
	leftRows, err := ex.Run(n.Left)
	if err != nil {
		return nil, err
	}
	if n.LeftAlias != "" {
		leftRows = qualifyRows(leftRows, n.LeftAlias)
	}
	rightRows, err := ex.Run(n.Right)
	if err != nil {
		return nil, err
	}
	rightRows = qualifyRows(rightRows, n.RightAlias)

	ev := ex.evaluatorFor(n.On)

	if n.Kind == ast.JoinRight {
		leftKeys, err := ex.outputKeys(n.Left, n.LeftAlias)
		if err != nil {
			return nil, err
		}
		nullLeft := nullRowFor(leftKeys)
		var out []eval.Row
		for _, rr := range rightRows {
			matched := false
			for _, lr := range leftRows {
				merged := mergeRows(lr, rr)
				ok, err := ev.Matches(n.On, merged)
				if err != nil {
					return nil, withOp(err, "Join")
				}
				if ok {
					out = append(out, merged)
					matched = true
				}
			}
			if !matched {
				out = append(out, mergeRows(nullLeft, rr))
			}
		}
		return out, nil
	}

	var nullRight eval.Row
	if n.Kind == ast.JoinLeft {
		rightKeys, err := ex.outputKeys(n.Right, n.RightAlias)
		if err != nil {
			return nil, err
		}
		nullRight = nullRowFor(rightKeys)
	}

	var out []eval.Row
	for _, lr := range leftRows {
		matched := false
		for _, rr := range rightRows {
			merged := mergeRows(lr, rr)
			ok, err := ev.Matches(n.On, merged)
			if err != nil {
				return nil, withOp(err, "Join")
			}
			if ok {
				out = append(out, merged)
				matched = true
			}
		}
		if !matched && n.Kind == ast.JoinLeft {
			out = append(out, mergeRows(lr, nullRight))
		}
	}
	return out, nil
}
