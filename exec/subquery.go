package exec

import (
	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/goqlerr"
	"github.com/goquel/goquel/plan"
)

// evaluatorFor builds an evaluator with every `IN (SELECT ...)` in exprs
// bound to a callback that plans and runs the subquery through this
// executor, keeping the evaluator itself free of any executor dependency.
// The callback materializes its result once and caches it for the rest of
// the statement.
func (ex *Executor) evaluatorFor(exprs ...ast.Expr) *eval.Evaluator {
	ev := eval.New()
	for _, e := range exprs {
		ex.bindSubqueries(ev, e)
	}
	return ev
}

func (ex *Executor) bindSubqueries(ev *eval.Evaluator, expr ast.Expr) {
	switch n := expr.(type) {
	case nil:
	case *ast.In:
		ex.bindSubqueries(ev, n.Target)
		for _, item := range n.List {
			ex.bindSubqueries(ev, item)
		}
		if n.Subquery != nil {
			sel := n.Subquery
			var cached []eval.Value
			done := false
			ev.Subqueries[n] = func() ([]eval.Value, error) {
				if done {
					return cached, nil
				}
				vals, err := ex.runSubquery(sel)
				if err != nil {
					return nil, err
				}
				cached, done = vals, true
				return cached, nil
			}
		}
	case *ast.BinaryOp:
		ex.bindSubqueries(ev, n.Left)
		ex.bindSubqueries(ev, n.Right)
	case *ast.LogicalOp:
		ex.bindSubqueries(ev, n.Left)
		ex.bindSubqueries(ev, n.Right)
	case *ast.Not:
		ex.bindSubqueries(ev, n.Expr)
	case *ast.Like:
		ex.bindSubqueries(ev, n.Target)
		ex.bindSubqueries(ev, n.Pattern)
	case *ast.Between:
		ex.bindSubqueries(ev, n.Target)
		ex.bindSubqueries(ev, n.Low)
		ex.bindSubqueries(ev, n.High)
	case *ast.IsNull:
		ex.bindSubqueries(ev, n.Target)
	case *ast.AliasColumn:
		ex.bindSubqueries(ev, n.Inner)
	case *ast.AggregateFunc:
		ex.bindSubqueries(ev, n.Arg)
	}
}

// runSubquery plans and drives a nested SELECT, flattening its rows into
// the single-column value list IN expects.
func (ex *Executor) runSubquery(sel *ast.Select) ([]eval.Value, error) {
	node, err := plan.Build(sel, ex.Catalog)
	if err != nil {
		return nil, err
	}
	op, err := Build(node)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Run(op)
	if err != nil {
		return nil, err
	}
	out := make([]eval.Value, 0, len(rows))
	for _, row := range rows {
		if len(row) != 1 {
			return nil, goqlerr.Exec("IN subquery must return a single column, got %d", len(row))
		}
		for _, v := range row {
			out = append(out, v)
		}
	}
	return out, nil
}
