package plan

import (
	"strings"

	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/catalog"
	"github.com/goquel/goquel/goqlerr"
)

// Build turns a semantically-valid ast.Stmt into an operator tree.
// Semantic analysis must already have run; Build does not re-check names
// or types, only shapes the tree and its GROUP BY/HAVING/SELECT-* legality
// rules.
func Build(stmt ast.Stmt, cat *catalog.Catalog) (Node, error) {
	switch n := stmt.(type) {
	case *ast.CreateTable:
		return CreateTable(n.Table, n.Columns, n.ForeignKeys), nil
	case *ast.DropTable:
		return DropTable(n.Table), nil
	case *ast.Insert:
		return Insert(n.Table, n.Columns, n.Values), nil
	case *ast.Delete:
		return buildDelete(n), nil
	case *ast.Update:
		return buildUpdate(n), nil
	case *ast.AlterTable:
		return AlterTable(n.Action, n.Table, *n), nil
	case *ast.ShowTables:
		return ShowTables(), nil
	case *ast.DescTable:
		return Desc(n.Table), nil
	case *ast.Select:
		return buildSelect(n)
	default:
		return nil, goqlerr.Pln("unsupported statement type %T", stmt)
	}
}

func buildDelete(n *ast.Delete) Node {
	child := SeqScan(n.Table, n.Table)
	if n.Where != nil {
		child = Filter(n.Where, child)
	}
	return Delete(n.Table, child)
}

func buildUpdate(n *ast.Update) Node {
	child := SeqScan(n.Table, n.Table)
	if n.Where != nil {
		child = Filter(n.Where, child)
	}
	return Update(n.Table, n.Set, child)
}

func aliasOrTable(ref ast.TableRef) string {
	if ref.Alias != "" {
		return ref.Alias
	}
	return ref.Table
}

func buildSelect(n *ast.Select) (Node, error) {
	fromAlias := aliasOrTable(n.From)
	joined := SeqScan(n.From.Table, fromAlias)
	for i, j := range n.Joins {
		rightAlias := aliasOrTable(j.Ref)
		rightLeaf := SeqScan(j.Ref.Table, rightAlias)
		leftAlias := ""
		if i == 0 {
			leftAlias = fromAlias
		}
		joined = Join(j.Kind, joined, rightLeaf, leftAlias, rightAlias, j.On)
	}

	current := joined
	if n.Where != nil {
		current = Filter(n.Where, current)
	}

	hasAggregateItem := false
	for _, item := range n.Items {
		if !item.Star && containsAggregate(item.Expr) {
			hasAggregateItem = true
		}
	}
	needsGroup := len(n.GroupBy) > 0 || hasAggregateItem

	hasStar := false
	for _, item := range n.Items {
		if item.Star {
			hasStar = true
		}
	}
	if hasStar && len(n.GroupBy) > 0 {
		return nil, goqlerr.Pln("SELECT * is not allowed with GROUP BY")
	}
	if n.Having != nil && !needsGroup {
		return nil, goqlerr.Pln("HAVING requires GROUP BY or an aggregate in the SELECT list")
	}
	if len(n.GroupBy) > 0 {
		if err := checkItemsAgainstGroupKeys(n.Items, n.GroupBy); err != nil {
			return nil, err
		}
	}

	items := n.Items
	if needsGroup {
		aggs := collectAggregates(n.Items, n.Having)
		current = GroupAggregate(n.GroupBy, aggs, n.Having, current)
		if n.Having != nil {
			current = Filter(rewriteHavingAggregates(n.Having, aggs), current)
		}
		items = rewriteItemsForAggregates(n.Items, aggs)
	}

	if !hasStar || needsGroup {
		current = Project(items, current)
	}

	if n.Distinct {
		current = Distinct(current, nil)
	}
	if len(n.OrderBy) > 0 {
		current = Sort(n.OrderBy, current)
	}
	if n.LimitSet {
		current = Limit(n.Offset, n.Limit, current)
	}
	return current, nil
}

func containsAggregate(expr ast.Expr) bool {
	switch n := expr.(type) {
	case *ast.AggregateFunc:
		return true
	case *ast.AliasColumn:
		return containsAggregate(n.Inner)
	case *ast.BinaryOp:
		return containsAggregate(n.Left) || containsAggregate(n.Right)
	case *ast.LogicalOp:
		return containsAggregate(n.Left) || containsAggregate(n.Right)
	case *ast.Not:
		return containsAggregate(n.Expr)
	}
	return false
}

// collectAggregates walks the SELECT list and the HAVING clause gathering
// each distinct aggregate invocation and assigning it a stable alias, which
// rewriteHavingAggregates and the executor's GroupAggregate both key off.
// HAVING must be walked too: `HAVING COUNT(*) > 1` is legal even when the
// SELECT list never mentions COUNT(*).
func collectAggregates(items []ast.SelectItem, having ast.Expr) []Aggregate {
	var aggs []Aggregate
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		switch n := e.(type) {
		case *ast.AggregateFunc:
			alias := aggregateAlias(n)
			for _, a := range aggs {
				if a.Alias == alias {
					return
				}
			}
			aggs = append(aggs, Aggregate{Func: n.Func, Arg: n.Arg, Star: n.Star, Alias: alias})
		case *ast.AliasColumn:
			walk(n.Inner)
		case *ast.BinaryOp:
			walk(n.Left)
			walk(n.Right)
		case *ast.LogicalOp:
			walk(n.Left)
			walk(n.Right)
		case *ast.Not:
			walk(n.Expr)
		case *ast.Like:
			walk(n.Target)
			walk(n.Pattern)
		case *ast.Between:
			walk(n.Target)
			walk(n.Low)
			walk(n.High)
		case *ast.IsNull:
			walk(n.Target)
		}
	}
	for _, item := range items {
		if !item.Star {
			walk(item.Expr)
		}
	}
	if having != nil {
		walk(having)
	}
	return aggs
}

// checkItemsAgainstGroupKeys enforces the GROUP BY projection rule: every
// non-aggregate SELECT item may reference only grouping keys.
func checkItemsAgainstGroupKeys(items []ast.SelectItem, groupKeys []string) error {
	keySet := map[string]bool{}
	for _, k := range groupKeys {
		keySet[k] = true
		if i := strings.LastIndex(k, "."); i >= 0 {
			keySet[k[i+1:]] = true
		}
	}
	var bad string
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		if bad != "" {
			return
		}
		switch n := e.(type) {
		case *ast.ColumnRef:
			name := n.Column
			if n.Table != "" {
				name = n.Table + "." + n.Column
			}
			if !keySet[name] && !keySet[n.Column] {
				bad = name
			}
		case *ast.AggregateFunc:
			// aggregate arguments may reference any column
		case *ast.AliasColumn:
			walk(n.Inner)
		case *ast.BinaryOp:
			walk(n.Left)
			walk(n.Right)
		case *ast.LogicalOp:
			walk(n.Left)
			walk(n.Right)
		case *ast.Not:
			walk(n.Expr)
		case *ast.Like:
			walk(n.Target)
			walk(n.Pattern)
		case *ast.Between:
			walk(n.Target)
			walk(n.Low)
			walk(n.High)
		case *ast.IsNull:
			walk(n.Target)
		}
	}
	for _, item := range items {
		if !item.Star {
			walk(item.Expr)
		}
	}
	if bad != "" {
		return goqlerr.Pln("column %q must appear in GROUP BY or inside an aggregate", bad)
	}
	return nil
}

func aggregateAlias(n *ast.AggregateFunc) string {
	if n.Star {
		return string(n.Func) + "(*)"
	}
	if col, ok := n.Arg.(*ast.ColumnRef); ok {
		name := col.Column
		if col.Table != "" {
			name = col.Table + "." + col.Column
		}
		return string(n.Func) + "(" + name + ")"
	}
	return string(n.Func) + "(expr)"
}

// rewriteItemsForAggregates applies the same substitution HAVING gets to
// each non-star SELECT item, so Project can evaluate an aggregate-bearing
// expression (e.g. `COUNT(*) > 1`) by reading GroupAggregate's output
// column instead of re-evaluating the aggregate itself.
func rewriteItemsForAggregates(items []ast.SelectItem, aggs []Aggregate) []ast.SelectItem {
	out := make([]ast.SelectItem, len(items))
	for i, it := range items {
		if !it.Star {
			it.Expr = rewriteHavingAggregates(it.Expr, aggs)
		}
		out[i] = it
	}
	return out
}

// rewriteHavingAggregates replaces every AggregateFunc subexpression of
// having with a ColumnRef to the alias GroupAggregate will have already
// produced: aggregates in HAVING are rewritten to reference the alias.
func rewriteHavingAggregates(having ast.Expr, aggs []Aggregate) ast.Expr {
	switch n := having.(type) {
	case *ast.AggregateFunc:
		alias := aggregateAlias(n)
		return &ast.ColumnRef{Pos: n.Pos, Column: alias}
	case *ast.BinaryOp:
		return &ast.BinaryOp{Pos: n.Pos, Op: n.Op, Left: rewriteHavingAggregates(n.Left, aggs), Right: rewriteHavingAggregates(n.Right, aggs)}
	case *ast.LogicalOp:
		return &ast.LogicalOp{Pos: n.Pos, Kind: n.Kind, Left: rewriteHavingAggregates(n.Left, aggs), Right: rewriteHavingAggregates(n.Right, aggs)}
	case *ast.Not:
		return &ast.Not{Pos: n.Pos, Expr: rewriteHavingAggregates(n.Expr, aggs)}
	case *ast.Like:
		return &ast.Like{Pos: n.Pos, Target: rewriteHavingAggregates(n.Target, aggs), Pattern: rewriteHavingAggregates(n.Pattern, aggs), Negate: n.Negate}
	case *ast.Between:
		return &ast.Between{Pos: n.Pos, Target: rewriteHavingAggregates(n.Target, aggs), Low: rewriteHavingAggregates(n.Low, aggs), High: rewriteHavingAggregates(n.High, aggs), Negate: n.Negate}
	case *ast.IsNull:
		return &ast.IsNull{Pos: n.Pos, Target: rewriteHavingAggregates(n.Target, aggs), Negate: n.Negate}
	default:
		return having
	}
}
