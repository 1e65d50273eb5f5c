// Package plan builds the operator tree the executor walks. A plan.Node is
// a literal map value (not a typed struct hierarchy) so the whole tree
// can be handed to encoding/json for a plan interchange format, and to
// k0kubun/pp for human-readable EXPLAIN-style dumps.
package plan

import (
	"github.com/k0kubun/pp/v3"

	"github.com/goquel/goquel/ast"
)

// Node is the planner's universal node shape: an "op" discriminator plus
// operator-specific fields and a "child" pointer (or "left"/"right" for
// Join) to its inputs.
type Node = map[string]any

const (
	OpSeqScan        = "SeqScan"
	OpFilter         = "Filter"
	OpProject        = "Project"
	OpDistinct       = "Distinct"
	OpGroupAggregate = "GroupAggregate"
	OpSort           = "Sort"
	OpLimit          = "Limit"
	OpJoin           = "Join"
	OpCreateTable    = "CreateTable"
	OpDropTable      = "DropTable"
	OpInsert         = "Insert"
	OpDelete         = "Delete"
	OpUpdate         = "Update"
	OpAlterTable     = "AlterTable"
	OpShowTables     = "ShowTables"
	OpDesc           = "Desc"
)

// withCost is folded into every builder below so display-only estimates
// live next to the node they describe instead of being computed again by
// a separate pass.
func withCost(n Node, cost, rows float64) Node {
	n["estimated_cost"] = cost
	n["estimated_rows"] = rows
	return n
}

func SeqScan(table, alias string) Node {
	return withCost(Node{"op": OpSeqScan, "table": table, "alias": alias}, 10, 10)
}

func childRows(child Node) float64 {
	if r, ok := child["estimated_rows"].(float64); ok {
		return r
	}
	return 10
}

func childCost(child Node) float64 {
	if c, ok := child["estimated_cost"].(float64); ok {
		return c
	}
	return 10
}

func Filter(cond ast.Expr, child Node) Node {
	rows := childRows(child) / 2
	if rows < 1 {
		rows = 1
	}
	return withCost(Node{"op": OpFilter, "condition": cond, "child": child}, childCost(child)+rows, rows)
}

func Project(items []ast.SelectItem, child Node) Node {
	return withCost(Node{"op": OpProject, "items": items, "child": child}, childCost(child)+childRows(child), childRows(child))
}

func Distinct(child Node, columns []string) Node {
	rows := childRows(child)
	return withCost(Node{"op": OpDistinct, "columns": columns, "child": child}, childCost(child)+rows, rows)
}

// Aggregate describes one aggregate in a GROUP BY's SELECT list or HAVING
// clause, with the output alias it's addressed by downstream.
type Aggregate struct {
	Func  ast.AggFunc
	Arg   ast.Expr // nil for COUNT(*)
	Star  bool
	Alias string
}

func GroupAggregate(groupKeys []string, aggregates []Aggregate, having ast.Expr, child Node) Node {
	rows := childRows(child)
	return withCost(Node{
		"op": OpGroupAggregate, "group_keys": groupKeys, "aggregates": aggregates,
		"having": having, "child": child,
	}, childCost(child)+rows, rows)
}

func Sort(keys []ast.SortKey, child Node) Node {
	rows := childRows(child)
	cost := childCost(child) + rows // O(n log n) is a display nicety only; linear is close enough for this estimate
	return withCost(Node{"op": OpSort, "keys": keys, "child": child}, cost, rows)
}

func Limit(offset, count int, child Node) Node {
	rows := float64(count)
	if childRows(child) < rows {
		rows = childRows(child)
	}
	return withCost(Node{"op": OpLimit, "offset": offset, "count": count, "child": child}, childCost(child), rows)
}

// Join's leftAlias is only meaningful when left is itself a single-table
// SeqScan (the first join in a chain); chained joins pass "" to mean
// "left already yields qualified alias.col keys, merge them as-is".
func Join(kind ast.JoinKind, left, right Node, leftAlias, rightAlias string, on ast.Expr) Node {
	rows := childRows(left) * childRows(right)
	return withCost(Node{
		"op": OpJoin, "kind": kind, "left": left, "right": right, "on": on,
		"left_alias": leftAlias, "right_alias": rightAlias,
	}, childCost(left)+childCost(right)+rows, rows)
}

func CreateTable(table string, columns []ast.ColumnDef, fks []ast.ForeignKeyDef) Node {
	return withCost(Node{"op": OpCreateTable, "table": table, "columns": columns, "foreign_keys": fks}, 1, 0)
}

func DropTable(table string) Node {
	return withCost(Node{"op": OpDropTable, "table": table}, 1, 0)
}

func Insert(table string, columns []string, values []ast.Expr) Node {
	return withCost(Node{"op": OpInsert, "table": table, "columns": columns, "values": values}, 1, 1)
}

func Delete(table string, child Node) Node {
	return withCost(Node{"op": OpDelete, "table": table, "child": child}, childCost(child), childRows(child))
}

func Update(table string, set []ast.Assignment, child Node) Node {
	return withCost(Node{"op": OpUpdate, "table": table, "set": set, "child": child}, childCost(child), childRows(child))
}

func AlterTable(action ast.AlterAction, table string, payload ast.AlterTable) Node {
	return withCost(Node{"op": OpAlterTable, "action": action, "table": table, "payload": payload}, 1, 0)
}

func ShowTables() Node { return withCost(Node{"op": OpShowTables}, 1, 10) }

func Desc(table string) Node { return withCost(Node{"op": OpDesc, "table": table}, 1, 10) }

// Dump renders tree as a human-readable, indented value for debugging and
// EXPLAIN-style output.
func Dump(tree Node) string {
	return pp.Sprint(tree)
}
