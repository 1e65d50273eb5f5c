// Package exec turns a plan.Node tree into an operator tree and drives it.
// Operator is a closed sum type — one struct per kind, an unexported
// marker method, and a single type switch in Executor.Run —
// matching the "tagged variant, not a class hierarchy" guidance ast.Stmt
// and ast.Expr already follow.
package exec

import (
	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/goqlerr"
	"github.com/goquel/goquel/plan"
)

// Operator is any node of the built operator tree.
type Operator interface {
	operatorNode()
}

type SeqScanOp struct {
	Table string
	Alias string
}

func (*SeqScanOp) operatorNode() {}

type FilterOp struct {
	Cond  ast.Expr
	Child Operator
}

func (*FilterOp) operatorNode() {}

type ProjectOp struct {
	Items []ast.SelectItem
	Child Operator
}

func (*ProjectOp) operatorNode() {}

type DistinctOp struct {
	Columns []string
	Child   Operator
}

func (*DistinctOp) operatorNode() {}

type GroupAggregateOp struct {
	GroupKeys  []string
	Aggregates []plan.Aggregate
	Having     ast.Expr
	Child      Operator
}

func (*GroupAggregateOp) operatorNode() {}

type SortOp struct {
	Keys  []ast.SortKey
	Child Operator
}

func (*SortOp) operatorNode() {}

type LimitOp struct {
	Offset, Count int
	Child         Operator
}

func (*LimitOp) operatorNode() {}

// JoinOp's LeftAlias is "" when Left already yields alias-qualified keys
// from a prior join in the chain; RightAlias is always set, since the
// grammar only ever joins in a single table at a time (no parenthesized
// join trees).
type JoinOp struct {
	Kind                  ast.JoinKind
	Left, Right           Operator
	LeftAlias, RightAlias string
	On                    ast.Expr
}

func (*JoinOp) operatorNode() {}

type InsertOp struct {
	Table   string
	Columns []string
	Values  []ast.Expr
}

func (*InsertOp) operatorNode() {}

type DeleteOp struct {
	Table string
	Child Operator
}

func (*DeleteOp) operatorNode() {}

type UpdateOp struct {
	Table string
	Set   []ast.Assignment
	Child Operator
}

func (*UpdateOp) operatorNode() {}

type CreateTableOp struct {
	Table       string
	Columns     []ast.ColumnDef
	ForeignKeys []ast.ForeignKeyDef
}

func (*CreateTableOp) operatorNode() {}

type DropTableOp struct {
	Table string
}

func (*DropTableOp) operatorNode() {}

type AlterTableOp struct {
	Action  ast.AlterAction
	Table   string
	Payload ast.AlterTable
}

func (*AlterTableOp) operatorNode() {}

type ShowTablesOp struct{}

func (*ShowTablesOp) operatorNode() {}

type DescOp struct {
	Table string
}

func (*DescOp) operatorNode() {}

// Build walks a plan.Node tree (as produced by the plan package) into an
// Operator tree. Build does no I/O and performs no validation beyond shape;
// the planner and semantic analyzer have already guaranteed the tree is
// well-formed.
func Build(node plan.Node) (Operator, error) {
	op, _ := node["op"].(string)
	switch op {
	case plan.OpSeqScan:
		return &SeqScanOp{Table: str(node, "table"), Alias: str(node, "alias")}, nil
	case plan.OpFilter:
		child, err := buildChild(node, "child")
		if err != nil {
			return nil, err
		}
		return &FilterOp{Cond: node["condition"].(ast.Expr), Child: child}, nil
	case plan.OpProject:
		child, err := buildChild(node, "child")
		if err != nil {
			return nil, err
		}
		return &ProjectOp{Items: node["items"].([]ast.SelectItem), Child: child}, nil
	case plan.OpDistinct:
		child, err := buildChild(node, "child")
		if err != nil {
			return nil, err
		}
		var cols []string
		if c, ok := node["columns"].([]string); ok {
			cols = c
		}
		return &DistinctOp{Columns: cols, Child: child}, nil
	case plan.OpGroupAggregate:
		child, err := buildChild(node, "child")
		if err != nil {
			return nil, err
		}
		var having ast.Expr
		if h, ok := node["having"].(ast.Expr); ok {
			having = h
		}
		return &GroupAggregateOp{
			GroupKeys:  node["group_keys"].([]string),
			Aggregates: node["aggregates"].([]plan.Aggregate),
			Having:     having,
			Child:      child,
		}, nil
	case plan.OpSort:
		child, err := buildChild(node, "child")
		if err != nil {
			return nil, err
		}
		return &SortOp{Keys: node["keys"].([]ast.SortKey), Child: child}, nil
	case plan.OpLimit:
		child, err := buildChild(node, "child")
		if err != nil {
			return nil, err
		}
		return &LimitOp{Offset: node["offset"].(int), Count: node["count"].(int), Child: child}, nil
	case plan.OpJoin:
		left, err := buildChild(node, "left")
		if err != nil {
			return nil, err
		}
		right, err := buildChild(node, "right")
		if err != nil {
			return nil, err
		}
		var on ast.Expr
		if o, ok := node["on"].(ast.Expr); ok {
			on = o
		}
		return &JoinOp{
			Kind: node["kind"].(ast.JoinKind), Left: left, Right: right,
			LeftAlias: str(node, "left_alias"), RightAlias: str(node, "right_alias"), On: on,
		}, nil
	case plan.OpInsert:
		var cols []string
		if c, ok := node["columns"].([]string); ok {
			cols = c
		}
		return &InsertOp{Table: str(node, "table"), Columns: cols, Values: node["values"].([]ast.Expr)}, nil
	case plan.OpDelete:
		child, err := buildChild(node, "child")
		if err != nil {
			return nil, err
		}
		return &DeleteOp{Table: str(node, "table"), Child: child}, nil
	case plan.OpUpdate:
		child, err := buildChild(node, "child")
		if err != nil {
			return nil, err
		}
		return &UpdateOp{Table: str(node, "table"), Set: node["set"].([]ast.Assignment), Child: child}, nil
	case plan.OpCreateTable:
		var fks []ast.ForeignKeyDef
		if f, ok := node["foreign_keys"].([]ast.ForeignKeyDef); ok {
			fks = f
		}
		return &CreateTableOp{Table: str(node, "table"), Columns: node["columns"].([]ast.ColumnDef), ForeignKeys: fks}, nil
	case plan.OpDropTable:
		return &DropTableOp{Table: str(node, "table")}, nil
	case plan.OpAlterTable:
		return &AlterTableOp{
			Action:  node["action"].(ast.AlterAction),
			Table:   str(node, "table"),
			Payload: node["payload"].(ast.AlterTable),
		}, nil
	case plan.OpShowTables:
		return &ShowTablesOp{}, nil
	case plan.OpDesc:
		return &DescOp{Table: str(node, "table")}, nil
	default:
		return nil, goqlerr.Exec("unrecognized plan node op %q", op)
	}
}

func buildChild(node plan.Node, key string) (Operator, error) {
	child, ok := node[key].(plan.Node)
	if !ok {
		return nil, goqlerr.Exec("plan node missing child %q", key)
	}
	return Build(child)
}

func str(node plan.Node, key string) string {
	s, _ := node[key].(string)
	return s
}
