package exec

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/catalog"
	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/goqlerr"
	"github.com/goquel/goquel/storage"
)

// Executor drives a built Operator tree to completion against a storage
// engine and catalog, using a pull model. It borrows both for the
// duration of a single Run and holds no state between statements.
type Executor struct {
	Engine  *storage.Engine
	Catalog *catalog.Catalog
	log     *zap.SugaredLogger
}

func New(engine *storage.Engine, cat *catalog.Catalog, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{Engine: engine, Catalog: cat, log: log}
}

// Run walks op to completion and returns its full row stream. Query
// operators yield one row per result row; DDL/DML operators yield exactly
// one status row.
func (ex *Executor) Run(op Operator) ([]eval.Row, error) {
	switch n := op.(type) {
	case *SeqScanOp:
		return ex.execSeqScan(n)
	case *FilterOp:
		return ex.execFilter(n)
	case *ProjectOp:
		return ex.execProject(n)
	case *DistinctOp:
		return ex.execDistinct(n)
	case *GroupAggregateOp:
		return ex.execGroupAggregate(n)
	case *SortOp:
		return ex.execSort(n)
	case *LimitOp:
		return ex.execLimit(n)
	case *JoinOp:
		return ex.execJoin(n)
	case *InsertOp:
		row, err := ex.execInsert(n)
		return oneRow(row, err)
	case *DeleteOp:
		row, err := ex.execDelete(n)
		return oneRow(row, err)
	case *UpdateOp:
		row, err := ex.execUpdate(n)
		return oneRow(row, err)
	case *CreateTableOp:
		row, err := ex.execCreateTable(n)
		return oneRow(row, err)
	case *DropTableOp:
		row, err := ex.execDropTable(n)
		return oneRow(row, err)
	case *AlterTableOp:
		row, err := ex.execAlterTable(n)
		return oneRow(row, err)
	case *ShowTablesOp:
		return ex.execShowTables(n)
	case *DescOp:
		return ex.execDesc(n)
	default:
		return nil, goqlerr.Exec("unrecognized operator %T", op)
	}
}

// RunIter drives op the same way Run does, but hands the caller a
// pull-based RowIter cursor instead of a materialized slice, for callers
// that want to consume rows one at a time as the executor yields a
// sequence of objects.
func (ex *Executor) RunIter(op Operator) RowIter {
	rows, err := ex.Run(op)
	return newSliceIter(rows, err)
}

func oneRow(row eval.Row, err error) ([]eval.Row, error) {
	if err != nil {
		return nil, err
	}
	return []eval.Row{row}, nil
}

// statusRow builds the `{status, message, affected_rows}` object every
// DDL/DML operator yields.
func statusRow(status, message string, affectedRows int) eval.Row {
	return eval.Row{
		"status":        eval.Varchar(status),
		"message":       eval.Varchar(message),
		"affected_rows": eval.Int(int32(affectedRows)),
	}
}

// withOp tags op onto err's Kind/message when it's one of this pipeline's
// structured errors, and otherwise leaves a plain error untouched.
// Execution errors carry the operator kind that produced them.
func withOp(err error, op string) error {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*goqlerr.Error); ok {
		return ge.WithOp(op)
	}
	return err
}

func (ex *Executor) execSeqScan(n *SeqScanOp) ([]eval.Row, error) {
	rows, err := ex.Engine.SeqScan(n.Table)
	if err != nil {
		return nil, withOp(err, "SeqScan")
	}
	return rows, nil
}

func (ex *Executor) execFilter(n *FilterOp) ([]eval.Row, error) {
	rows, err := ex.Run(n.Child)
	if err != nil {
		return nil, err
	}
	ev := ex.evaluatorFor(n.Cond)
	var out []eval.Row
	for _, row := range rows {
		ok, err := ev.Matches(n.Cond, row)
		if err != nil {
			return nil, withOp(err, "Filter")
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// columnRefFor splits a qualified name ("alias.col" or "col") into an
// ast.ColumnRef the evaluator can resolve, reused by GroupAggregate, Sort,
// and Distinct's column-subset path, all of which only carry qualified
// name strings rather than parsed expressions.
func columnRefFor(name string) *ast.ColumnRef {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return &ast.ColumnRef{Table: name[:i], Column: name[i+1:]}
	}
	return &ast.ColumnRef{Column: name}
}

func columnValue(ev *eval.Evaluator, row eval.Row, qualifiedName string) eval.Value {
	v, _ := ev.Evaluate(columnRefFor(qualifiedName), row)
	return v
}

// itemOutputKey computes the output row key Project assigns to a SELECT
// item: an explicit alias wins, otherwise a qualified column reference
// keeps its "table.column" form (e.g. "a.id"/"b.tag"), and any other
// expression falls back to a stable textual label.
func itemOutputKey(item ast.SelectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	return exprLabel(item.Expr)
}

func exprLabel(expr ast.Expr) string {
	switch n := expr.(type) {
	case *ast.ColumnRef:
		if n.Table != "" {
			return n.Table + "." + n.Column
		}
		return n.Column
	case *ast.AliasColumn:
		if n.Alias != "" {
			return n.Alias
		}
		return exprLabel(n.Inner)
	case *ast.AggregateFunc:
		if n.Star {
			return string(n.Func) + "(*)"
		}
		return string(n.Func) + "(" + exprLabel(n.Arg) + ")"
	case *ast.ValueLit:
		return n.Str
	default:
		return "expr"
	}
}

func (ex *Executor) execProject(n *ProjectOp) ([]eval.Row, error) {
	rows, err := ex.Run(n.Child)
	if err != nil {
		return nil, err
	}
	exprs := make([]ast.Expr, 0, len(n.Items))
	for _, item := range n.Items {
		if !item.Star {
			exprs = append(exprs, item.Expr)
		}
	}
	ev := ex.evaluatorFor(exprs...)
	out := make([]eval.Row, len(rows))
	for i, row := range rows {
		projected := eval.Row{}
		for _, item := range n.Items {
			if item.Star {
				for k, v := range row {
					projected[k] = v
				}
				continue
			}
			v, err := ev.Evaluate(item.Expr, row)
			if err != nil {
				return nil, withOp(err, "Project")
			}
			projected[itemOutputKey(item)] = v
		}
		out[i] = projected
	}
	return out, nil
}

func sortedKeys(row eval.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (ex *Executor) execDistinct(n *DistinctOp) ([]eval.Row, error) {
	rows, err := ex.Run(n.Child)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []eval.Row
	for _, row := range rows {
		cols := n.Columns
		if len(cols) == 0 {
			cols = sortedKeys(row)
		}
		var sb strings.Builder
		for _, c := range cols {
			sb.WriteString(c)
			sb.WriteByte('=')
			sb.WriteString(eval.IdenticalFor(row[c]))
			sb.WriteByte('\x1f')
		}
		key := sb.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		if len(n.Columns) == 0 {
			out = append(out, row)
			continue
		}
		proj := eval.Row{}
		for _, c := range cols {
			proj[c] = row[c]
		}
		out = append(out, proj)
	}
	return out, nil
}

// resolveOrdinalColumn maps a 1-based ORDER BY position to the SELECT
// item's output key by walking down to the nearest Project in the tree
// (Sort sits above Distinct/Project in the planner's layering). Returns
// ok=false when no Project is found, e.g. a bare `SELECT * ... ORDER BY 1`,
// which this engine does not support.
func resolveOrdinalColumn(op Operator, ordinal int) (string, bool) {
	switch n := op.(type) {
	case *ProjectOp:
		if ordinal < 1 || ordinal > len(n.Items) {
			return "", false
		}
		return itemOutputKey(n.Items[ordinal-1]), true
	case *DistinctOp:
		return resolveOrdinalColumn(n.Child, ordinal)
	case *FilterOp:
		return resolveOrdinalColumn(n.Child, ordinal)
	default:
		return "", false
	}
}

func (ex *Executor) execSort(n *SortOp) ([]eval.Row, error) {
	rows, err := ex.Run(n.Child)
	if err != nil {
		return nil, err
	}
	ev := eval.New()
	type resolvedKey struct {
		column string
		desc   bool
	}
	keys := make([]resolvedKey, len(n.Keys))
	for i, k := range n.Keys {
		col := k.Column
		if k.Ordinal != 0 {
			resolved, ok := resolveOrdinalColumn(n.Child, k.Ordinal)
			if !ok {
				return nil, goqlerr.Exec("ORDER BY position %d cannot be resolved", k.Ordinal).WithOp("Sort")
			}
			col = resolved
		}
		keys[i] = resolvedKey{column: col, desc: k.Descending}
	}
	out := make([]eval.Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			vi := columnValue(ev, out[i], k.column)
			vj := columnValue(ev, out[j], k.column)
			c := eval.CompareNullsFirst(vi, vj)
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out, nil
}

func (ex *Executor) execLimit(n *LimitOp) ([]eval.Row, error) {
	rows, err := ex.Run(n.Child)
	if err != nil {
		return nil, err
	}
	if n.Offset >= len(rows) {
		return nil, nil
	}
	rows = rows[n.Offset:]
	if n.Count < len(rows) {
		rows = rows[:n.Count]
	}
	out := make([]eval.Row, len(rows))
	copy(out, rows)
	return out, nil
}
