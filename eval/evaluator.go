package eval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/goqlerr"
)

// SubqueryFunc is injected by the executor so the evaluator never depends
// on the executor type. It must return a lazily-materialized single-column
// list of values.
type SubqueryFunc func() ([]Value, error)

// Evaluator evaluates expressions against a single row. Column qualifiers
// ("alias.col") are resolved by direct lookup against the row's keys, which
// for joined rows are already qualified by the executor.
type Evaluator struct {
	// Subqueries maps an *ast.In node (by pointer identity) to the callback
	// that materializes its subquery result. The planner/executor populates
	// this for any In whose List came from a parsed subquery rather than a
	// literal value list.
	Subqueries map[*ast.In]SubqueryFunc
}

func New() *Evaluator { return &Evaluator{Subqueries: map[*ast.In]SubqueryFunc{}} }

// Evaluate dispatches on the expression's concrete type. This is the single
// type-switch a closed sum type calls for.
func (e *Evaluator) Evaluate(expr ast.Expr, row Row) (Value, error) {
	switch n := expr.(type) {
	case *ast.ColumnRef:
		return e.evalColumn(n, row), nil
	case *ast.ValueLit:
		return litValue(n), nil
	case *ast.BinaryOp:
		return e.evalBinary(n, row)
	case *ast.LogicalOp:
		return e.evalLogical(n, row)
	case *ast.Not:
		return e.evalNot(n, row)
	case *ast.Like:
		return e.evalLike(n, row)
	case *ast.In:
		return e.evalIn(n, row)
	case *ast.Between:
		return e.evalBetween(n, row)
	case *ast.IsNull:
		return e.evalIsNull(n, row)
	case *ast.AliasColumn:
		return e.Evaluate(n.Inner, row)
	case *ast.AggregateFunc:
		return Value{}, goqlerr.Exec("aggregate %s cannot be evaluated outside GroupAggregate", n.Func)
	default:
		return Value{}, goqlerr.Exec("unsupported expression node %T", expr)
	}
}

func litValue(n *ast.ValueLit) Value {
	switch n.Kind {
	case ast.LitNull:
		return Null()
	case ast.LitInt:
		return Int(n.Int)
	case ast.LitString:
		return Varchar(n.Str)
	}
	return Null()
}

func (e *Evaluator) evalColumn(n *ast.ColumnRef, row Row) Value {
	if n.Table != "" {
		if v, ok := row[n.Table+"."+n.Column]; ok {
			return v
		}
	}
	if v, ok := row[n.Column]; ok {
		return v
	}
	// Unqualified lookup against a qualified row (single-table scans qualify
	// nothing, joins qualify everything): fall back to a suffix match.
	for k, v := range row {
		if strings.HasSuffix(k, "."+n.Column) {
			return v
		}
	}
	return Null()
}

func (e *Evaluator) evalBinary(n *ast.BinaryOp, row Row) (Value, error) {
	l, err := e.Evaluate(n.Left, row)
	if err != nil {
		return Value{}, err
	}
	r, err := e.Evaluate(n.Right, row)
	if err != nil {
		return Value{}, err
	}
	switch n.Op {
	case ast.OpEq:
		eq, ok := Equal(l, r)
		if !ok {
			return Null(), nil
		}
		return eq, nil
	case ast.OpNeq:
		eq, ok := Equal(l, r)
		if !ok {
			return Null(), nil
		}
		return Bool(!eq.Bool), nil
	case ast.OpLt, ast.OpLte, ast.OpGt, ast.OpGte:
		if l.IsNull() || r.IsNull() {
			return Null(), nil
		}
		c := Compare(l, r)
		switch n.Op {
		case ast.OpLt:
			return Bool(c < 0), nil
		case ast.OpLte:
			return Bool(c <= 0), nil
		case ast.OpGt:
			return Bool(c > 0), nil
		case ast.OpGte:
			return Bool(c >= 0), nil
		}
	}
	return Value{}, goqlerr.Exec("unsupported comparison operator %s", n.Op)
}

// evalLogical implements SQL three-valued AND/OR:
// NULL is neither true nor false; and(false, NULL) = false;
// or(true, NULL) = true; otherwise NULL propagates.
func (e *Evaluator) evalLogical(n *ast.LogicalOp, row Row) (Value, error) {
	l, err := e.Evaluate(n.Left, row)
	if err != nil {
		return Value{}, err
	}
	switch n.Kind {
	case ast.LogAnd:
		if l.IsKnownBool() && !l.Bool {
			return Bool(false), nil
		}
		r, err := e.Evaluate(n.Right, row)
		if err != nil {
			return Value{}, err
		}
		if r.IsKnownBool() && !r.Bool {
			return Bool(false), nil
		}
		if l.IsNull() || r.IsNull() {
			return Null(), nil
		}
		return Bool(l.Bool && r.Bool), nil
	case ast.LogOr:
		if l.IsKnownBool() && l.Bool {
			return Bool(true), nil
		}
		r, err := e.Evaluate(n.Right, row)
		if err != nil {
			return Value{}, err
		}
		if r.IsKnownBool() && r.Bool {
			return Bool(true), nil
		}
		if l.IsNull() || r.IsNull() {
			return Null(), nil
		}
		return Bool(l.Bool || r.Bool), nil
	}
	return Value{}, goqlerr.Exec("unsupported logical operator %s", n.Kind)
}

func (e *Evaluator) evalNot(n *ast.Not, row Row) (Value, error) {
	v, err := e.Evaluate(n.Expr, row)
	if err != nil {
		return Value{}, err
	}
	if v.IsNull() {
		return Null(), nil
	}
	return Bool(!v.Bool), nil
}

// evalLike implements SQL LIKE with % and _ wildcards, case-insensitive,
// with other regex metacharacters escaped.
func (e *Evaluator) evalLike(n *ast.Like, row Row) (Value, error) {
	target, err := e.Evaluate(n.Target, row)
	if err != nil {
		return Value{}, err
	}
	pattern, err := e.Evaluate(n.Pattern, row)
	if err != nil {
		return Value{}, err
	}
	if target.IsNull() || pattern.IsNull() {
		return Null(), nil
	}
	matched := likeMatch(strings.ToLower(target.String()), strings.ToLower(pattern.String()))
	if n.Negate {
		matched = !matched
	}
	return Bool(matched), nil
}

// likeMatch is a small recursive matcher for SQL's % (any run) and _
// (single char) wildcards over already-lowercased strings.
func likeMatch(s, pattern string) bool {
	sr := []rune(s)
	pr := []rune(pattern)
	return likeMatchRunes(sr, pr)
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		// Skip any run of consecutive '%'.
		rest := p[1:]
		for len(rest) > 0 && rest[0] == '%' {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(s); i++ {
			if likeMatchRunes(s[i:], rest) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	}
}

func (e *Evaluator) evalIn(n *ast.In, row Row) (Value, error) {
	target, err := e.Evaluate(n.Target, row)
	if err != nil {
		return Value{}, err
	}
	if target.IsNull() {
		return Null(), nil
	}

	var candidates []Value
	if fn, ok := e.Subqueries[n]; ok {
		candidates, err = fn()
		if err != nil {
			return Value{}, err
		}
	} else {
		for _, item := range n.List {
			v, err := e.Evaluate(item, row)
			if err != nil {
				return Value{}, err
			}
			candidates = append(candidates, v)
		}
	}

	sawNull := false
	found := false
	for _, c := range candidates {
		if c.IsNull() {
			sawNull = true
			continue
		}
		eq, ok := Equal(target, c)
		if ok && eq.Bool {
			found = true
			break
		}
	}
	if found {
		return Bool(!n.Negate), nil
	}
	if sawNull {
		return Null(), nil
	}
	return Bool(n.Negate), nil
}

// evalBetween implements `value BETWEEN min AND max` as
// `value >= min AND value <= max`.
func (e *Evaluator) evalBetween(n *ast.Between, row Row) (Value, error) {
	target, err := e.Evaluate(n.Target, row)
	if err != nil {
		return Value{}, err
	}
	low, err := e.Evaluate(n.Low, row)
	if err != nil {
		return Value{}, err
	}
	high, err := e.Evaluate(n.High, row)
	if err != nil {
		return Value{}, err
	}
	if target.IsNull() || low.IsNull() || high.IsNull() {
		return Null(), nil
	}
	within := Compare(target, low) >= 0 && Compare(target, high) <= 0
	if n.Negate {
		within = !within
	}
	return Bool(within), nil
}

func (e *Evaluator) evalIsNull(n *ast.IsNull, row Row) (Value, error) {
	v, err := e.Evaluate(n.Target, row)
	if err != nil {
		return Value{}, err
	}
	isNull := v.IsNull()
	if n.Negate {
		isNull = !isNull
	}
	return Bool(isNull), nil
}

// Matches evaluates expr against row and applies the Filter boundary rule:
// NULL and false are both treated as "drop the row".
func (e *Evaluator) Matches(expr ast.Expr, row Row) (bool, error) {
	if expr == nil {
		return true, nil
	}
	v, err := e.Evaluate(expr, row)
	if err != nil {
		return false, err
	}
	return v.IsKnownBool() && v.Bool, nil
}

// CoerceForColumn type-checks and normalizes a literal value against a
// column's declared kind, used by the semantic analyzer and by Insert's
// runtime re-check. maxLength is only meaningful for varchar columns.
func CoerceForColumn(v Value, isVarchar bool, maxLength int) (Value, error) {
	if v.IsNull() {
		return v, nil
	}
	if isVarchar {
		if v.Kind != KindVarchar {
			return Value{}, fmt.Errorf("expected VARCHAR value, got %v", v.Kind)
		}
		if maxLength > 0 && len([]rune(v.Str)) > maxLength {
			return Value{}, fmt.Errorf("value exceeds VARCHAR(%d)", maxLength)
		}
		return v, nil
	}
	if v.Kind != KindInt {
		return Value{}, fmt.Errorf("expected INT value, got %v", v.Kind)
	}
	return v, nil
}

// ParseIntStrict parses a textual NUMBER token into an int32, used by the
// parser when it must materialize a literal immediately (LIMIT/OFFSET).
func ParseIntStrict(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}
