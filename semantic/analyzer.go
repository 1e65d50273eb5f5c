// Package semantic checks a parsed ast.Stmt's names, types, and arities
// against the catalog.
package semantic

import (
	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/catalog"
	"github.com/goquel/goquel/goqlerr"
	"github.com/goquel/goquel/storage"
)

// Analyzer validates a statement against the catalog before it reaches the
// planner. It holds no per-statement state of its own.
type Analyzer struct {
	Catalog *catalog.Catalog
}

func New(cat *catalog.Catalog) *Analyzer { return &Analyzer{Catalog: cat} }

// Analyze dispatches on stmt's concrete type, the single type-switch this
// pipeline stage needs for its closed sum type.
func (a *Analyzer) Analyze(stmt ast.Stmt) error {
	switch n := stmt.(type) {
	case *ast.CreateTable:
		return a.analyzeCreateTable(n)
	case *ast.Insert:
		return a.analyzeInsert(n)
	case *ast.Select:
		return a.analyzeSelect(n)
	case *ast.Update:
		return a.analyzeUpdate(n)
	case *ast.Delete:
		return a.analyzeDelete(n)
	case *ast.AlterTable:
		return a.analyzeAlterTable(n)
	case *ast.DropTable:
		_, err := a.requireTable(n.Table, n.Pos)
		return err
	case *ast.ShowTables:
		return nil
	case *ast.DescTable:
		return a.analyzeDescTable(n)
	default:
		return goqlerr.Sem(0, 0, "unsupported statement type %T", stmt)
	}
}

func (a *Analyzer) analyzeCreateTable(n *ast.CreateTable) error {
	if a.Catalog.TableExists(n.Table) {
		return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "table %q already exists", n.Table)
	}
	seen := map[string]bool{}
	for _, col := range n.Columns {
		if seen[col.Name] {
			return goqlerr.Sem(col.Pos.Line, col.Pos.Column, "duplicate column name %q", col.Name)
		}
		seen[col.Name] = true
		switch col.Type {
		case ast.TypeInt, ast.TypeVarchar:
		default:
			return goqlerr.Sem(col.Pos.Line, col.Pos.Column, "unrecognized column type %q", col.Type)
		}
		if col.Type == ast.TypeVarchar && col.MaxLength <= 0 {
			return goqlerr.Sem(col.Pos.Line, col.Pos.Column, "VARCHAR column %q must declare a positive length", col.Name)
		}
		if def, ok := col.DefaultValue(); ok {
			if err := checkLiteralAgainstColumn(def, col); err != nil {
				return goqlerr.Sem(def.Pos.Line, def.Pos.Column, "%v", err)
			}
		}
	}
	for _, fk := range n.ForeignKeys {
		if !seen[fk.Column] {
			return goqlerr.Sem(fk.Pos.Line, fk.Pos.Column, "foreign key references unknown column %q", fk.Column)
		}
	}
	return nil
}

func checkLiteralAgainstColumn(lit *ast.ValueLit, col ast.ColumnDef) error {
	if lit.Kind == ast.LitNull {
		if col.HasConstraint(ast.ConstraintNotNull) || col.HasConstraint(ast.ConstraintPrimaryKey) {
			return goqlerr.Sem(lit.Pos.Line, lit.Pos.Column, "NULL is not allowed for column %q", col.Name)
		}
		return nil
	}
	switch col.Type {
	case ast.TypeInt:
		if lit.Kind != ast.LitInt {
			return goqlerr.Sem(lit.Pos.Line, lit.Pos.Column, "column %q expects INT, got a string literal", col.Name)
		}
	case ast.TypeVarchar:
		if lit.Kind != ast.LitString {
			return goqlerr.Sem(lit.Pos.Line, lit.Pos.Column, "column %q expects VARCHAR, got a number literal", col.Name)
		}
		if col.MaxLength > 0 && len([]rune(lit.Str)) > col.MaxLength {
			return goqlerr.Sem(lit.Pos.Line, lit.Pos.Column, "value for column %q exceeds VARCHAR(%d)", col.Name, col.MaxLength)
		}
	}
	return nil
}

func (a *Analyzer) requireTable(table string, pos ast.Pos) (catalog.Schema, error) {
	schema, ok := a.Catalog.GetSchema(table)
	if !ok {
		return nil, goqlerr.Sem(pos.Line, pos.Column, "table %q does not exist", table)
	}
	return schema, nil
}

func (a *Analyzer) analyzeInsert(n *ast.Insert) error {
	schema, err := a.requireTable(n.Table, n.Pos)
	if err != nil {
		return err
	}

	var targetCols []catalog.ColumnDef
	if n.Columns != nil {
		seen := map[string]bool{}
		for _, name := range n.Columns {
			if seen[name] {
				return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "duplicate column %q in INSERT column list", name)
			}
			seen[name] = true
			idx := schema.IndexOf(name)
			if idx < 0 {
				return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "column %q does not exist on %q", name, n.Table)
			}
			targetCols = append(targetCols, schema[idx])
		}
	} else {
		targetCols = schema
	}

	if len(n.Values) != len(targetCols) {
		return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "INSERT has %d values but %d columns are targeted", len(n.Values), len(targetCols))
	}
	for i, valExpr := range n.Values {
		lit, ok := valExpr.(*ast.ValueLit)
		if !ok {
			continue // non-literal expressions (e.g. future extensions) are left to runtime evaluation
		}
		col := targetCols[i]
		if err := checkLiteralAgainstCatalogColumn(lit, col); err != nil {
			return err
		}
	}
	return nil
}

func checkLiteralAgainstCatalogColumn(lit *ast.ValueLit, col catalog.ColumnDef) error {
	if lit.Kind == ast.LitNull {
		if col.NotNull || col.PrimaryKey {
			return goqlerr.Sem(lit.Pos.Line, lit.Pos.Column, "NULL is not allowed for column %q", col.Name)
		}
		return nil
	}
	switch col.Kind {
	case storage.ColInt:
		if lit.Kind != ast.LitInt {
			return goqlerr.Sem(lit.Pos.Line, lit.Pos.Column, "column %q expects INT", col.Name)
		}
	case storage.ColVarchar:
		if lit.Kind != ast.LitString {
			return goqlerr.Sem(lit.Pos.Line, lit.Pos.Column, "column %q expects VARCHAR", col.Name)
		}
		if col.MaxLength > 0 && len([]rune(lit.Str)) > col.MaxLength {
			return goqlerr.Sem(lit.Pos.Line, lit.Pos.Column, "value for column %q exceeds VARCHAR(%d)", col.Name, col.MaxLength)
		}
	}
	return nil
}

// scope collects the tables (by alias or name) visible to column
// resolution within a single SELECT/UPDATE/DELETE.
type scope struct {
	tables map[string]catalog.Schema // alias-or-name -> schema
}

func newScope() *scope { return &scope{tables: map[string]catalog.Schema{}} }

func (s *scope) add(ref ast.TableRef, schema catalog.Schema) {
	key := ref.Alias
	if key == "" {
		key = ref.Table
	}
	s.tables[key] = schema
}

// resolve reports whether a (possibly qualified) column reference is valid
// within the scope.
func (s *scope) resolve(ref *ast.ColumnRef) bool {
	if ref.Table != "" {
		schema, ok := s.tables[ref.Table]
		if !ok {
			return false
		}
		return schema.IndexOf(ref.Column) >= 0
	}
	for _, schema := range s.tables {
		if schema.IndexOf(ref.Column) >= 0 {
			return true
		}
	}
	return false
}

func (a *Analyzer) analyzeSelect(n *ast.Select) error {
	sc := newScope()
	fromSchema, err := a.requireTable(n.From.Table, n.From.Pos)
	if err != nil {
		return err
	}
	sc.add(n.From, fromSchema)

	for _, j := range n.Joins {
		joinSchema, err := a.requireTable(j.Ref.Table, j.Ref.Pos)
		if err != nil {
			return err
		}
		sc.add(j.Ref, joinSchema)
		if err := a.checkExprColumns(j.On, sc); err != nil {
			return err
		}
	}

	for _, item := range n.Items {
		if item.Star {
			continue
		}
		if err := a.checkExprColumns(item.Expr, sc); err != nil {
			return err
		}
	}
	if n.Where != nil {
		if err := a.checkExprColumns(n.Where, sc); err != nil {
			return err
		}
	}
	if n.Having != nil {
		if err := a.checkExprColumns(n.Having, sc); err != nil {
			return err
		}
	}
	for _, col := range n.GroupBy {
		if !sc.resolve(qualifiedRef(col)) {
			return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "GROUP BY references unknown column %q", col)
		}
	}
	for _, key := range n.OrderBy {
		if key.Column != "" && !sc.resolve(qualifiedRef(key.Column)) {
			return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "ORDER BY references unknown column %q", key.Column)
		}
	}

	hasAggregate := false
	for _, item := range n.Items {
		if !item.Star && containsAggregate(item.Expr) {
			hasAggregate = true
		}
	}
	if n.Having != nil && len(n.GroupBy) == 0 && !hasAggregate {
		return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "HAVING requires GROUP BY or an aggregate in the SELECT list")
	}
	hasStar := false
	for _, item := range n.Items {
		if item.Star {
			hasStar = true
		}
	}
	if hasStar && len(n.GroupBy) > 0 {
		return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "SELECT * is not allowed with GROUP BY")
	}
	return nil
}

func qualifiedRef(name string) *ast.ColumnRef {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return &ast.ColumnRef{Table: name[:i], Column: name[i+1:]}
		}
	}
	return &ast.ColumnRef{Column: name}
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

// checkExprColumns walks expr looking for every ColumnRef and verifying it
// resolves within scope: every referenced column must exist on its table.
func (a *Analyzer) checkExprColumns(expr ast.Expr, sc *scope) error {
	switch n := expr.(type) {
	case nil:
		return nil
	case *ast.ColumnRef:
		if !sc.resolve(n) {
			label := n.Column
			if n.Table != "" {
				label = n.Table + "." + n.Column
			}
			return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "unknown column %q", label)
		}
	case *ast.ValueLit:
	case *ast.BinaryOp:
		if err := a.checkExprColumns(n.Left, sc); err != nil {
			return err
		}
		return a.checkExprColumns(n.Right, sc)
	case *ast.LogicalOp:
		if err := a.checkExprColumns(n.Left, sc); err != nil {
			return err
		}
		return a.checkExprColumns(n.Right, sc)
	case *ast.Not:
		return a.checkExprColumns(n.Expr, sc)
	case *ast.Like:
		if err := a.checkExprColumns(n.Target, sc); err != nil {
			return err
		}
		return a.checkExprColumns(n.Pattern, sc)
	case *ast.In:
		if err := a.checkExprColumns(n.Target, sc); err != nil {
			return err
		}
		for _, item := range n.List {
			if err := a.checkExprColumns(item, sc); err != nil {
				return err
			}
		}
		if n.Subquery != nil {
			return a.analyzeSelect(n.Subquery)
		}
	case *ast.Between:
		if err := a.checkExprColumns(n.Target, sc); err != nil {
			return err
		}
		if err := a.checkExprColumns(n.Low, sc); err != nil {
			return err
		}
		return a.checkExprColumns(n.High, sc)
	case *ast.IsNull:
		return a.checkExprColumns(n.Target, sc)
	case *ast.AggregateFunc:
		if n.Star {
			return nil
		}
		return a.checkExprColumns(n.Arg, sc)
	case *ast.AliasColumn:
		return a.checkExprColumns(n.Inner, sc)
	}
	return nil
}

func (a *Analyzer) analyzeUpdate(n *ast.Update) error {
	schema, err := a.requireTable(n.Table, n.Pos)
	if err != nil {
		return err
	}
	sc := newScope()
	sc.add(ast.TableRef{Table: n.Table}, schema)
	for _, assign := range n.Set {
		if schema.IndexOf(assign.Column) < 0 {
			return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "column %q does not exist on %q", assign.Column, n.Table)
		}
	}
	return a.checkExprColumns(n.Where, sc)
}

func (a *Analyzer) analyzeDelete(n *ast.Delete) error {
	schema, err := a.requireTable(n.Table, n.Pos)
	if err != nil {
		return err
	}
	sc := newScope()
	sc.add(ast.TableRef{Table: n.Table}, schema)
	return a.checkExprColumns(n.Where, sc)
}

func (a *Analyzer) analyzeAlterTable(n *ast.AlterTable) error {
	schema, err := a.requireTable(n.Table, n.Pos)
	if err != nil {
		return err
	}
	switch n.Action {
	case ast.AlterAddColumn:
		if schema.IndexOf(n.Column.Name) >= 0 {
			return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "column %q already exists on %q", n.Column.Name, n.Table)
		}
	case ast.AlterDropColumn, ast.AlterModifyColumn:
		if schema.IndexOf(n.ColumnName) < 0 {
			return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "column %q does not exist on %q", n.ColumnName, n.Table)
		}
	case ast.AlterChangeColumn:
		if schema.IndexOf(n.ColumnName) < 0 {
			return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "column %q does not exist on %q", n.ColumnName, n.Table)
		}
		if n.NewName != n.ColumnName && schema.IndexOf(n.NewName) >= 0 {
			return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "column %q already exists on %q", n.NewName, n.Table)
		}
	case ast.AlterRename:
		if a.Catalog.TableExists(n.NewTableName) {
			return goqlerr.Sem(n.Pos.Line, n.Pos.Column, "table %q already exists", n.NewTableName)
		}
	}
	return nil
}

func (a *Analyzer) analyzeDescTable(n *ast.DescTable) error {
	_, err := a.requireTable(n.Table, n.Pos)
	return err
}
