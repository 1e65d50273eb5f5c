package exec

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/catalog"
	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/goqlerr"
	"github.com/goquel/goquel/storage"
)

func storageKind(t ast.ColumnType) storage.ColumnKind {
	if t == ast.TypeVarchar {
		return storage.ColVarchar
	}
	return storage.ColInt
}

func typeName(k storage.ColumnKind) string {
	if k == storage.ColVarchar {
		return "VARCHAR"
	}
	return "INT"
}

// litToValue converts a parsed DEFAULT literal into the value model,
// mirroring the lexer/parser→eval.Value conversion the evaluator itself
// performs for inline literals in a DEFAULT clause.
func litToValue(lit *ast.ValueLit) eval.Value {
	if lit == nil {
		return eval.Null()
	}
	switch lit.Kind {
	case ast.LitInt:
		return eval.Int(lit.Int)
	case ast.LitString:
		return eval.Varchar(lit.Str)
	default:
		return eval.Null()
	}
}

func toCatalogSchema(columns []ast.ColumnDef) catalog.Schema {
	schema := make(catalog.Schema, len(columns))
	for i, c := range columns {
		col := catalog.ColumnDef{
			Column: storage.Column{Name: c.Name, Kind: storageKind(c.Type), MaxLength: c.MaxLength},
		}
		col.PrimaryKey = c.HasConstraint(ast.ConstraintPrimaryKey)
		col.NotNull = col.PrimaryKey || c.HasConstraint(ast.ConstraintNotNull)
		col.Unique = c.HasConstraint(ast.ConstraintUnique)
		if def, ok := c.DefaultValue(); ok {
			col.HasDefault = true
			col.Default = litToValue(def)
		}
		schema[i] = col
	}
	return schema
}

// registerConstraintIndexes records one sys_indexes row per PRIMARY KEY or
// UNIQUE column of a freshly registered table.
func (ex *Executor) registerConstraintIndexes(tableID int, table string, schema catalog.Schema) error {
	for _, col := range schema {
		switch {
		case col.PrimaryKey:
			if _, err := ex.Catalog.RegisterIndex(tableID, fmt.Sprintf("pk_%s", table), col.Name, "PRIMARY"); err != nil {
				return err
			}
		case col.Unique:
			if _, err := ex.Catalog.RegisterIndex(tableID, fmt.Sprintf("uq_%s_%s", table, col.Name), col.Name, "UNIQUE"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ex *Executor) execCreateTable(n *CreateTableOp) (eval.Row, error) {
	schema := toCatalogSchema(n.Columns)
	if err := ex.Engine.CreateTable(n.Table, schema.StorageSchema()); err != nil {
		return nil, withOp(err, "CreateTable")
	}
	tableID, err := ex.Catalog.RegisterTable(n.Table, schema)
	if err != nil {
		return nil, withOp(err, "CreateTable")
	}
	if err := ex.registerConstraintIndexes(tableID, n.Table, schema); err != nil {
		return nil, withOp(err, "CreateTable")
	}
	for _, fk := range n.ForeignKeys {
		name := fk.ConstraintName
		if name == "" {
			name = fmt.Sprintf("fk_%s_%s", n.Table, fk.Column)
		}
		if _, err := ex.Catalog.AddForeignKey(n.Table, fk.Column, fk.RefTable, fk.RefColumn, name); err != nil {
			return nil, withOp(err, "CreateTable")
		}
	}
	return statusRow("success", fmt.Sprintf("table %s created", n.Table), 0), nil
}

// execDropTable drops a user table, RESTRICT-style: a table still
// referenced by another table's foreign key cannot be dropped.
func (ex *Executor) execDropTable(n *DropTableOp) (eval.Row, error) {
	id, ok := ex.Catalog.TableID(n.Table)
	if !ok {
		return nil, goqlerr.Exec("table %q does not exist", n.Table).WithOp("DropTable")
	}
	for _, fk := range ex.Catalog.ForeignKeysReferencing(n.Table) {
		if child, ok := ex.Catalog.TableNameByID(fk.TableID); ok && child != n.Table {
			return nil, goqlerr.Exec("drop of %q blocked by foreign key %q on %q",
				n.Table, fk.ConstraintName, child).WithOp("DropTable")
		}
	}
	if err := ex.Engine.DropTable(n.Table); err != nil {
		return nil, withOp(err, "DropTable")
	}
	if err := ex.Catalog.UnregisterTable(n.Table); err != nil {
		return nil, withOp(err, "DropTable")
	}
	if err := ex.Catalog.RemoveForeignKeysForTable(id); err != nil {
		return nil, withOp(err, "DropTable")
	}
	ex.Catalog.Constraints().InvalidateTable(n.Table)
	return statusRow("success", fmt.Sprintf("table %s dropped", n.Table), 0), nil
}

// rowMapper transforms a row under the old schema into one under the new
// schema, one per AlterTable action.
type rowMapper func(eval.Row) (eval.Row, error)

func (ex *Executor) buildAlterPlan(n *AlterTableOp, oldSchema catalog.Schema) (catalog.Schema, string, rowMapper, error) {
	p := n.Payload
	switch n.Action {
	case ast.AlterRename:
		return oldSchema, p.NewTableName, func(row eval.Row) (eval.Row, error) { return row, nil }, nil

	case ast.AlterAddColumn:
		newCol := toCatalogSchema([]ast.ColumnDef{p.Column})[0]
		newSchema := append(append(catalog.Schema{}, oldSchema...), newCol)
		fill := eval.Null()
		if newCol.HasDefault {
			fill = newCol.Default
		}
		return newSchema, n.Table, func(row eval.Row) (eval.Row, error) {
			out := row.Clone()
			out[newCol.Name] = fill
			return out, nil
		}, nil

	case ast.AlterDropColumn:
		var newSchema catalog.Schema
		for _, c := range oldSchema {
			if c.Name != p.ColumnName {
				newSchema = append(newSchema, c)
			}
		}
		dropped := p.ColumnName
		return newSchema, n.Table, func(row eval.Row) (eval.Row, error) {
			out := eval.Row{}
			for k, v := range row {
				if k != dropped {
					out[k] = v
				}
			}
			return out, nil
		}, nil

	case ast.AlterModifyColumn:
		newCol := toCatalogSchema([]ast.ColumnDef{p.Column})[0]
		newSchema := make(catalog.Schema, len(oldSchema))
		copy(newSchema, oldSchema)
		idx := newSchema.IndexOf(p.ColumnName)
		if idx < 0 {
			return nil, "", nil, goqlerr.Exec("column %q does not exist on %q", p.ColumnName, n.Table)
		}
		newSchema[idx] = newCol
		return newSchema, n.Table, func(row eval.Row) (eval.Row, error) {
			out := row.Clone()
			v, ok := out[p.ColumnName]
			if !ok {
				v = eval.Null()
			}
			coerced, err := eval.CoerceForColumn(v, newCol.Kind == storage.ColVarchar, newCol.MaxLength)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", p.ColumnName, err)
			}
			out[newCol.Name] = coerced
			return out, nil
		}, nil

	case ast.AlterChangeColumn:
		newCol := toCatalogSchema([]ast.ColumnDef{p.Column})[0]
		newCol.Name = p.NewName
		newSchema := make(catalog.Schema, len(oldSchema))
		copy(newSchema, oldSchema)
		idx := newSchema.IndexOf(p.ColumnName)
		if idx < 0 {
			return nil, "", nil, goqlerr.Exec("column %q does not exist on %q", p.ColumnName, n.Table)
		}
		newSchema[idx] = newCol
		oldName := p.ColumnName
		return newSchema, n.Table, func(row eval.Row) (eval.Row, error) {
			out := eval.Row{}
			for k, v := range row {
				if k == oldName {
					continue
				}
				out[k] = v
			}
			v, ok := row[oldName]
			if !ok {
				v = eval.Null()
			}
			coerced, err := eval.CoerceForColumn(v, newCol.Kind == storage.ColVarchar, newCol.MaxLength)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", oldName, err)
			}
			out[newCol.Name] = coerced
			return out, nil
		}, nil
	}
	return nil, "", nil, goqlerr.Exec("unsupported ALTER TABLE action")
}

// execAlterTable implements the rewrite strategy shared by all five
// actions: build a hidden table under the new schema, copy every row
// through the action's mapper, then substitute it for the original and
// update the catalog.
func (ex *Executor) execAlterTable(n *AlterTableOp) (eval.Row, error) {
	oldSchema, ok := ex.Catalog.GetSchema(n.Table)
	if !ok {
		return nil, goqlerr.Exec("table %q does not exist", n.Table).WithOp("AlterTable")
	}
	oldID, _ := ex.Catalog.TableID(n.Table)
	oldFKs := ex.Catalog.ForeignKeysOf(n.Table)
	refFKs := ex.Catalog.ForeignKeysReferencing(n.Table)

	newSchema, newName, mapper, err := ex.buildAlterPlan(n, oldSchema)
	if err != nil {
		return nil, withOp(err, "AlterTable")
	}

	tmpName := fmt.Sprintf("__goquel_tmp_%s_%s", n.Table, uuid.NewString())
	if err := ex.Engine.CreateTable(tmpName, newSchema.StorageSchema()); err != nil {
		return nil, withOp(err, "AlterTable")
	}

	rows, err := ex.Engine.SeqScan(n.Table)
	if err != nil {
		_ = ex.Engine.DropTable(tmpName)
		return nil, withOp(err, "AlterTable")
	}
	for _, row := range rows {
		newRow, err := mapper(row)
		if err != nil {
			_ = ex.Engine.DropTable(tmpName)
			return nil, goqlerr.Exec("%v", err).WithOp("AlterTable")
		}
		if err := ex.Engine.InsertRow(tmpName, newRow); err != nil {
			_ = ex.Engine.DropTable(tmpName)
			return nil, withOp(err, "AlterTable")
		}
	}

	if err := ex.Engine.DropTable(n.Table); err != nil {
		return nil, withOp(err, "AlterTable")
	}
	if err := ex.Engine.RenameTable(tmpName, newName); err != nil {
		return nil, withOp(err, "AlterTable")
	}
	ex.Catalog.Constraints().InvalidateTable(n.Table)

	if err := ex.Catalog.UnregisterTable(n.Table); err != nil {
		return nil, withOp(err, "AlterTable")
	}
	if oldID != 0 {
		if err := ex.Catalog.RemoveForeignKeysForTable(oldID); err != nil {
			return nil, withOp(err, "AlterTable")
		}
	}
	newID, err := ex.Catalog.RegisterTable(newName, newSchema)
	if err != nil {
		return nil, withOp(err, "AlterTable")
	}
	if err := ex.registerConstraintIndexes(newID, newName, newSchema); err != nil {
		return nil, withOp(err, "AlterTable")
	}

	if err := ex.reattachForeignKeys(n, newName, oldFKs, refFKs); err != nil {
		return nil, withOp(err, "AlterTable")
	}

	return statusRow("success", fmt.Sprintf("table %s altered", n.Table), 0), nil
}

// reattachForeignKeys re-creates the foreign keys that involved the
// rewritten table, renaming a column reference when CHANGE COLUMN
// relabeled it and dropping a child-side constraint whose column no
// longer exists after DROP COLUMN.
func (ex *Executor) reattachForeignKeys(n *AlterTableOp, newName string, childFKs, parentFKs []catalog.ForeignKey) error {
	renamed := func(col string) string {
		if n.Action == ast.AlterChangeColumn && n.Payload.ColumnName == col {
			return n.Payload.NewName
		}
		return col
	}
	for _, fk := range childFKs {
		if n.Action == ast.AlterDropColumn && n.Payload.ColumnName == fk.Column {
			continue
		}
		refTable, ok := ex.Catalog.TableNameByID(fk.RefTableID)
		if !ok {
			continue
		}
		if _, err := ex.Catalog.AddForeignKey(newName, renamed(fk.Column), refTable, fk.RefColumn, fk.ConstraintName); err != nil {
			return err
		}
	}
	for _, fk := range parentFKs {
		childTable, ok := ex.Catalog.TableNameByID(fk.TableID)
		if !ok {
			continue
		}
		if _, err := ex.Catalog.AddForeignKey(childTable, fk.Column, newName, renamed(fk.RefColumn), fk.ConstraintName); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) execShowTables(_ *ShowTablesOp) ([]eval.Row, error) {
	names := ex.Catalog.ListUserTables()
	out := make([]eval.Row, len(names))
	for i, name := range names {
		out[i] = eval.Row{"table_name": eval.Varchar(name)}
	}
	return out, nil
}

func (ex *Executor) execDesc(n *DescOp) ([]eval.Row, error) {
	schema, ok := ex.Catalog.GetSchema(n.Table)
	if !ok {
		return nil, goqlerr.Exec("table %q does not exist", n.Table).WithOp("Desc")
	}
	out := make([]eval.Row, len(schema))
	for i, c := range schema {
		out[i] = eval.Row{
			"column_name": eval.Varchar(c.Name),
			"column_type": eval.Varchar(typeName(c.Kind)),
			"max_length":  eval.Int(int32(c.MaxLength)),
			"primary_key": eval.Bool(c.PrimaryKey),
			"not_null":    eval.Bool(c.NotNull),
			"unique_key":  eval.Bool(c.Unique),
		}
	}
	return out, nil
}
