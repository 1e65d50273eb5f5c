// Package catalog owns the four system tables that describe database
// metadata, persisted through the same storage engine user tables use,
// plus the in-memory caches and constraint registry built
// from them.
package catalog

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/goqlerr"
	"github.com/goquel/goquel/storage"
)

const (
	SysTables      = "sys_tables"
	SysColumns     = "sys_columns"
	SysIndexes     = "sys_indexes"
	SysForeignKeys = "sys_foreign_keys"
)

// ColumnDef is the catalog's column representation: storage.Column plus the
// constraint bits the compiler pipeline needs (NOT NULL/UNIQUE/PRIMARY KEY
// imply structural checks the storage codec itself does not perform).
type ColumnDef struct {
	storage.Column
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	HasDefault bool
	Default    eval.Value
}

// Schema is the ordered column list of a table as seen by the compiler.
type Schema []ColumnDef

func (s Schema) IndexOf(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) StorageSchema() storage.Schema {
	out := make(storage.Schema, len(s))
	for i, c := range s {
		out[i] = c.Column
	}
	return out
}

// ForeignKey mirrors sys_foreign_keys.
type ForeignKey struct {
	ID             int
	TableID        int
	Column         string
	RefTableID     int
	RefColumn      string
	ConstraintName string
}

// tableEntry is the catalog's in-memory cache for one table.
type tableEntry struct {
	id     int
	name   string
	schema Schema
}

// Catalog is owned by the top-level engine and passed by reference to the
// compiler and executor, never a process-wide singleton.
type Catalog struct {
	engine *storage.Engine
	log    *zap.SugaredLogger

	mu         sync.Mutex
	tables     map[string]*tableEntry // by name
	tablesByID map[int]*tableEntry
	nextID     int

	fks      []ForeignKey
	nextFKID int

	nextIdxID int

	constraints *ConstraintRegistry
}

// Open attaches a Catalog to engine, creating the system tables on first
// open of a data directory and rebuilding in-memory caches by scanning each
// system table exactly once.
func Open(engine *storage.Engine, log *zap.SugaredLogger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Catalog{
		engine:     engine,
		log:        log,
		tables:     map[string]*tableEntry{},
		tablesByID: map[int]*tableEntry{},
		nextID:     1,
		nextFKID:   1,
		nextIdxID:  1,
	}
	c.constraints = NewConstraintRegistry(engine)

	if err := c.ensureSystemTables(); err != nil {
		return nil, err
	}
	if err := c.rebuildCaches(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) ensureSystemTables() error {
	if !c.engine.TableExists(SysTables) {
		c.log.Infow("creating system table", "table", SysTables)
		if err := c.engine.CreateTable(SysTables, storage.Schema{
			{Name: "table_id", Kind: storage.ColInt},
			{Name: "table_name", Kind: storage.ColVarchar, MaxLength: 64},
			{Name: "created_time", Kind: storage.ColInt},
			{Name: "row_count", Kind: storage.ColInt},
		}); err != nil {
			return err
		}
	}
	if !c.engine.TableExists(SysColumns) {
		c.log.Infow("creating system table", "table", SysColumns)
		if err := c.engine.CreateTable(SysColumns, storage.Schema{
			{Name: "table_id", Kind: storage.ColInt},
			{Name: "column_name", Kind: storage.ColVarchar, MaxLength: 64},
			{Name: "column_type", Kind: storage.ColVarchar, MaxLength: 20},
			{Name: "max_length", Kind: storage.ColInt},
			{Name: "ordinal_position", Kind: storage.ColInt},
		}); err != nil {
			return err
		}
	}
	if !c.engine.TableExists(SysIndexes) {
		c.log.Infow("creating system table", "table", SysIndexes)
		if err := c.engine.CreateTable(SysIndexes, storage.Schema{
			{Name: "index_id", Kind: storage.ColInt},
			{Name: "table_id", Kind: storage.ColInt},
			{Name: "index_name", Kind: storage.ColVarchar, MaxLength: 64},
			{Name: "column_name", Kind: storage.ColVarchar, MaxLength: 64},
			{Name: "index_type", Kind: storage.ColVarchar, MaxLength: 20},
		}); err != nil {
			return err
		}
	}
	if !c.engine.TableExists(SysForeignKeys) {
		c.log.Infow("creating system table", "table", SysForeignKeys)
		if err := c.engine.CreateTable(SysForeignKeys, storage.Schema{
			{Name: "fk_id", Kind: storage.ColInt},
			{Name: "table_id", Kind: storage.ColInt},
			{Name: "column_name", Kind: storage.ColVarchar, MaxLength: 64},
			{Name: "ref_table_id", Kind: storage.ColInt},
			{Name: "ref_column_name", Kind: storage.ColVarchar, MaxLength: 64},
			{Name: "constraint_name", Kind: storage.ColVarchar, MaxLength: 128},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) rebuildCaches() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tableRows, err := c.engine.SeqScan(SysTables)
	if err != nil {
		return err
	}
	for _, row := range tableRows {
		id := int(row["table_id"].Int)
		name := row["table_name"].Str
		te := &tableEntry{id: id, name: name}
		c.tables[name] = te
		c.tablesByID[id] = te
		if id >= c.nextID {
			c.nextID = id + 1
		}
	}

	colRows, err := c.engine.SeqScan(SysColumns)
	if err != nil {
		return err
	}
	byTable := map[int][]eval.Row{}
	for _, row := range colRows {
		id := int(row["table_id"].Int)
		byTable[id] = append(byTable[id], row)
	}
	for id, rows := range byTable {
		sort.Slice(rows, func(i, j int) bool {
			return rows[i]["ordinal_position"].Int < rows[j]["ordinal_position"].Int
		})
		te, ok := c.tablesByID[id]
		if !ok {
			continue
		}
		schema := make(Schema, len(rows))
		for i, r := range rows {
			kind := storage.ColInt
			if r["column_type"].Str == "VARCHAR" {
				kind = storage.ColVarchar
			}
			schema[i] = ColumnDef{Column: storage.Column{
				Name:      r["column_name"].Str,
				Kind:      kind,
				MaxLength: int(r["max_length"].Int),
			}}
		}
		te.schema = schema
	}

	idxRows, err := c.engine.SeqScan(SysIndexes)
	if err != nil {
		return err
	}
	for _, row := range idxRows {
		if id := int(row["index_id"].Int); id >= c.nextIdxID {
			c.nextIdxID = id + 1
		}
	}

	fkRows, err := c.engine.SeqScan(SysForeignKeys)
	if err != nil {
		return err
	}
	for _, row := range fkRows {
		fk := ForeignKey{
			ID:             int(row["fk_id"].Int),
			TableID:        int(row["table_id"].Int),
			Column:         row["column_name"].Str,
			RefTableID:     int(row["ref_table_id"].Int),
			RefColumn:      row["ref_column_name"].Str,
			ConstraintName: row["constraint_name"].Str,
		}
		c.fks = append(c.fks, fk)
		if fk.ID >= c.nextFKID {
			c.nextFKID = fk.ID + 1
		}
	}

	return nil
}

// RegisterTable assigns a table_id, persists it plus its columns into the
// system tables, and updates the in-memory caches.
func (c *Catalog) RegisterTable(name string, schema Schema) (int, error) {
	c.mu.Lock()
	if _, ok := c.tables[name]; ok {
		c.mu.Unlock()
		return 0, goqlerr.Exec("table %q is already registered", name)
	}
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	if err := c.engine.InsertRow(SysTables, eval.Row{
		"table_id":     eval.Int(int32(id)),
		"table_name":   eval.Varchar(name),
		"created_time": eval.Int(0),
		"row_count":    eval.Int(0),
	}); err != nil {
		return 0, err
	}
	for i, col := range schema {
		typeName := "INT"
		if col.Kind == storage.ColVarchar {
			typeName = "VARCHAR"
		}
		if err := c.engine.InsertRow(SysColumns, eval.Row{
			"table_id":         eval.Int(int32(id)),
			"column_name":      eval.Varchar(col.Name),
			"column_type":      eval.Varchar(typeName),
			"max_length":       eval.Int(int32(col.MaxLength)),
			"ordinal_position": eval.Int(int32(i)),
		}); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	te := &tableEntry{id: id, name: name, schema: schema}
	c.tables[name] = te
	c.tablesByID[id] = te
	c.mu.Unlock()
	return id, nil
}

// UnregisterTable removes name and its columns from the catalog's caches
// and system tables.
func (c *Catalog) UnregisterTable(name string) error {
	c.mu.Lock()
	te, ok := c.tables[name]
	if !ok {
		c.mu.Unlock()
		return goqlerr.Exec("table %q not registered", name)
	}
	delete(c.tables, name)
	delete(c.tablesByID, te.id)
	c.mu.Unlock()

	id := te.id
	if _, err := c.engine.DeleteWhere(SysTables, func(r eval.Row) (bool, error) {
		return int(r["table_id"].Int) == id, nil
	}); err != nil {
		return err
	}
	if _, err := c.engine.DeleteWhere(SysColumns, func(r eval.Row) (bool, error) {
		return int(r["table_id"].Int) == id, nil
	}); err != nil {
		return err
	}
	if _, err := c.engine.DeleteWhere(SysIndexes, func(r eval.Row) (bool, error) {
		return int(r["table_id"].Int) == id, nil
	}); err != nil {
		return err
	}
	return nil
}

func (c *Catalog) GetSchema(name string) (Schema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.tables[name]
	if !ok {
		return nil, false
	}
	return te.schema, true
}

func (c *Catalog) TableID(name string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.tables[name]
	if !ok {
		return 0, false
	}
	return te.id, true
}

func (c *Catalog) TableExists(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tables[name]
	return ok
}

func isSystemTable(name string) bool {
	switch name {
	case SysTables, SysColumns, SysIndexes, SysForeignKeys:
		return true
	}
	return false
}

// ListUserTables excludes system tables, sorted by name for stable Show
// Tables output.
func (c *Catalog) ListUserTables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for name := range c.tables {
		if isSystemTable(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) ColumnExists(table, column string) bool {
	schema, ok := c.GetSchema(table)
	if !ok {
		return false
	}
	return schema.IndexOf(column) >= 0
}

func (c *Catalog) ColumnType(table, column string) (storage.ColumnKind, bool) {
	schema, ok := c.GetSchema(table)
	if !ok {
		return 0, false
	}
	idx := schema.IndexOf(column)
	if idx < 0 {
		return 0, false
	}
	return schema[idx].Kind, true
}

// RegisterIndex assigns an index_id and inserts a row into sys_indexes.
// Registration only: no runtime index access path exists, but PRIMARY KEY
// and UNIQUE declarations are recorded here by CreateTable so the system
// table reflects the schema's declared indexes.
func (c *Catalog) RegisterIndex(tableID int, indexName, column, indexType string) (int, error) {
	c.mu.Lock()
	id := c.nextIdxID
	c.nextIdxID++
	c.mu.Unlock()
	if err := c.engine.InsertRow(SysIndexes, eval.Row{
		"index_id":    eval.Int(int32(id)),
		"table_id":    eval.Int(int32(tableID)),
		"index_name":  eval.Varchar(indexName),
		"column_name": eval.Varchar(column),
		"index_type":  eval.Varchar(indexType),
	}); err != nil {
		return 0, err
	}
	return id, nil
}

// AddForeignKey validates that the child column exists in the child table
// and the referenced column exists in the parent table, then persists the
// constraint.
func (c *Catalog) AddForeignKey(childTable, childCol, refTable, refCol, name string) (int, error) {
	childID, ok := c.TableID(childTable)
	if !ok {
		return 0, goqlerr.Exec("foreign key: child table %q not found", childTable)
	}
	refID, ok := c.TableID(refTable)
	if !ok {
		return 0, goqlerr.Exec("foreign key: referenced table %q not found", refTable)
	}
	if !c.ColumnExists(childTable, childCol) {
		return 0, goqlerr.Exec("foreign key: column %q not found on %q", childCol, childTable)
	}
	if !c.ColumnExists(refTable, refCol) {
		return 0, goqlerr.Exec("foreign key: referenced column %q not found on %q", refCol, refTable)
	}

	c.mu.Lock()
	id := c.nextFKID
	c.nextFKID++
	c.mu.Unlock()

	if err := c.engine.InsertRow(SysForeignKeys, eval.Row{
		"fk_id":           eval.Int(int32(id)),
		"table_id":        eval.Int(int32(childID)),
		"column_name":     eval.Varchar(childCol),
		"ref_table_id":    eval.Int(int32(refID)),
		"ref_column_name": eval.Varchar(refCol),
		"constraint_name": eval.Varchar(name),
	}); err != nil {
		return 0, err
	}

	fk := ForeignKey{ID: id, TableID: childID, Column: childCol, RefTableID: refID, RefColumn: refCol, ConstraintName: name}
	c.mu.Lock()
	c.fks = append(c.fks, fk)
	c.mu.Unlock()
	return id, nil
}

func (c *Catalog) ForeignKeysOf(table string) []ForeignKey {
	id, ok := c.TableID(table)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ForeignKey
	for _, fk := range c.fks {
		if fk.TableID == id {
			out = append(out, fk)
		}
	}
	return out
}

func (c *Catalog) ForeignKeysReferencing(table string) []ForeignKey {
	id, ok := c.TableID(table)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ForeignKey
	for _, fk := range c.fks {
		if fk.RefTableID == id {
			out = append(out, fk)
		}
	}
	return out
}

func (c *Catalog) TableNameByID(id int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	te, ok := c.tablesByID[id]
	if !ok {
		return "", false
	}
	return te.name, true
}

// UpdateRowCount adjusts sys_tables.row_count by delta for the named table.
func (c *Catalog) UpdateRowCount(name string, delta int) error {
	_, err := c.engine.UpdateWhere(SysTables,
		func(r eval.Row) (bool, error) { return r["table_name"].Str == name, nil },
		func(r eval.Row) (eval.Row, error) {
			out := r.Clone()
			out["row_count"] = eval.Int(r["row_count"].Int + int32(delta))
			return out, nil
		})
	return err
}

// Constraints exposes the FK/uniqueness validator used by DML operators.
func (c *Catalog) Constraints() *ConstraintRegistry { return c.constraints }

// RemoveForeignKeysForTable deletes every foreign key naming tableID as
// either the child or the referenced table, from both the system table and
// the in-memory cache. Used by AlterTable's rewrite strategy, which drops
// and recreates a table under a (possibly) new id and must not leave
// foreign keys pointing at the id that no longer exists.
func (c *Catalog) RemoveForeignKeysForTable(tableID int) error {
	if _, err := c.engine.DeleteWhere(SysForeignKeys, func(r eval.Row) (bool, error) {
		return int(r["table_id"].Int) == tableID || int(r["ref_table_id"].Int) == tableID, nil
	}); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.fks[:0]
	for _, fk := range c.fks {
		if fk.TableID == tableID || fk.RefTableID == tableID {
			continue
		}
		kept = append(kept, fk)
	}
	c.fks = kept
	return nil
}

// RefreshSchema replaces a registered table's cached column set with
// schema. Only the in-memory cache changes; sys_columns is not written.
func (c *Catalog) RefreshSchema(name string, schema Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if te, ok := c.tables[name]; ok {
		te.schema = schema
	}
}
