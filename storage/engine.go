package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/goqlerr"
)

// tableMeta is one entry of the advisory sidecar file. The authoritative
// schema lives in the catalog's system tables; this is purely a startup
// optimization.
type tableMeta struct {
	Name        string   `json:"name"`
	Columns     []Column `json:"columns"`
	RowCount    int      `json:"row_count"`
	CreatedTime int64    `json:"created_time"`
}

const sidecarFileName = "tables_metadata.json"

// Predicate decides whether a row matches, used by DeleteWhere/UpdateWhere.
type Predicate func(eval.Row) (bool, error)

// Transform maps an old row to its replacement, used by UpdateWhere.
type Transform func(eval.Row) (eval.Row, error)

// Engine binds the slotted page, file manager, and buffer pool into
// table-level row operations. It exclusively owns its FileManager and
// BufferPool.
type Engine struct {
	dir string
	fm  *FileManager
	bp  *BufferPool
	log *zap.SugaredLogger

	mu     sync.Mutex
	tables map[string]*tableMeta
}

// Open creates or attaches to a data directory, loading the advisory
// sidecar if present.
func Open(dir string, bufferCapacity int, policy Policy, log *zap.SugaredLogger) (*Engine, error) {
	fm, err := NewFileManager(dir)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &Engine{
		dir:    dir,
		fm:     fm,
		bp:     NewBufferPool(fm, bufferCapacity, policy, log),
		log:    log,
		tables: map[string]*tableMeta{},
	}
	e.loadSidecar()
	return e, nil
}

func (e *Engine) sidecarPath() string { return filepath.Join(e.dir, sidecarFileName) }

func (e *Engine) loadSidecar() {
	buf, err := os.ReadFile(e.sidecarPath())
	if err != nil {
		return
	}
	var metas []*tableMeta
	if err := json.Unmarshal(buf, &metas); err != nil {
		e.log.Warnw("ignoring corrupt metadata sidecar", "error", err)
		return
	}
	for _, m := range metas {
		e.tables[m.Name] = m
	}
}

func (e *Engine) saveSidecar() {
	metas := make([]*tableMeta, 0, len(e.tables))
	for _, m := range e.tables {
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	buf, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(e.sidecarPath(), buf, 0o644); err != nil {
		e.log.Warnw("failed to persist metadata sidecar", "error", err)
	}
}

func (e *Engine) BufferPool() *BufferPool { return e.bp }

// CreateTable fails if the table already exists; it creates the file and
// registers table-level metadata.
func (e *Engine) CreateTable(name string, schema Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[name]; ok {
		return goqlerr.Stor("table %q already exists", name).WithCause(ErrTableExists)
	}
	if err := e.fm.CreateTableFile(name); err != nil {
		return err
	}
	cols := make([]Column, len(schema))
	copy(cols, schema)
	e.tables[name] = &tableMeta{Name: name, Columns: cols, CreatedTime: time.Now().Unix()}
	e.saveSidecar()
	return nil
}

func (e *Engine) DropTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[name]; !ok {
		return goqlerr.Stor("table %q not found", name).WithCause(ErrTableNotFound)
	}
	e.bp.EvictTablePages(name)
	if err := e.fm.DeleteTableFile(name); err != nil {
		return err
	}
	delete(e.tables, name)
	e.saveSidecar()
	return nil
}

// RenameTable evicts oldName's cached pages, renames its file, and moves
// its sidecar entry to newName. Used by AlterTable's rewrite strategy to
// atomically substitute a rewritten table in place.
func (e *Engine) RenameTable(oldName, newName string) error {
	e.mu.Lock()
	m, ok := e.tables[oldName]
	if !ok {
		e.mu.Unlock()
		return goqlerr.Stor("table %q not found", oldName).WithCause(ErrTableNotFound)
	}
	e.mu.Unlock()

	e.bp.EvictTablePages(oldName)
	if err := e.fm.RenameTableFile(oldName, newName); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tables, oldName)
	m.Name = newName
	e.tables[newName] = m
	e.saveSidecar()
	return nil
}

func (e *Engine) schemaFor(name string) (Schema, error) {
	m, ok := e.tables[name]
	if !ok {
		return nil, goqlerr.Stor("table %q not found", name).WithCause(ErrTableNotFound)
	}
	return Schema(m.Columns), nil
}

// InsertRow encodes row and attempts to insert it into each existing data
// page in order; on OutOfSpace everywhere, allocates a new page.
func (e *Engine) InsertRow(table string, row eval.Row) error {
	e.mu.Lock()
	schema, err := e.schemaFor(table)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	record, err := Encode(row, schema)
	if err != nil {
		return goqlerr.Exec("encode row for %q: %v", table, err)
	}

	pageIDs, err := e.fm.EnumerateDataPageIDs(table)
	if err != nil {
		return err
	}
	for _, pid := range pageIDs {
		page, err := e.bp.GetPage(table, pid)
		if err != nil {
			return err
		}
		if _, err := page.Insert(record); err == nil {
			e.bp.PutPage(table, page, true)
			e.bumpRowCount(table, 1)
			return nil
		} else if err != ErrOutOfSpace {
			return goqlerr.Exec("insert into page %d of %q: %v", pid, table, err)
		}
	}

	newID, err := e.fm.AllocateNewPage(table)
	if err != nil {
		return err
	}
	page := New(newID)
	if _, err := page.Insert(record); err != nil {
		return goqlerr.Exec("record too large for an empty page: %v", err)
	}
	e.bp.PutPage(table, page, true)
	e.bumpRowCount(table, 1)
	return nil
}

func (e *Engine) bumpRowCount(table string, delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.tables[table]; ok {
		m.RowCount += delta
		e.saveSidecar()
	}
}

// SeqScan enumerates data pages in ascending id order, yielding live
// records in ascending slot order within each page. For an empty table it
// yields nothing and never touches the buffer.
func (e *Engine) SeqScan(table string) ([]eval.Row, error) {
	e.mu.Lock()
	schema, err := e.schemaFor(table)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	pageIDs, err := e.fm.EnumerateDataPageIDs(table)
	if err != nil {
		return nil, err
	}
	var rows []eval.Row
	for _, pid := range pageIDs {
		page, err := e.bp.GetPage(table, pid)
		if err != nil {
			return nil, err
		}
		for _, rec := range page.LiveRecords() {
			row, err := Decode(rec.Bytes, schema)
			if err != nil {
				return nil, goqlerr.Exec("decode page %d slot %d of %q: %v", pid, rec.SlotID, table, err)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// DeleteWhere tombstones every live row matching pred, marking a page dirty
// iff any of its slots changed. Returns the count deleted.
func (e *Engine) DeleteWhere(table string, pred Predicate) (int, error) {
	e.mu.Lock()
	schema, err := e.schemaFor(table)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	pageIDs, err := e.fm.EnumerateDataPageIDs(table)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, pid := range pageIDs {
		page, err := e.bp.GetPage(table, pid)
		if err != nil {
			return count, err
		}
		changed := false
		for _, rec := range page.LiveRecords() {
			row, err := Decode(rec.Bytes, schema)
			if err != nil {
				return count, goqlerr.Exec("decode page %d slot %d of %q: %v", pid, rec.SlotID, table, err)
			}
			match, err := pred(row)
			if err != nil {
				return count, err
			}
			if match {
				page.Delete(rec.SlotID)
				changed = true
				count++
			}
		}
		if changed {
			e.bp.PutPage(table, page, true)
		}
	}
	if count > 0 {
		e.bumpRowCount(table, -count)
	}
	return count, nil
}

// UpdateWhere tombstones each matching row's old slot and attempts to
// insert the transformed row in the same page, falling back to any other
// page or a fresh allocation. Each row counts once even if it migrates.
func (e *Engine) UpdateWhere(table string, pred Predicate, fn Transform) (int, error) {
	e.mu.Lock()
	schema, err := e.schemaFor(table)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	pageIDs, err := e.fm.EnumerateDataPageIDs(table)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, pid := range pageIDs {
		page, err := e.bp.GetPage(table, pid)
		if err != nil {
			return count, err
		}
		type migration struct{ newRecord, origRecord []byte }
		var toMigrate []migration
		changed := false
		for _, rec := range page.LiveRecords() {
			row, err := Decode(rec.Bytes, schema)
			if err != nil {
				return count, goqlerr.Exec("decode page %d slot %d of %q: %v", pid, rec.SlotID, table, err)
			}
			match, err := pred(row)
			if err != nil {
				return count, err
			}
			if !match {
				continue
			}
			newRow, err := fn(row)
			if err != nil {
				return count, err
			}
			newRecord, err := Encode(newRow, schema)
			if err != nil {
				return count, goqlerr.Exec("encode updated row for %q: %v", table, err)
			}
			origRecord := append([]byte(nil), rec.Bytes...)
			page.Delete(rec.SlotID)
			changed = true
			count++
			if _, err := page.Insert(newRecord); err == nil {
				continue
			} else if err != ErrOutOfSpace {
				return count, goqlerr.Exec("re-insert updated row into %q: %v", table, err)
			}
			toMigrate = append(toMigrate, migration{newRecord: newRecord, origRecord: origRecord})
		}
		if changed {
			e.bp.PutPage(table, page, true)
		}
		for _, m := range toMigrate {
			if err := e.insertUpdatedOrFallback(table, pageIDs, m.newRecord, m.origRecord); err != nil {
				return count, err
			}
		}
	}
	return count, nil
}

// insertRecordAnywhere places an already-encoded record into any existing
// page, or allocates a fresh one. Used by UpdateWhere's migration path.
func (e *Engine) insertRecordAnywhere(table string, pageIDs []uint32, record []byte) error {
	for _, pid := range pageIDs {
		page, err := e.bp.GetPage(table, pid)
		if err != nil {
			return err
		}
		if _, err := page.Insert(record); err == nil {
			e.bp.PutPage(table, page, true)
			return nil
		} else if err != ErrOutOfSpace {
			return goqlerr.Exec("re-insert into page %d of %q: %v", pid, table, err)
		}
	}
	newID, err := e.fm.AllocateNewPage(table)
	if err != nil {
		return err
	}
	page := New(newID)
	if _, err := page.Insert(record); err != nil {
		return goqlerr.Exec("updated record too large for an empty page: %v", err)
	}
	e.bp.PutPage(table, page, true)
	return nil
}

// insertUpdatedOrFallback tries to place the transformed record, and if
// that fails for any reason (page allocation failing on disk exhaustion,
// or a record too large even for an empty page), re-inserts the
// untransformed original into any page with room instead of losing the row
// — the row's old slot was already tombstoned by the caller. This
// preserves per-row atomicity even though the statement as a whole still
// has no cross-row atomicity guarantee.
func (e *Engine) insertUpdatedOrFallback(table string, pageIDs []uint32, newRecord, origRecord []byte) error {
	err := e.insertRecordAnywhere(table, pageIDs, newRecord)
	if err == nil {
		return nil
	}
	if fallbackErr := e.insertRecordAnywhere(table, pageIDs, origRecord); fallbackErr == nil {
		return nil
	}
	return err
}

// RowCount returns the sidecar's cached row count for table (advisory; the
// authoritative count after a flush is sys_tables.row_count via the
// catalog).
func (e *Engine) RowCount(table string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.tables[table]
	if !ok {
		return 0, false
	}
	return m.RowCount, true
}

func (e *Engine) TableExists(table string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tables[table]
	return ok
}

func (e *Engine) Close() error {
	return e.bp.Close()
}
