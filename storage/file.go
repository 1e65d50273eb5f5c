package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goquel/goquel/goqlerr"
)

const (
	fileMagic   uint32 = 0x4D54424C // "MTBL", little-endian word
	fileVersion uint32 = 1
	tableNameLen        = 64
	headerPageSize      = PageSize
)

// FileManager owns one *.tbl file per table under a data directory.
// Writes are positional (pwrite-equivalent) at page_id*PageSize, flushed to
// OS buffers immediately; durability beyond that is not required.
type FileManager struct {
	dir string
	mu  sync.Mutex
	fds map[string]*os.File
}

func NewFileManager(dir string) (*FileManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goqlerr.Stor("create data directory %q: %v", dir, err)
	}
	return &FileManager{dir: dir, fds: map[string]*os.File{}}, nil
}

func (fm *FileManager) path(table string) string {
	return filepath.Join(fm.dir, table+".tbl")
}

func (fm *FileManager) Exists(table string) bool {
	_, err := os.Stat(fm.path(table))
	return err == nil
}

func (fm *FileManager) CreateTableFile(table string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	p := fm.path(table)
	if _, err := os.Stat(p); err == nil {
		return goqlerr.Stor("table file for %q already exists", table).WithCause(ErrTableExists)
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return goqlerr.Stor("create table file %q: %v", table, err)
	}
	header := encodeFileHeader(table, 1, 1)
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return goqlerr.Stor("write header for %q: %v", table, err)
	}
	fm.fds[table] = f
	return nil
}

func (fm *FileManager) DeleteTableFile(table string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if f, ok := fm.fds[table]; ok {
		f.Close()
		delete(fm.fds, table)
	}
	if err := os.Remove(fm.path(table)); err != nil {
		return goqlerr.Stor("delete table file %q: %v", table, err)
	}
	return nil
}

// RenameTableFile moves a table's file to a new name and rewrites its
// header's embedded table_name, used by AlterTable's rewrite strategy.
// The caller must have evicted any cached pages for oldName first.
func (fm *FileManager) RenameTableFile(oldName, newName string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if f, ok := fm.fds[oldName]; ok {
		f.Close()
		delete(fm.fds, oldName)
	}
	if err := os.Rename(fm.path(oldName), fm.path(newName)); err != nil {
		return goqlerr.Stor("rename table file %q to %q: %v", oldName, newName, err)
	}
	f, err := os.OpenFile(fm.path(newName), os.O_RDWR, 0o644)
	if err != nil {
		return goqlerr.Stor("reopen renamed table file %q: %v", newName, err)
	}
	buf := make([]byte, headerPageSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return goqlerr.Stor("read header for renamed table %q: %v", newName, err)
	}
	h, err := decodeFileHeader(buf)
	if err != nil {
		f.Close()
		return goqlerr.Stor("%v", err)
	}
	newHeader := encodeFileHeader(newName, h.PageCount, h.NextPageID)
	if _, err := f.WriteAt(newHeader, 0); err != nil {
		f.Close()
		return goqlerr.Stor("rewrite header for renamed table %q: %v", newName, err)
	}
	fm.fds[newName] = f
	return nil
}

func (fm *FileManager) open(table string) (*os.File, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if f, ok := fm.fds[table]; ok {
		return f, nil
	}
	if _, err := os.Stat(fm.path(table)); err != nil {
		return nil, goqlerr.Stor("table file for %q not found", table).WithCause(ErrTableNotFound)
	}
	f, err := os.OpenFile(fm.path(table), os.O_RDWR, 0o644)
	if err != nil {
		return nil, goqlerr.Stor("open table file %q: %v", table, err)
	}
	fm.fds[table] = f
	return f, nil
}

// FileHeader is the parsed form of page 0.
type FileHeader struct {
	TableName  string
	PageCount  uint32 // includes the header page
	NextPageID uint32
}

func encodeFileHeader(table string, pageCount, nextPageID uint32) []byte {
	buf := make([]byte, headerPageSize)
	binary.LittleEndian.PutUint32(buf[0:4], fileMagic)
	binary.LittleEndian.PutUint32(buf[4:8], fileVersion)
	nameBytes := []byte(table)
	if len(nameBytes) > tableNameLen {
		nameBytes = nameBytes[:tableNameLen]
	}
	copy(buf[8:8+tableNameLen], nameBytes)
	binary.LittleEndian.PutUint32(buf[8+tableNameLen:12+tableNameLen], pageCount)
	binary.LittleEndian.PutUint32(buf[12+tableNameLen:16+tableNameLen], nextPageID)
	return buf
}

func decodeFileHeader(buf []byte) (*FileHeader, error) {
	if len(buf) != headerPageSize {
		return nil, fmt.Errorf("file header must be %d bytes", headerPageSize)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != fileMagic {
		return nil, fmt.Errorf("corrupt table file: bad magic 0x%x", magic)
	}
	nameEnd := 8
	for nameEnd < 8+tableNameLen && buf[nameEnd] != 0 {
		nameEnd++
	}
	name := string(buf[8:nameEnd])
	pageCount := binary.LittleEndian.Uint32(buf[8+tableNameLen : 12+tableNameLen])
	nextPageID := binary.LittleEndian.Uint32(buf[12+tableNameLen : 16+tableNameLen])
	return &FileHeader{TableName: name, PageCount: pageCount, NextPageID: nextPageID}, nil
}

func (fm *FileManager) ReadHeader(table string) (*FileHeader, error) {
	f, err := fm.open(table)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, headerPageSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, goqlerr.Stor("read header for %q: %v", table, err)
	}
	h, err := decodeFileHeader(buf)
	if err != nil {
		return nil, goqlerr.Stor("%v", err)
	}
	return h, nil
}

// ReadPage reads data page pageID. Page 0 is never exposed as a data page.
func (fm *FileManager) ReadPage(table string, pageID uint32) (*Page, error) {
	if pageID == 0 {
		return nil, goqlerr.Stor("page 0 is the file header, not a data page")
	}
	f, err := fm.open(table)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, PageSize)
	if _, err := f.ReadAt(buf, int64(pageID)*PageSize); err != nil {
		return nil, goqlerr.Stor("read page %d of %q: %v", pageID, table, err)
	}
	return FromBytes(pageID, buf)
}

func (fm *FileManager) WritePage(table string, page *Page) error {
	if page.PageID == 0 {
		return goqlerr.Stor("page 0 is the file header, not a data page")
	}
	f, err := fm.open(table)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(page.ToBytes(), int64(page.PageID)*PageSize); err != nil {
		return goqlerr.Stor("write page %d of %q: %v", page.PageID, table, err)
	}
	return nil
}

// AllocateNewPage grows the file by one page and returns its id. The header
// rewrite is a single 4 KiB write, updating the file atomically with
// respect to this process before yielding the new page id.
func (fm *FileManager) AllocateNewPage(table string) (uint32, error) {
	f, err := fm.open(table)
	if err != nil {
		return 0, err
	}
	header, err := fm.ReadHeader(table)
	if err != nil {
		return 0, err
	}
	newID := header.NextPageID
	blank := New(newID).ToBytes()
	if _, err := f.WriteAt(blank, int64(newID)*PageSize); err != nil {
		return 0, goqlerr.Stor("allocate page %d of %q: %v", newID, table, err)
	}
	newHeader := encodeFileHeader(header.TableName, header.PageCount+1, newID+1)
	if _, err := f.WriteAt(newHeader, 0); err != nil {
		return 0, goqlerr.Stor("update header for %q: %v", table, err)
	}
	return newID, nil
}

// EnumerateDataPageIDs lists data page ids (1..page_count-1) in ascending
// order.
func (fm *FileManager) EnumerateDataPageIDs(table string) ([]uint32, error) {
	header, err := fm.ReadHeader(table)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, header.PageCount-1)
	for id := uint32(1); id < header.PageCount; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

func (fm *FileManager) Close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	var firstErr error
	for name, f := range fm.fds {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(fm.fds, name)
	}
	return firstErr
}
