// Package storage implements the page-based execution substrate: slotted
// pages, a per-table paged file, a bounded buffer pool, a record codec, and
// the storage engine that binds them into table-level row operations.
package storage

import (
	"encoding/binary"

	"github.com/goquel/goquel/goqlerr"
)

const (
	PageSize = 4096

	pageMagic     uint16 = 0x4D53
	pageHeaderLen        = 14
	slotLen              = 5 // offset u16, length u16, tomb u8
)

// SlotID identifies a record within a page. Stable for the page's lifetime:
// inserts never reuse slot ids, delete only flips the tombstone bit.
type SlotID uint16

// Page is a 4 KiB slotted page held entirely in memory. Callers are
// expected to round-trip it through ToBytes/FromBytes at the file-manager
// boundary; Page itself never touches disk.
type Page struct {
	PageID    uint32
	dataStart uint16
	slots     []slotEntry
	buf       [PageSize]byte // record bytes only, written right-to-left
}

type slotEntry struct {
	offset uint16
	length uint16
	tomb   bool
}

// New creates an empty page with the given id.
func New(pageID uint32) *Page {
	return &Page{PageID: pageID, dataStart: PageSize}
}

func (p *Page) SlotCount() int { return len(p.slots) }

// FreeSpace returns the number of bytes available for a new record plus
// its slot entry.
func (p *Page) FreeSpace() int {
	used := pageHeaderLen + slotLen*len(p.slots)
	return int(p.dataStart) - used
}

// Insert appends a new record, returning its slot id, or ErrOutOfSpace
// itself (unwrapped) when the page lacks room.
func (p *Page) Insert(record []byte) (SlotID, error) {
	needed := len(record) + slotLen
	if p.FreeSpace() < needed {
		return 0, ErrOutOfSpace
	}
	newStart := int(p.dataStart) - len(record)
	copy(p.buf[newStart:p.dataStart], record)
	p.dataStart = uint16(newStart)
	p.slots = append(p.slots, slotEntry{offset: uint16(newStart), length: uint16(len(record))})
	return SlotID(len(p.slots) - 1), nil
}

// Read returns the bytes for slot id, or ErrNotFound / ErrDeleted.
func (p *Page) Read(id SlotID) ([]byte, error) {
	if int(id) >= len(p.slots) {
		return nil, ErrNotFound
	}
	s := p.slots[id]
	if s.tomb {
		return nil, ErrDeleted
	}
	return p.buf[s.offset : s.offset+s.length], nil
}

// Delete tombstones slot id. Bytes are not reclaimed (no compaction).
func (p *Page) Delete(id SlotID) error {
	if int(id) >= len(p.slots) {
		return ErrNotFound
	}
	p.slots[id].tomb = true
	return nil
}

func (p *Page) IsDeleted(id SlotID) bool {
	if int(id) >= len(p.slots) {
		return true
	}
	return p.slots[id].tomb
}

// LiveRecord pairs a slot id with its decoded bytes, yielded by LiveRecords
// in ascending slot order.
type LiveRecord struct {
	SlotID SlotID
	Bytes  []byte
}

// LiveRecords returns every non-tombstoned record in ascending slot order.
func (p *Page) LiveRecords() []LiveRecord {
	out := make([]LiveRecord, 0, len(p.slots))
	for i, s := range p.slots {
		if s.tomb {
			continue
		}
		out = append(out, LiveRecord{SlotID: SlotID(i), Bytes: p.buf[s.offset : s.offset+s.length]})
	}
	return out
}

// ToBytes serializes the page to its exact 4096-byte on-disk form.
func (p *Page) ToBytes() []byte {
	out := make([]byte, PageSize)
	binary.LittleEndian.PutUint16(out[0:2], pageMagic)
	binary.LittleEndian.PutUint32(out[2:6], p.PageID)
	binary.LittleEndian.PutUint16(out[6:8], p.dataStart)
	binary.LittleEndian.PutUint16(out[8:10], uint16(len(p.slots)))
	// bytes 10..14 are flags (u32), always zero in this design.
	off := pageHeaderLen
	for _, s := range p.slots {
		binary.LittleEndian.PutUint16(out[off:off+2], s.offset)
		binary.LittleEndian.PutUint16(out[off+2:off+4], s.length)
		if s.tomb {
			out[off+4] = 1
		}
		off += slotLen
	}
	copy(out[p.dataStart:], p.buf[p.dataStart:])
	return out
}

// FromBytes parses a 4096-byte page image, verifying the magic and that
// the stored page id matches expectedID. A mismatch is a corruption error
// that aborts the current operation.
func FromBytes(expectedID uint32, buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, goqlerr.Stor("page buffer must be %d bytes, got %d", PageSize, len(buf))
	}
	magic := binary.LittleEndian.Uint16(buf[0:2])
	if magic != pageMagic {
		return nil, goqlerr.Stor("corrupt page: bad magic 0x%x", magic)
	}
	storedID := binary.LittleEndian.Uint32(buf[2:6])
	if storedID != expectedID {
		return nil, goqlerr.Stor("corrupt page: expected id %d, found %d", expectedID, storedID)
	}
	p := &Page{PageID: expectedID}
	p.dataStart = binary.LittleEndian.Uint16(buf[6:8])
	slotCount := binary.LittleEndian.Uint16(buf[8:10])
	p.slots = make([]slotEntry, slotCount)
	off := pageHeaderLen
	for i := range p.slots {
		o := binary.LittleEndian.Uint16(buf[off : off+2])
		l := binary.LittleEndian.Uint16(buf[off+2 : off+4])
		t := buf[off+4] == 1
		p.slots[i] = slotEntry{offset: o, length: l, tomb: t}
		off += slotLen
	}
	if int(p.dataStart) < pageHeaderLen+slotLen*int(slotCount) {
		return nil, goqlerr.Stor("corrupt page %d: data_start %d below slot directory", expectedID, p.dataStart)
	}
	copy(p.buf[:], buf)
	return p, nil
}
