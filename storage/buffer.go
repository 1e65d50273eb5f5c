package storage

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Policy selects the buffer pool's replacement strategy.
type Policy int

const (
	PolicyLRU Policy = iota
	PolicyFIFO
)

func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "LRU", "lru":
		return PolicyLRU, true
	case "FIFO", "fifo":
		return PolicyFIFO, true
	}
	return 0, false
}

// pageKey is the buffer pool's cache key: (table_name, page_id).
type pageKey struct {
	table  string
	pageID uint32
}

// EvictionReason classifies why a page left the cache.
type EvictionReason string

const (
	ReasonCapacityFull   EvictionReason = "capacity_full"
	ReasonManualFlush    EvictionReason = "manual_flush"
	ReasonTableEviction  EvictionReason = "table_eviction"
	ReasonShutdown       EvictionReason = "shutdown"
)

// EvictionEvent records one page leaving the cache. The log is capped to a
// ring buffer of the most recent maxEventLog so it stays bounded under a
// long-running process.
type EvictionEvent struct {
	Time    time.Time
	Table   string
	PageID  uint32
	Reason  EvictionReason
	WasDirty bool
}

const maxEventLog = 1024

type entry struct {
	key   pageKey
	page  *Page
	dirty bool
	elem  *list.Element // position in the recency/insertion list
}

// Stats are the observable buffer pool counters used by tests.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// BufferPool is a bounded cache of pages over a FileManager. All operations
// are serialized by mu: a single mutex guards both buffer and file
// operations, with no reader/writer split.
type BufferPool struct {
	mu       sync.Mutex
	fm       *FileManager
	capacity int
	policy   Policy
	log      *zap.SugaredLogger

	entries map[pageKey]*entry
	order   *list.List // front = most-recently-used (LRU) or newest inserted (FIFO)

	stats    Stats
	eventLog []EvictionEvent
}

func NewBufferPool(fm *FileManager, capacity int, policy Policy, log *zap.SugaredLogger) *BufferPool {
	if capacity <= 0 {
		capacity = 64
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &BufferPool{
		fm:       fm,
		capacity: capacity,
		policy:   policy,
		log:      log,
		entries:  map[pageKey]*entry{},
		order:    list.New(),
	}
}

// GetPage returns the page for (table, pageID), reading through the file
// manager on a cache miss.
func (bp *BufferPool) GetPage(table string, pageID uint32) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	key := pageKey{table, pageID}
	if e, ok := bp.entries[key]; ok {
		bp.stats.Hits++
		bp.touch(e)
		return e.page, nil
	}
	bp.stats.Misses++
	page, err := bp.fm.ReadPage(table, pageID)
	if err != nil {
		return nil, err
	}
	bp.insertLocked(key, page, false)
	return page, nil
}

// PutPage installs page into the cache (e.g. after a fresh allocation or a
// mutation), optionally marking it dirty.
func (bp *BufferPool) PutPage(table string, page *Page, dirty bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	key := pageKey{table, page.PageID}
	if e, ok := bp.entries[key]; ok {
		e.page = page
		if dirty {
			e.dirty = true
		}
		bp.touch(e)
		return
	}
	bp.insertLocked(key, page, dirty)
}

func (bp *BufferPool) insertLocked(key pageKey, page *Page, dirty bool) {
	if len(bp.entries) >= bp.capacity {
		bp.evictOneLocked(ReasonCapacityFull)
	}
	elem := bp.order.PushFront(key)
	bp.entries[key] = &entry{key: key, page: page, dirty: dirty, elem: elem}
}

// touch refreshes recency for LRU; FIFO never reorders on access.
func (bp *BufferPool) touch(e *entry) {
	if bp.policy == PolicyLRU {
		bp.order.MoveToFront(e.elem)
	}
}

// evictOneLocked picks a victim per policy and evicts it, flushing first if
// dirty. Caller holds mu.
func (bp *BufferPool) evictOneLocked(reason EvictionReason) {
	if bp.order.Len() == 0 {
		return
	}
	back := bp.order.Back() // least-recently-used (LRU) or oldest (FIFO)
	bp.order.Remove(back)
	key := back.Value.(pageKey)
	e := bp.entries[key]
	delete(bp.entries, key)
	bp.evictEntry(e, reason)
}

func (bp *BufferPool) evictEntry(e *entry, reason EvictionReason) {
	if e.dirty {
		if err := bp.fm.WritePage(e.key.table, e.page); err != nil {
			bp.log.Errorw("flush on eviction failed", "table", e.key.table, "page", e.key.pageID, "error", err)
		}
	}
	bp.stats.Evictions++
	bp.recordEvent(EvictionEvent{Time: time.Now(), Table: e.key.table, PageID: e.key.pageID, Reason: reason, WasDirty: e.dirty})
}

func (bp *BufferPool) recordEvent(ev EvictionEvent) {
	bp.eventLog = append(bp.eventLog, ev)
	if len(bp.eventLog) > maxEventLog {
		bp.eventLog = bp.eventLog[len(bp.eventLog)-maxEventLog:]
	}
}

// FlushDirty writes back every dirty page (optionally restricted to one
// table), returning the count flushed. Flushed pages remain cached and
// clean.
func (bp *BufferPool) FlushDirty(table string) (int, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	count := 0
	for key, e := range bp.entries {
		if table != "" && key.table != table {
			continue
		}
		if !e.dirty {
			continue
		}
		if err := bp.fm.WritePage(key.table, e.page); err != nil {
			return count, err
		}
		e.dirty = false
		count++
	}
	return count, nil
}

// EvictTablePages drops every cached page belonging to table, flushing
// dirty ones first.
func (bp *BufferPool) EvictTablePages(table string) int {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var toRemove []*entry
	for key, e := range bp.entries {
		if key.table == table {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		bp.order.Remove(e.elem)
		delete(bp.entries, e.key)
		bp.evictEntry(e, ReasonTableEviction)
	}
	return len(toRemove)
}

func (bp *BufferPool) Clear() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.entries = map[pageKey]*entry{}
	bp.order = list.New()
}

// Close flushes all dirty pages as part of a clean shutdown.
func (bp *BufferPool) Close() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	dirty := make([]*entry, 0)
	for _, e := range bp.entries {
		if e.dirty {
			dirty = append(dirty, e)
		}
	}

	for _, e := range dirty {
		if err := bp.fm.WritePage(e.key.table, e.page); err != nil {
			return err
		}
		e.dirty = false
	}
	return nil
}

func (bp *BufferPool) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.stats
}

func (bp *BufferPool) DirtyCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	n := 0
	for _, e := range bp.entries {
		if e.dirty {
			n++
		}
	}
	return n
}

func (bp *BufferPool) Len() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.entries)
}

// RecentEvents returns up to n most recent eviction events, newest last.
func (bp *BufferPool) RecentEvents(n int) []EvictionEvent {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if n <= 0 || n > len(bp.eventLog) {
		n = len(bp.eventLog)
	}
	out := make([]EvictionEvent, n)
	copy(out, bp.eventLog[len(bp.eventLog)-n:])
	return out
}
