// Package bufferpool implements an LRU-governed page cache on top of
// pkg/pagefile. Callers register the paged files they want cached, then
// pin/unpin pages by (file id, page id); the pool handles eviction,
// dirty-page flushing, and hit-ratio bookkeeping.
//
// Grounded on the PageBufferPool/PageFrame pair in the tinySQL pager
// example: a single mutex guards both the frame table and the LRU list,
// and only unpinned frames are eviction candidates.
package bufferpool

import (
	"fmt"
	"sync"

	"github.com/polyhedra-labs/poseidongo/pkg/lru"
	"github.com/polyhedra-labs/poseidongo/pkg/pagefile"
)

// FileID identifies one of the paged files registered with a Pool.
// Callers assign these (one per node table, relationship table,
// dictionary pool, B-tree index file, ...).
type FileID uint32

type frameKey struct {
	file FileID
	page uint64
}

type frame struct {
	buf    []byte
	dirty  bool
	pins   int
	slot   uint64
	handle lru.Handle
	listed bool // true while handle is valid (frame sits in the LRU list)
}

// Pool is an LRU page cache shared across any number of registered
// paged files.
//
// lru.List tracks page identity as a bare uint64, one id space per
// list; a (FileID, page id) pair doesn't fit losslessly into that
// without truncating a 64-bit page id. Instead each resident frame is
// given its own monotonically increasing "slot" number, and the pool
// keeps a slot->frameKey side table; the list only ever sees slots.
type Pool struct {
	mu sync.Mutex

	files     map[FileID]*pagefile.File
	frames    map[frameKey]*frame
	bySlot    map[uint64]frameKey
	nextSlot  uint64
	list      *lru.List
	maxFrames int
	hits      uint64
	misses    uint64
}

// New returns a Pool that caches at most maxFrames pages at once.
func New(maxFrames int) *Pool {
	return &Pool{
		files:     make(map[FileID]*pagefile.File),
		frames:    make(map[frameKey]*frame),
		bySlot:    make(map[uint64]frameKey),
		list:      lru.New(),
		maxFrames: maxFrames,
	}
}

// RegisterFile associates id with an open paged file so Pin can address
// its pages. Registering the same id twice replaces the prior
// association without flushing it; callers normally register once per
// process lifetime.
func (p *Pool) RegisterFile(id FileID, f *pagefile.File) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.files[id] = f
}

// Pin loads (or returns the cached copy of) a page and marks it pinned,
// so it cannot be evicted until a matching Unpin. The returned slice is
// the pool's own buffer; callers mutate it in place and report the
// mutation via Unpin(dirty=true).
func (p *Pool) Pin(id FileID, pageID uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.files[id]
	if !ok {
		return nil, fmt.Errorf("bufferpool: pin %d/%d: %w", id, pageID, ErrUnknownFile)
	}

	key := frameKey{file: id, page: pageID}
	if fr, ok := p.frames[key]; ok {
		p.hits++
		if fr.listed {
			p.list.Remove(fr.handle)
			fr.listed = false
		}
		fr.pins++
		return fr.buf, nil
	}

	p.misses++

	if len(p.frames) >= p.maxFrames && p.maxFrames > 0 {
		if err := p.evictOneLocked(); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, f.PageSize())
	if err := f.ReadPage(pageID, buf); err != nil {
		return nil, fmt.Errorf("bufferpool: pin %d/%d: %w", id, pageID, err)
	}

	slot := p.nextSlot
	p.nextSlot++

	fr := &frame{buf: buf, pins: 1, slot: slot}
	p.frames[key] = fr
	p.bySlot[slot] = key
	return fr.buf, nil
}

// Unpin releases one pin on a previously pinned page. dirty reports
// whether the caller modified the page's buffer since pinning it; a
// page is flushed lazily, only when evicted or when FlushPage/FlushAll is
// called, never on Unpin itself.
func (p *Pool) Unpin(id FileID, pageID uint64, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := frameKey{file: id, page: pageID}
	fr, ok := p.frames[key]
	if !ok || fr.pins == 0 {
		return fmt.Errorf("bufferpool: unpin %d/%d: page not pinned", id, pageID)
	}

	fr.dirty = fr.dirty || dirty
	fr.pins--

	if fr.pins == 0 {
		fr.handle = p.list.PushMRU(fr.slot)
		fr.listed = true
	}

	return nil
}

// FlushPage writes a single page's buffer back to its paged file if
// dirty, then clears the dirty flag.
func (p *Pool) FlushPage(id FileID, pageID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.flushLocked(frameKey{file: id, page: pageID})
}

// FlushAll writes back every dirty page currently cached.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, fr := range p.frames {
		if !fr.dirty {
			continue
		}
		if err := p.flushLocked(key); err != nil {
			return err
		}
	}
	return nil
}

// Purge flushes every dirty page and drops all cached frames. It
// returns ErrPinned without purging anything if any frame is still
// pinned.
func (p *Pool) Purge() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, fr := range p.frames {
		if fr.pins > 0 {
			return ErrPinned
		}
	}

	for key, fr := range p.frames {
		if fr.dirty {
			if err := p.flushLocked(key); err != nil {
				return err
			}
		}
	}

	p.frames = make(map[frameKey]*frame)
	p.bySlot = make(map[uint64]frameKey)
	p.list = lru.New()
	return nil
}

// HitRatio reports the fraction of Pin calls satisfied from cache since
// the pool was created.
func (p *Pool) HitRatio() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.hits + p.misses
	if total == 0 {
		return 0
	}
	return float64(p.hits) / float64(total)
}

// flushLocked writes a frame back if dirty. Callers hold p.mu.
func (p *Pool) flushLocked(key frameKey) error {
	fr, ok := p.frames[key]
	if !ok || !fr.dirty {
		return nil
	}

	f, ok := p.files[key.file]
	if !ok {
		return fmt.Errorf("bufferpool: flush %d/%d: %w", key.file, key.page, ErrUnknownFile)
	}

	if err := f.WritePage(key.page, fr.buf); err != nil {
		return fmt.Errorf("bufferpool: flush %d/%d: %w", key.file, key.page, err)
	}
	fr.dirty = false
	return nil
}

// evictOneLocked flushes and drops the least-recently-used unpinned
// frame. Callers hold p.mu.
func (p *Pool) evictOneLocked() error {
	slot, ok := p.list.RemoveLRU()
	if !ok {
		return fmt.Errorf("bufferpool: pool full and every frame is pinned: %w", ErrPinned)
	}

	key := p.bySlot[slot]
	if err := p.flushLocked(key); err != nil {
		return err
	}
	delete(p.frames, key)
	delete(p.bySlot, slot)
	return nil
}
