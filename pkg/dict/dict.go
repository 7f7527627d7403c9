// Package dict implements the string dictionary: a persistent,
// append-only string pool plus an in-memory bidirectional index mapping
// strings to monotonically increasing codes. Code 0 is reserved to mean
// "not found"; real codes start at 1.
//
// Grounded on original_source's src/dict/{dict,string_pool}.cpp for the
// append-only pool and monotonic-code design, re-expressed on top of
// pkg/pagefile/pkg/bufferpool rather than translated line-by-line. The
// on-disk entry framing (length-prefixed bytes, sequential pages, a
// small persisted tail cursor) follows the length-prefix framing
// pkg/slotcache's header uses for its own fixed fields, adapted here to
// a variable-length, append-only stream; entries carry no checksum.
package dict

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/polyhedra-labs/poseidongo/pkg/bufferpool"
	"github.com/polyhedra-labs/poseidongo/pkg/pagefile"
)

// Dict is a string dictionary backed by a registered paged file.
type Dict struct {
	mu sync.RWMutex

	pool *bufferpool.Pool
	fid  bufferpool.FileID
	pf   *pagefile.File

	codeOf   map[string]uint64
	stringOf map[uint64]string
	nextCode uint64

	tailPage uint64
	tailOff  uint32
}

// Open creates or reopens a dictionary atop an already-registered paged
// file, rebuilding the in-memory index by scanning the pool left to
// right when reopening a non-empty file.
func Open(pool *bufferpool.Pool, fid bufferpool.FileID, pf *pagefile.File) (*Dict, error) {
	d := &Dict{
		pool:     pool,
		fid:      fid,
		pf:       pf,
		codeOf:   make(map[string]uint64),
		stringOf: make(map[uint64]string),
		nextCode: 1,
	}

	payload := pf.Payload()
	if len(payload) == 0 {
		return d, nil
	}

	d.tailPage = binary.LittleEndian.Uint64(payload[0:])
	d.tailOff = binary.LittleEndian.Uint32(payload[8:])
	persistedNext := binary.LittleEndian.Uint64(payload[12:])

	if err := d.rebuild(); err != nil {
		return nil, err
	}
	d.nextCode = persistedNext

	return d, nil
}

// rebuild replays every page from 1 through tailPage, assigning codes
// in the exact order strings were originally inserted (append order
// equals scan order since the pool never rewrites or frees an entry).
func (d *Dict) rebuild() error {
	pageSize := int(d.pf.PageSize())

	for pageID := uint64(1); pageID <= d.tailPage; pageID++ {
		used := pageSize
		if pageID == d.tailPage {
			used = int(d.tailOff)
		}

		buf, err := d.pool.Pin(d.fid, pageID)
		if err != nil {
			return fmt.Errorf("dict: rebuild page %d: %w", pageID, err)
		}

		off := 0
		for off < used {
			n := int(binary.LittleEndian.Uint32(buf[off:]))
			s := string(buf[off+4 : off+4+n])
			code := d.nextCode
			d.codeOf[s] = code
			d.stringOf[code] = s
			d.nextCode++
			off += 4 + n
		}

		if err := d.pool.Unpin(d.fid, pageID, false); err != nil {
			return err
		}
	}

	return nil
}

// Insert returns s's code, assigning and persisting a new one if s has
// never been seen before. Insert is idempotent: inserting the same
// string twice returns the same code both times.
func (d *Dict) Insert(s string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if code, ok := d.codeOf[s]; ok {
		return code, nil
	}

	pageSize := int(d.pf.PageSize())
	entryLen := 4 + len(s)
	if entryLen > pageSize {
		return 0, fmt.Errorf("dict: insert %q: %w", s, ErrEntryTooLarge)
	}

	if d.tailPage == 0 || int(d.tailOff)+entryLen > pageSize {
		pageID, err := d.pf.AllocatePage()
		if err != nil {
			return 0, fmt.Errorf("dict: insert: %w", err)
		}
		d.tailPage = pageID
		d.tailOff = 0
	}

	buf, err := d.pool.Pin(d.fid, d.tailPage)
	if err != nil {
		return 0, fmt.Errorf("dict: insert: %w", err)
	}

	binary.LittleEndian.PutUint32(buf[d.tailOff:], uint32(len(s)))
	copy(buf[d.tailOff+4:], s)
	d.tailOff += uint32(entryLen)

	if err := d.pool.Unpin(d.fid, d.tailPage, true); err != nil {
		return 0, err
	}

	code := d.nextCode
	d.nextCode++
	d.codeOf[s] = code
	d.stringOf[code] = s

	if err := d.persistHeader(); err != nil {
		return 0, err
	}

	return code, nil
}

// LookupCode returns the code previously assigned to s, or (0, false)
// if s has never been inserted.
func (d *Dict) LookupCode(s string) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	code, ok := d.codeOf[s]
	return code, ok
}

// LookupString returns the string assigned to code, or ("", false) if
// code was never assigned (code 0 never is).
func (d *Dict) LookupString(code uint64) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.stringOf[code]
	return s, ok
}

// Len reports the number of distinct strings currently in the
// dictionary.
func (d *Dict) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.codeOf)
}

func (d *Dict) persistHeader() error {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint64(buf[0:], d.tailPage)
	binary.LittleEndian.PutUint32(buf[8:], d.tailOff)
	binary.LittleEndian.PutUint64(buf[12:], d.nextCode)
	return d.pf.SetPayload(buf)
}
