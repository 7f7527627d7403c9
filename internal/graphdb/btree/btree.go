// Package btree implements poseidon's secondary index: a sorted
// (property-value, node-id) map. Entries change only through Insert and
// Erase; graphdb's transaction and commit paths do not call them, so an
// index holds exactly the entries its callers put in it. There
// are two storage backends, an in-memory one and one persisted over a
// chunked record vector, chosen per index at creation and dispatched
// with a Backend tag rather than through an interface — matching the
// engine's general preference (see internal/graphdb/txn.go and graph.go)
// for concrete structs with explicit branches over virtual dispatch
// where there are only ever two, fixed implementations.
package btree

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/polyhedra-labs/poseidongo/pkg/bufferpool"
	"github.com/polyhedra-labs/poseidongo/pkg/chunked"
	"github.com/polyhedra-labs/poseidongo/pkg/pagefile"
)

// Backend selects how an Index persists its entries.
type Backend int

const (
	// BackendMemory keeps entries only in process memory; nothing is
	// persisted, and the index starts empty each time it is opened.
	BackendMemory Backend = iota
	// BackendPaged persists entries in a chunked.Vector so they survive
	// a restart without a table rescan; the in-memory sorted order
	// itself is still rebuilt by scanning the vector once on open,
	// rather than maintaining a true on-disk multi-level B+-tree — a
	// deliberate simplification recorded in DESIGN.md.
	BackendPaged
)

// entry is one (indexed value, node id) pair. value carries the raw
// 64-bit bit pattern of the indexed property, per spec: ints and bools
// fit directly, floats go through math.Float64bits, and strings use
// their dictionary code.
type entry struct {
	Value  uint64
	NodeID uint64
}

const entrySize = 16

type entryCodec struct{}

func (entryCodec) Size() int { return entrySize }

func (entryCodec) Encode(v entry, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], v.Value)
	binary.LittleEndian.PutUint64(buf[8:], v.NodeID)
}

func (entryCodec) Decode(buf []byte) entry {
	return entry{Value: binary.LittleEndian.Uint64(buf[0:]), NodeID: binary.LittleEndian.Uint64(buf[8:])}
}

// Index is a (label, property) secondary index mapping indexed value to
// node id. Lookup and range behavior is always driven off the sorted
// in-memory entries slice; the paged backend additionally persists each
// entry so Open can rebuild that slice without replaying the WAL.
type Index struct {
	mu      sync.RWMutex
	backend Backend

	entries  []entry // sorted by (Value, NodeID), the authoritative lookup structure
	vec      *chunked.Vector[entry]
	offsetOf map[entry]uint64 // paged backend only: entry -> its vector offset, for Erase
}

// OpenMemory returns a fresh, empty in-memory index.
func OpenMemory() *Index {
	return &Index{backend: BackendMemory}
}

// OpenPaged opens (or creates) an index persisted atop an already
// registered paged file, rebuilding its sorted entry list from a full
// scan of the vector's current contents.
func OpenPaged(pool *bufferpool.Pool, fid bufferpool.FileID, pf *pagefile.File) (*Index, error) {
	vec, err := chunked.Open[entry](pool, fid, pf, entryCodec{})
	if err != nil {
		return nil, fmt.Errorf("btree: open paged index: %w", err)
	}

	idx := &Index{
		backend:  BackendPaged,
		vec:      vec,
		offsetOf: make(map[entry]uint64),
	}

	if err := vec.Range(func(offset uint64, e entry) bool {
		idx.entries = append(idx.entries, e)
		idx.offsetOf[e] = offset
		return true
	}); err != nil {
		return nil, fmt.Errorf("btree: rebuild paged index: %w", err)
	}
	idx.sortEntries()

	return idx, nil
}

func (idx *Index) sortEntries() {
	sort.Slice(idx.entries, func(i, j int) bool {
		if idx.entries[i].Value != idx.entries[j].Value {
			return idx.entries[i].Value < idx.entries[j].Value
		}
		return idx.entries[i].NodeID < idx.entries[j].NodeID
	})
}

// Insert adds (value, nodeID) to the index. Inserting the same pair
// twice leaves the index with two identical entries. Insert does not
// remove any entry a node already has under another value.
func (idx *Index) Insert(value, nodeID uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e := entry{Value: value, NodeID: nodeID}

	switch idx.backend {
	case BackendPaged:
		offset, err := idx.vec.Append(e)
		if err != nil {
			return fmt.Errorf("btree: insert: %w", err)
		}
		idx.offsetOf[e] = offset
	case BackendMemory:
		// no persistent side table to maintain
	}

	idx.entries = append(idx.entries, e)
	idx.sortEntries()

	return nil
}

// Erase removes one (value, nodeID) entry. Erasing an entry that isn't
// present is a no-op.
func (idx *Index) Erase(value, nodeID uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e := entry{Value: value, NodeID: nodeID}

	pos := -1
	for i, cand := range idx.entries {
		if cand == e {
			pos = i
			break
		}
	}
	if pos == -1 {
		return nil
	}

	switch idx.backend {
	case BackendPaged:
		if offset, ok := idx.offsetOf[e]; ok {
			if err := idx.vec.Erase(offset); err != nil {
				return fmt.Errorf("btree: erase: %w", err)
			}
			delete(idx.offsetOf, e)
		}
	case BackendMemory:
	}

	idx.entries = append(idx.entries[:pos], idx.entries[pos+1:]...)

	return nil
}

// Lookup visits every node id stored under value, in ascending node-id
// order, until fn returns false.
func (idx *Index) Lookup(value uint64, fn func(nodeID uint64) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	start := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].Value >= value })
	for i := start; i < len(idx.entries) && idx.entries[i].Value == value; i++ {
		if !fn(idx.entries[i].NodeID) {
			return
		}
	}
}

// Len reports the number of entries currently in the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// BackendKind reports which storage backend this index uses.
func (idx *Index) BackendKind() Backend { return idx.backend }
