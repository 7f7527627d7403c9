// Store is the engine's public surface: it wires pagefile + bufferpool
// + the chunked record vectors + the string dictionary + the
// transaction manager + the write-ahead log together, replays the log
// on open, and is the one type cmd/poseidon* tools import.
package graphdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/polyhedra-labs/poseidongo/internal/graphdb/btree"
	"github.com/polyhedra-labs/poseidongo/pkg/bufferpool"
	"github.com/polyhedra-labs/poseidongo/pkg/chunked"
	"github.com/polyhedra-labs/poseidongo/pkg/dict"
	"github.com/polyhedra-labs/poseidongo/pkg/fs"
	"github.com/polyhedra-labs/poseidongo/pkg/pagefile"
)

// File-type tags recorded in each paged file's header, distinguishing
// the on-disk role of otherwise structurally identical files.
const (
	fileTypeNodes        = 1
	fileTypeNodeVersions = 2
	fileTypeRels         = 3
	fileTypeRelVersions  = 4
	fileTypeNodeProps    = 5
	fileTypeRelProps     = 6
	fileTypeDict         = 7
	fileTypeIndex        = 8
)

// Buffer-pool file ids. One Store owns one Pool, shared across every
// table it registers.
const (
	fidNodes bufferpool.FileID = iota + 1
	fidNodeVersions
	fidRels
	fidRelVersions
	fidNodeProps
	fidDict
)

// Options configures a Store's on-disk layout and cache sizing.
type Options struct {
	// Dir is the directory holding nodes.db, node_versions.db, rships.db,
	// rel_versions.db, nprops.db, dict.db, poseidon.wal, and one
	// idx_<label>$<prop>.db per paged index.
	// Created if it does not already exist.
	Dir string

	PageSize      uint32
	TableCapacity uint64 // pages per table file
	PoolFrames    int    // max resident pages per Pool
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = pagefile.DefaultPageSize
	}
	if o.TableCapacity == 0 {
		o.TableCapacity = pagefile.DefaultCapacity
	}
	if o.PoolFrames == 0 {
		o.PoolFrames = 4096
	}
	return o
}

// Store is one open graph database.
type Store struct {
	dir  string
	fsys fs.FS
	pool *bufferpool.Pool

	nodesFile, nodeVersionsFile, relsFile, relVersionsFile, propsFile, dictFile *pagefile.File

	graph   *Graph
	mgr     *Manager
	wal     *WAL
	strDict *dict.Dict

	indexes map[indexKey]*btree.Index

	closed bool
}

type indexKey struct {
	label string
	prop  string
}

// Open creates (if absent) or reopens the graph database under
// opts.Dir, replaying its write-ahead log before returning.
func Open(opts Options) (*Store, error) {
	opts = opts.withDefaults()

	fsys := fs.NewReal()
	if err := fsys.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("graphdb: open store: %w", err)
	}

	s := &Store{
		dir:     opts.Dir,
		fsys:    fsys,
		pool:    bufferpool.New(opts.PoolFrames),
		indexes: make(map[indexKey]*btree.Index),
	}

	tableOpts := pagefile.Options{PageSize: opts.PageSize, Capacity: opts.TableCapacity, PayloadCap: 4096}

	var err error
	s.nodesFile, err = openOrCreate(fsys, filepath.Join(opts.Dir, "nodes.db"), fileTypeNodes, tableOpts)
	if err != nil {
		return nil, err
	}
	s.nodeVersionsFile, err = openOrCreate(fsys, filepath.Join(opts.Dir, "node_versions.db"), fileTypeNodeVersions, tableOpts)
	if err != nil {
		return nil, err
	}
	s.relsFile, err = openOrCreate(fsys, filepath.Join(opts.Dir, "rships.db"), fileTypeRels, tableOpts)
	if err != nil {
		return nil, err
	}
	s.relVersionsFile, err = openOrCreate(fsys, filepath.Join(opts.Dir, "rel_versions.db"), fileTypeRelVersions, tableOpts)
	if err != nil {
		return nil, err
	}
	s.propsFile, err = openOrCreate(fsys, filepath.Join(opts.Dir, "nprops.db"), fileTypeNodeProps, tableOpts)
	if err != nil {
		return nil, err
	}
	s.dictFile, err = openOrCreate(fsys, filepath.Join(opts.Dir, "dict.db"), fileTypeDict, tableOpts)
	if err != nil {
		return nil, err
	}

	s.pool.RegisterFile(fidNodes, s.nodesFile)
	s.pool.RegisterFile(fidNodeVersions, s.nodeVersionsFile)
	s.pool.RegisterFile(fidRels, s.relsFile)
	s.pool.RegisterFile(fidRelVersions, s.relVersionsFile)
	s.pool.RegisterFile(fidNodeProps, s.propsFile)
	s.pool.RegisterFile(fidDict, s.dictFile)

	nodes, err := chunked.Open[NodeRecord](s.pool, fidNodes, s.nodesFile, nodeCodec{})
	if err != nil {
		return nil, fmt.Errorf("graphdb: open store: %w", err)
	}
	nodeVersions, err := chunked.Open[NodeRecord](s.pool, fidNodeVersions, s.nodeVersionsFile, nodeCodec{})
	if err != nil {
		return nil, fmt.Errorf("graphdb: open store: %w", err)
	}
	rels, err := chunked.Open[RelRecord](s.pool, fidRels, s.relsFile, relCodec{})
	if err != nil {
		return nil, fmt.Errorf("graphdb: open store: %w", err)
	}
	relVersions, err := chunked.Open[RelRecord](s.pool, fidRelVersions, s.relVersionsFile, relCodec{})
	if err != nil {
		return nil, fmt.Errorf("graphdb: open store: %w", err)
	}
	props, err := chunked.Open[PropItem](s.pool, fidNodeProps, s.propsFile, propCodec{})
	if err != nil {
		return nil, fmt.Errorf("graphdb: open store: %w", err)
	}

	s.strDict, err = dict.Open(s.pool, fidDict, s.dictFile)
	if err != nil {
		return nil, fmt.Errorf("graphdb: open store: %w", err)
	}

	s.wal, err = OpenWAL(fsys, filepath.Join(opts.Dir, "poseidon.wal"))
	if err != nil {
		return nil, fmt.Errorf("graphdb: open store: %w", err)
	}

	s.graph = newGraph(nil, nodes, nodeVersions, rels, relVersions, props, s.strDict)

	if err := Recover(s.wal, s.graph); err != nil {
		return nil, fmt.Errorf("graphdb: open store: %w", err)
	}

	s.mgr = NewManager(s.wal)
	s.graph.mgr = s.mgr

	return s, nil
}

func openOrCreate(fsys fs.FS, path string, fileType uint32, opts pagefile.Options) (*pagefile.File, error) {
	opts.FileType = fileType

	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("graphdb: stat %s: %w", path, err)
	}
	if exists {
		return pagefile.Open(fsys, path, opts)
	}
	return pagefile.Create(fsys, path, opts)
}

// Begin starts a new transaction.
func (s *Store) Begin() (*Txn, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.mgr.Begin()
}

// Commit commits t.
func (s *Store) Commit(t *Txn) error { return s.mgr.Commit(t) }

// Abort aborts t.
func (s *Store) Abort(t *Txn) error { return s.mgr.Abort(t) }

// Run begins a transaction, invokes body, and commits on success or
// aborts if body returns an error, returning whichever error occurred.
func (s *Store) Run(body func(t *Txn) error) error {
	t, err := s.Begin()
	if err != nil {
		return err
	}

	if err := body(t); err != nil {
		if abortErr := s.Abort(t); abortErr != nil {
			return fmt.Errorf("graphdb: run: %w (during abort: %v)", err, abortErr)
		}
		return err
	}

	return s.Commit(t)
}

// Graph exposes the CRUD/traversal surface described in SPEC_FULL's
// public API table.
func (s *Store) Graph() *Graph { return s.graph }

// Metrics exposes the commit/abort/vacuum counters tracked since Open.
func (s *Store) Metrics() *Metrics { return &s.mgr.Metrics }

// CreateIndex registers a secondary index over (label, prop), backed by
// backend. Creating an index that already exists replaces it.
func (s *Store) CreateIndex(label, prop string, backend btree.Backend) error {
	key := indexKey{label: label, prop: prop}

	if backend == btree.BackendMemory {
		s.indexes[key] = btree.OpenMemory()
		return nil
	}

	path := filepath.Join(s.dir, "idx_"+label+"$"+prop+".db")
	pf, err := openOrCreate(s.fsys, path, fileTypeIndex, pagefile.Options{PageSize: pagefile.DefaultPageSize, PayloadCap: 4096})
	if err != nil {
		return fmt.Errorf("graphdb: create index %s.%s: %w", label, prop, err)
	}

	fid := bufferpool.FileID(1000 + len(s.indexes))
	s.pool.RegisterFile(fid, pf)

	idx, err := btree.OpenPaged(s.pool, fid, pf)
	if err != nil {
		return fmt.Errorf("graphdb: create index %s.%s: %w", label, prop, err)
	}
	s.indexes[key] = idx
	return nil
}

// DropIndex removes a previously created index. Dropping an index that
// doesn't exist is a no-op.
func (s *Store) DropIndex(label, prop string) {
	delete(s.indexes, indexKey{label: label, prop: prop})
}

// HasIndex reports whether (label, prop) has a registered index.
func (s *Store) HasIndex(label, prop string) bool {
	_, ok := s.indexes[indexKey{label: label, prop: prop}]
	return ok
}

// IndexLookup visits every node id stored under value in the named
// index, returning ErrIndexNotFound if no such index is registered.
func (s *Store) IndexLookup(label, prop string, value uint64, fn func(nodeID uint64) bool) error {
	idx, ok := s.indexes[indexKey{label: label, prop: prop}]
	if !ok {
		return fmt.Errorf("graphdb: index lookup %s.%s: %w", label, prop, ErrIndexNotFound)
	}
	idx.Lookup(value, fn)
	return nil
}

// Flush writes back every dirty page across every file this Store
// owns.
func (s *Store) Flush() error {
	if err := s.pool.FlushAll(); err != nil {
		return fmt.Errorf("graphdb: flush: %w", err)
	}
	return s.wal.Sync()
}

// Stats is a snapshot of the aggregate counters print_stats surfaces.
type Stats struct {
	BufferPoolHitRatio float64
	DictionarySize     int
	ActiveTransactions int
	RegisteredIndexes  int
	Commits            uint64
	Aborts             uint64
	Vacuums            uint64
}

// PrintStats returns a snapshot of the engine's current aggregate
// counters.
func (s *Store) PrintStats() Stats {
	return Stats{
		BufferPoolHitRatio: s.pool.HitRatio(),
		DictionarySize:     s.strDict.Len(),
		ActiveTransactions: s.mgr.ActiveCount(),
		RegisteredIndexes:  len(s.indexes),
		Commits:            s.mgr.Metrics.Commits(),
		Aborts:             s.mgr.Metrics.Aborts(),
		Vacuums:            s.mgr.Metrics.Vacuums(),
	}
}

// Vacuum runs one dirty-chain reclamation pass over every live node and
// relationship, erasing versions no active transaction's snapshot can
// still observe.
func (s *Store) Vacuum() (VacuumStats, error) {
	return Vacuum(s)
}

// DumpDot writes a Graphviz representation of every live node and
// relationship, as observed by a fresh read-only transaction, to w.
func (s *Store) DumpDot(w *os.File) error {
	t, err := s.Begin()
	if err != nil {
		return err
	}
	defer s.Abort(t)

	if _, err := fmt.Fprintln(w, "digraph poseidon {"); err != nil {
		return err
	}

	err = s.graph.nodes.Range(func(id uint64, rec NodeRecord) bool {
		if !IsVisible(rec.Meta, t.XID) {
			return true
		}
		label, _ := s.strDict.LookupString(rec.Label)
		fmt.Fprintf(w, "  n%d [label=%q];\n", id, label)
		return true
	})
	if err != nil {
		return err
	}

	err = s.graph.rels.Range(func(id uint64, rec RelRecord) bool {
		if !IsVisible(rec.Meta, t.XID) {
			return true
		}
		label, _ := s.strDict.LookupString(rec.Label)
		fmt.Fprintf(w, "  n%d -> n%d [label=%q];\n", rec.FromNode, rec.ToNode, label)
		return true
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, "}")
	return err
}

// Close flushes every dirty page, closes the write-ahead log, and
// closes every paged file this Store owns. Close is idempotent.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.Flush(); err != nil {
		return err
	}
	if err := s.wal.Close(); err != nil {
		return fmt.Errorf("graphdb: close: %w", err)
	}

	for _, f := range []*pagefile.File{
		s.nodesFile, s.nodeVersionsFile, s.relsFile, s.relVersionsFile, s.propsFile, s.dictFile,
	} {
		if err := f.Close(); err != nil {
			return fmt.Errorf("graphdb: close: %w", err)
		}
	}

	return nil
}
