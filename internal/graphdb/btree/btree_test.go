package btree

import (
	"testing"

	"github.com/polyhedra-labs/poseidongo/pkg/bufferpool"
	"github.com/polyhedra-labs/poseidongo/pkg/fs"
	"github.com/polyhedra-labs/poseidongo/pkg/pagefile"
)

func newTestPagedIndex(t *testing.T) *Index {
	t.Helper()

	dir := t.TempDir()
	path := dir + "/idx_person$age.db"

	real := fs.NewReal()
	pf, err := pagefile.Create(real, path, pagefile.Options{
		FileType: 7, PageSize: 256, Capacity: 64, PayloadCap: 512,
	})
	if err != nil {
		t.Fatalf("create pagefile: %v", err)
	}

	pool := bufferpool.New(16)
	pool.RegisterFile(1, pf)

	idx, err := OpenPaged(pool, 1, pf)
	if err != nil {
		t.Fatalf("open paged index: %v", err)
	}
	return idx
}

func collect(idx *Index, value uint64) []uint64 {
	var got []uint64
	idx.Lookup(value, func(nodeID uint64) bool {
		got = append(got, nodeID)
		return true
	})
	return got
}

func TestMemoryInsertAndLookup(t *testing.T) {
	idx := OpenMemory()

	if err := idx.Insert(30, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := idx.Insert(30, 2); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := idx.Insert(25, 3); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got := collect(idx, 30)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("lookup(30) = %v, want [1 2]", got)
	}

	if got := collect(idx, 99); len(got) != 0 {
		t.Fatalf("lookup(99) = %v, want empty", got)
	}
}

func TestMemoryEraseRemovesOnlyMatchingPair(t *testing.T) {
	idx := OpenMemory()
	idx.Insert(30, 1)
	idx.Insert(30, 2)

	if err := idx.Erase(30, 1); err != nil {
		t.Fatalf("erase: %v", err)
	}

	got := collect(idx, 30)
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("lookup(30) after erase = %v, want [2]", got)
	}
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", idx.Len())
	}
}

func TestPagedIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/idx_person$age.db"

	real := fs.NewReal()
	pf, err := pagefile.Create(real, path, pagefile.Options{
		FileType: 7, PageSize: 256, Capacity: 64, PayloadCap: 512,
	})
	if err != nil {
		t.Fatalf("create pagefile: %v", err)
	}
	pool := bufferpool.New(16)
	pool.RegisterFile(1, pf)

	idx, err := OpenPaged(pool, 1, pf)
	if err != nil {
		t.Fatalf("open paged index: %v", err)
	}
	idx.Insert(30, 1)
	idx.Insert(30, 2)
	idx.Insert(41, 3)

	if err := pool.FlushAll(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	pf2, err := pagefile.Open(real, path, pagefile.Options{FileType: 7, PageSize: 256})
	if err != nil {
		t.Fatalf("reopen pagefile: %v", err)
	}
	pool2 := bufferpool.New(16)
	pool2.RegisterFile(1, pf2)

	reopened, err := OpenPaged(pool2, 1, pf2)
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}

	if got := collect(reopened, 30); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("lookup(30) after reopen = %v, want [1 2]", got)
	}
	if got := collect(reopened, 41); len(got) != 1 || got[0] != 3 {
		t.Fatalf("lookup(41) after reopen = %v, want [3]", got)
	}
}

func TestPagedIndexErasePersists(t *testing.T) {
	idx := newTestPagedIndex(t)

	idx.Insert(10, 100)
	idx.Insert(10, 200)

	if err := idx.Erase(10, 100); err != nil {
		t.Fatalf("erase: %v", err)
	}

	got := collect(idx, 10)
	if len(got) != 1 || got[0] != 200 {
		t.Fatalf("lookup(10) after erase = %v, want [200]", got)
	}
}
