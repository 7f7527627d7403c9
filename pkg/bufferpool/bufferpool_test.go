package bufferpool_test

import (
	"bytes"
	"testing"

	"github.com/polyhedra-labs/poseidongo/pkg/bufferpool"
	"github.com/polyhedra-labs/poseidongo/pkg/fs"
	"github.com/polyhedra-labs/poseidongo/pkg/pagefile"
)

func newTestFile(t *testing.T, capacity uint64) *pagefile.File {
	t.Helper()
	fsys := fs.NewReal()
	f, err := pagefile.Create(fsys, t.TempDir()+"/t.psdn", pagefile.Options{
		PageSize: 4096,
		Capacity: capacity,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestPinMissThenHit(t *testing.T) {
	pf := newTestFile(t, 8)
	id1, _ := pf.AllocatePage()

	pool := bufferpool.New(4)
	pool.RegisterFile(1, pf)

	if _, err := pool.Pin(1, id1); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if err := pool.Unpin(1, id1, false); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if _, err := pool.Pin(1, id1); err != nil {
		t.Fatalf("Pin (hit): %v", err)
	}
	pool.Unpin(1, id1, false)

	if got := pool.HitRatio(); got != 0.5 {
		t.Fatalf("HitRatio = %v, want 0.5", got)
	}
}

func TestDirtyPageFlushedOnEviction(t *testing.T) {
	pf := newTestFile(t, 8)
	id1, _ := pf.AllocatePage()
	id2, _ := pf.AllocatePage()

	pool := bufferpool.New(1)
	pool.RegisterFile(1, pf)

	buf, err := pool.Pin(1, id1)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	copy(buf, bytes.Repeat([]byte{0x42}, len(buf)))
	if err := pool.Unpin(1, id1, true); err != nil {
		t.Fatalf("Unpin: %v", err)
	}

	// Pinning id2 with maxFrames=1 evicts id1, which must flush first.
	if _, err := pool.Pin(1, id2); err != nil {
		t.Fatalf("Pin id2: %v", err)
	}
	pool.Unpin(1, id2, false)

	readBack := make([]byte, pf.PageSize())
	if err := pf.ReadPage(id1, readBack); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(readBack, buf) {
		t.Fatalf("evicted dirty page was not flushed to disk")
	}
}

func TestPurgeFailsWhilePinned(t *testing.T) {
	pf := newTestFile(t, 4)
	id1, _ := pf.AllocatePage()

	pool := bufferpool.New(4)
	pool.RegisterFile(1, pf)

	if _, err := pool.Pin(1, id1); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	if err := pool.Purge(); err == nil {
		t.Fatalf("expected Purge to fail while a page is pinned")
	}

	pool.Unpin(1, id1, false)
	if err := pool.Purge(); err != nil {
		t.Fatalf("Purge after unpin: %v", err)
	}
}

func TestUnknownFileIsError(t *testing.T) {
	pool := bufferpool.New(4)
	if _, err := pool.Pin(99, 1); err == nil {
		t.Fatalf("expected error pinning an unregistered file id")
	}
}
