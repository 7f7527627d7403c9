package chunked_test

import (
	"encoding/binary"
	"testing"

	"github.com/polyhedra-labs/poseidongo/pkg/bufferpool"
	"github.com/polyhedra-labs/poseidongo/pkg/chunked"
	"github.com/polyhedra-labs/poseidongo/pkg/fs"
	"github.com/polyhedra-labs/poseidongo/pkg/pagefile"
)

type pair struct {
	a, b int64
}

type pairCodec struct{}

func (pairCodec) Size() int { return 16 }

func (pairCodec) Encode(v pair, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], uint64(v.a))
	binary.LittleEndian.PutUint64(buf[8:], uint64(v.b))
}

func (pairCodec) Decode(buf []byte) pair {
	return pair{
		a: int64(binary.LittleEndian.Uint64(buf[0:])),
		b: int64(binary.LittleEndian.Uint64(buf[8:])),
	}
}

func newTestVector(t *testing.T, pageSize uint32) (*chunked.Vector[pair], *pagefile.File) {
	t.Helper()
	fsys := fs.NewReal()
	pf, err := pagefile.Create(fsys, t.TempDir()+"/v.psdn", pagefile.Options{
		PageSize: pageSize,
		Capacity: 64,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { pf.Close() })

	pool := bufferpool.New(8)
	pool.RegisterFile(1, pf)

	v, err := chunked.Open[pair](pool, 1, pf, pairCodec{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return v, pf
}

func TestAppendAndAt(t *testing.T) {
	v, _ := newTestVector(t, 256)

	off, err := v.Append(pair{a: 1, b: 2})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, ok, err := v.At(off)
	if err != nil || !ok {
		t.Fatalf("At: got=%v ok=%v err=%v", got, ok, err)
	}
	if got != (pair{a: 1, b: 2}) {
		t.Fatalf("At = %v, want {1 2}", got)
	}
}

func TestEraseFreesSlotForReuse(t *testing.T) {
	v, _ := newTestVector(t, 256)

	off, _ := v.Append(pair{a: 1, b: 1})
	if err := v.Erase(off); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	if _, ok, _ := v.At(off); ok {
		t.Fatalf("erased slot still reports occupied")
	}

	off2, err := v.Append(pair{a: 2, b: 2})
	if err != nil {
		t.Fatalf("Append after erase: %v", err)
	}
	if off2 != off {
		t.Fatalf("expected erased slot %d to be reused, got %d", off, off2)
	}
}

func TestAppendAcrossMultipleChunks(t *testing.T) {
	// Small page forces few slots per chunk, so appending enough
	// records spills into a second chunk.
	v, _ := newTestVector(t, 64)

	var offsets []uint64
	for i := 0; i < 20; i++ {
		off, err := v.Append(pair{a: int64(i), b: int64(i * 2)})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		offsets = append(offsets, off)
	}

	for i, off := range offsets {
		got, ok, err := v.At(off)
		if err != nil || !ok {
			t.Fatalf("At(%d): got=%v ok=%v err=%v", off, got, ok, err)
		}
		want := pair{a: int64(i), b: int64(i * 2)}
		if got != want {
			t.Fatalf("At(%d) = %v, want %v", off, got, want)
		}
	}
}

func TestStoreAtGrowsChunksAsNeeded(t *testing.T) {
	v, _ := newTestVector(t, 64)

	if err := v.StoreAt(50, pair{a: 9, b: 9}); err != nil {
		t.Fatalf("StoreAt: %v", err)
	}

	got, ok, err := v.At(50)
	if err != nil || !ok || got != (pair{a: 9, b: 9}) {
		t.Fatalf("At(50) = %v, ok=%v, err=%v", got, ok, err)
	}
}

func TestChunkTableSurvivesReopen(t *testing.T) {
	fsys := fs.NewReal()
	path := t.TempDir() + "/v.psdn"

	pf, err := pagefile.Create(fsys, path, pagefile.Options{PageSize: 256, Capacity: 64})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	pool := bufferpool.New(8)
	pool.RegisterFile(1, pf)
	v, err := chunked.Open[pair](pool, 1, pf, pairCodec{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	off, _ := v.Append(pair{a: 7, b: 8})
	if err := pool.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pf2, err := pagefile.Open(fsys, path, pagefile.Options{})
	if err != nil {
		t.Fatalf("Open reopen: %v", err)
	}
	defer pf2.Close()
	pool2 := bufferpool.New(8)
	pool2.RegisterFile(1, pf2)
	v2, err := chunked.Open[pair](pool2, 1, pf2, pairCodec{})
	if err != nil {
		t.Fatalf("Open reopened vector: %v", err)
	}

	got, ok, err := v2.At(off)
	if err != nil || !ok || got != (pair{a: 7, b: 8}) {
		t.Fatalf("At(%d) after reopen = %v, ok=%v, err=%v", off, got, ok, err)
	}
}
