package pagefile_test

import (
	"bytes"
	"testing"

	"github.com/polyhedra-labs/poseidongo/pkg/fs"
	"github.com/polyhedra-labs/poseidongo/pkg/pagefile"
)

func TestCreateAllocateReadWrite(t *testing.T) {
	fsys := fs.NewReal()
	dir := t.TempDir()
	path := dir + "/nodes.psdn"

	f, err := pagefile.Create(fsys, path, pagefile.Options{
		FileType: 1,
		PageSize: 4096,
		Capacity: 64,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	id, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if id != 1 {
		t.Fatalf("first allocated page id = %d, want 1", id)
	}

	want := bytes.Repeat([]byte{0xAB}, int(f.PageSize()))
	if err := f.WritePage(id, want); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	got := make([]byte, f.PageSize())
	if err := f.ReadPage(id, got); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("read back mismatch")
	}
}

func TestFreeThenReallocateReusesSlot(t *testing.T) {
	fsys := fs.NewReal()
	path := t.TempDir() + "/t.psdn"

	f, err := pagefile.Create(fsys, path, pagefile.Options{PageSize: 4096, Capacity: 4})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	id1, _ := f.AllocatePage()
	id2, _ := f.AllocatePage()
	if err := f.FreePage(id1); err != nil {
		t.Fatalf("FreePage: %v", err)
	}

	id3, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if id3 != id1 {
		t.Fatalf("reallocated id = %d, want reused id %d", id3, id1)
	}
	if id2 == id3 {
		t.Fatalf("id2 and id3 collide")
	}
}

func TestReadUnallocatedPageIsOutOfRange(t *testing.T) {
	fsys := fs.NewReal()
	path := t.TempDir() + "/t.psdn"

	f, err := pagefile.Create(fsys, path, pagefile.Options{PageSize: 4096, Capacity: 4})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	buf := make([]byte, f.PageSize())
	if err := f.ReadPage(1, buf); err == nil {
		t.Fatalf("expected error reading unallocated page")
	}
}

func TestCapacityExceeded(t *testing.T) {
	fsys := fs.NewReal()
	path := t.TempDir() + "/t.psdn"

	f, err := pagefile.Create(fsys, path, pagefile.Options{PageSize: 4096, Capacity: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if _, err := f.AllocatePage(); err != nil {
		t.Fatalf("AllocatePage 1: %v", err)
	}
	if _, err := f.AllocatePage(); err != nil {
		t.Fatalf("AllocatePage 2: %v", err)
	}
	if _, err := f.AllocatePage(); err == nil {
		t.Fatalf("expected capacity exceeded error")
	}
}

func TestPayloadRoundTripsAcrossReopen(t *testing.T) {
	fsys := fs.NewReal()
	path := t.TempDir() + "/t.psdn"

	f, err := pagefile.Create(fsys, path, pagefile.Options{PageSize: 4096, Capacity: 4})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.SetPayload([]byte("root-page=7")); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var gotPayload []byte
	f2, err := pagefile.Open(fsys, path, pagefile.Options{
		OnOpen: func(payload []byte) error {
			gotPayload = append([]byte(nil), payload...)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f2.Close()

	if string(gotPayload) != "root-page=7" {
		t.Fatalf("payload = %q, want %q", gotPayload, "root-page=7")
	}
	if string(f2.Payload()) != "root-page=7" {
		t.Fatalf("Payload() = %q, want %q", f2.Payload(), "root-page=7")
	}
}

func TestScanVisitsOnlyAllocatedPages(t *testing.T) {
	fsys := fs.NewReal()
	path := t.TempDir() + "/t.psdn"

	f, err := pagefile.Create(fsys, path, pagefile.Options{PageSize: 4096, Capacity: 8})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	a, _ := f.AllocatePage()
	b, _ := f.AllocatePage()
	c, _ := f.AllocatePage()
	if err := f.FreePage(b); err != nil {
		t.Fatalf("FreePage: %v", err)
	}

	var visited []uint64
	f.Scan(func(pageID uint64) bool {
		visited = append(visited, pageID)
		return true
	})

	want := []uint64{a, c}
	if len(visited) != len(want) || visited[0] != want[0] || visited[1] != want[1] {
		t.Fatalf("Scan visited %v, want %v", visited, want)
	}
}

func TestSecondOpenIsLocked(t *testing.T) {
	fsys := fs.NewReal()
	path := t.TempDir() + "/t.psdn"

	f, err := pagefile.Create(fsys, path, pagefile.Options{PageSize: 4096, Capacity: 4})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if _, err := pagefile.Open(fsys, path, pagefile.Options{}); err == nil {
		t.Fatalf("expected second concurrent open to fail with a lock error")
	}
}
