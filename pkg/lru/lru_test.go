package lru_test

import (
	"testing"

	"github.com/polyhedra-labs/poseidongo/pkg/lru"
)

func collect(l *lru.List) []uint64 {
	var got []uint64

	l.Each(func(pageID uint64) bool {
		got = append(got, pageID)
		return true
	})

	return got
}

func TestPushMRUOrder(t *testing.T) {
	l := lru.New()
	l.PushMRU(1)
	l.PushMRU(2)
	l.PushMRU(3)

	want := []uint64{1, 2, 3}
	got := collect(l)

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMoveToMRU(t *testing.T) {
	l := lru.New()
	h1 := l.PushMRU(1)
	l.PushMRU(2)
	l.PushMRU(3)

	l.MoveToMRU(h1)

	want := []uint64{2, 3, 1}
	got := collect(l)

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRemoveLRU(t *testing.T) {
	l := lru.New()
	l.PushMRU(1)
	l.PushMRU(2)

	pid, ok := l.RemoveLRU()
	if !ok || pid != 1 {
		t.Fatalf("got (%d,%v), want (1,true)", pid, ok)
	}

	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
}

func TestRemoveLRUEmpty(t *testing.T) {
	l := lru.New()

	_, ok := l.RemoveLRU()
	if ok {
		t.Fatalf("expected ok=false on empty list")
	}
}

func TestRemoveHandle(t *testing.T) {
	l := lru.New()
	l.PushMRU(1)
	h2 := l.PushMRU(2)
	l.PushMRU(3)

	l.Remove(h2)

	want := []uint64{1, 3}
	got := collect(l)

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
