package graphdb

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, PoolFrames: 64})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGetNode(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	id, err := g.AddNode(tx, "Person", []Property{
		{Key: "name", Kind: PropString, Str: "Ada"},
		{Key: "age", Kind: PropInt, Int: 36},
	})
	if err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := s.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rtx, err := s.Begin()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer s.Commit(rtx)

	rec, props, err := g.GetNode(rtx, id)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}

	want := []Property{
		{Key: "name", Kind: PropString, Str: "Ada"},
		{Key: "age", Kind: PropInt, Int: 36},
	}
	if diff := cmp.Diff(want, props); diff != "" {
		t.Fatalf("properties mismatch (-want +got):\n%s", diff)
	}

	label, ok := s.strDict.LookupString(rec.Label)
	if !ok {
		t.Fatalf("lookup label: code %d not found", rec.Label)
	}
	if label != "Person" {
		t.Fatalf("label = %q, want Person", label)
	}
}

func TestUpdateNodeChainsPriorVersion(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, _ := s.Begin()
	id, err := g.AddNode(tx, "Person", []Property{{Key: "age", Kind: PropInt, Int: 1}})
	if err != nil {
		t.Fatalf("add node: %v", err)
	}
	s.Commit(tx)

	tx2, _ := s.Begin()
	if err := g.UpdateNode(tx2, id, []Property{{Key: "age", Kind: PropInt, Int: 2}}); err != nil {
		t.Fatalf("update node: %v", err)
	}
	s.Commit(tx2)

	rtx, _ := s.Begin()
	defer s.Commit(rtx)
	_, props, err := g.GetNode(rtx, id)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if len(props) != 1 || props[0].Int != 2 {
		t.Fatalf("props = %v, want age=2", props)
	}
}

func TestDeleteNodeMakesItInvisibleToLaterReaders(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, _ := s.Begin()
	id, _ := g.AddNode(tx, "Person", nil)
	s.Commit(tx)

	del, _ := s.Begin()
	if err := g.DeleteNode(del, id); err != nil {
		t.Fatalf("delete node: %v", err)
	}
	s.Commit(del)

	rtx, _ := s.Begin()
	defer s.Commit(rtx)
	if _, _, err := g.GetNode(rtx, id); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("get node after delete = %v, want ErrNodeNotFound", err)
	}
}

func TestDeleteNodeStillVisibleToOlderSnapshot(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, _ := s.Begin()
	id, _ := g.AddNode(tx, "Person", nil)
	s.Commit(tx)

	// Reader begins before the delete commits.
	reader, _ := s.Begin()

	del, _ := s.Begin()
	g.DeleteNode(del, id)
	s.Commit(del)

	if _, _, err := g.GetNode(reader, id); err != nil {
		t.Fatalf("get node from pre-delete snapshot: %v", err)
	}
	s.Commit(reader)
}

func TestAddRelationshipWiresAdjacency(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, _ := s.Begin()
	from, _ := g.AddNode(tx, "Person", nil)
	to, _ := g.AddNode(tx, "Person", nil)
	relID, err := g.AddRelationship(tx, from, to, "KNOWS", nil)
	if err != nil {
		t.Fatalf("add relationship: %v", err)
	}
	s.Commit(tx)

	rtx, _ := s.Begin()
	defer s.Commit(rtx)

	var seen []uint64
	err = g.ForEachFromRelationship(rtx, from, func(id uint64, rec RelRecord) bool {
		seen = append(seen, id)
		return true
	})
	if err != nil {
		t.Fatalf("for each from relationship: %v", err)
	}
	if len(seen) != 1 || seen[0] != relID {
		t.Fatalf("outgoing relationships = %v, want [%d]", seen, relID)
	}
}

func TestAddRelationshipUnknownNodeFails(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, _ := s.Begin()
	from, _ := g.AddNode(tx, "Person", nil)
	s.Commit(tx)

	tx2, _ := s.Begin()
	defer s.Abort(tx2)
	if _, err := g.AddRelationship(tx2, from, 99999, "KNOWS", nil); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("add relationship to unknown node = %v, want ErrNodeNotFound", err)
	}
}

func TestDetachDeleteNodeRemovesIncidentRelationships(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, _ := s.Begin()
	a, _ := g.AddNode(tx, "Person", nil)
	b, _ := g.AddNode(tx, "Person", nil)
	relID, _ := g.AddRelationship(tx, a, b, "KNOWS", nil)
	s.Commit(tx)

	del, _ := s.Begin()
	if err := g.DetachDeleteNode(del, a); err != nil {
		t.Fatalf("detach delete: %v", err)
	}
	s.Commit(del)

	rtx, _ := s.Begin()
	defer s.Commit(rtx)

	if _, _, err := g.GetNode(rtx, a); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("node a after detach delete = %v, want ErrNodeNotFound", err)
	}

	found := false
	g.ForEachToRelationship(rtx, b, func(id uint64, rec RelRecord) bool {
		if id == relID {
			found = true
		}
		return true
	})
	if found {
		t.Fatal("relationship should have been deleted along with node a")
	}
}

func TestTraverseRespectsMaxHops(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, _ := s.Begin()
	n1, _ := g.AddNode(tx, "Person", nil)
	n2, _ := g.AddNode(tx, "Person", nil)
	n3, _ := g.AddNode(tx, "Person", nil)
	g.AddRelationship(tx, n1, n2, "KNOWS", nil)
	g.AddRelationship(tx, n2, n3, "KNOWS", nil)
	s.Commit(tx)

	rtx, _ := s.Begin()
	defer s.Commit(rtx)

	var visited []uint64
	err := g.Traverse(rtx, n1, "KNOWS", 1, func(id uint64, hop int) bool {
		visited = append(visited, id)
		return true
	})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	for _, id := range visited {
		if id == n3 {
			t.Fatalf("traverse with maxHops=1 reached n3, should have stopped at n2")
		}
	}
}

func TestParallelLabelScanFindsEveryMatch(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, _ := s.Begin()
	want := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		id, _ := g.AddNode(tx, "Person", nil)
		want[id] = true
	}
	for i := 0; i < 10; i++ {
		g.AddNode(tx, "Company", nil)
	}
	s.Commit(tx)

	rtx, _ := s.Begin()
	defer s.Commit(rtx)

	got := make(map[uint64]bool)
	err := g.ParallelLabelScan(rtx, "Person", 4, func(id uint64, rec NodeRecord) bool {
		got[id] = true
		return true
	})
	require.NoError(t, err, "parallel label scan")
	require.Len(t, got, len(want), "Person nodes found")
	for id := range want {
		require.True(t, got[id], "scan missed node %d", id)
	}
}
