package graphdb

import "testing"

func TestVacuumReclaimsSupersededVersionOnceNoReaderCanSeeIt(t *testing.T) {
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

	rec, _, err := func() (NodeRecord, []Property, error) {
		rtx, _ := s.Begin()
		defer s.Commit(rtx)
		return g.GetNode(rtx, id)
	}()
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if rec.Meta.Next == NoOffset {
		t.Fatal("update should have chained a prior version off Meta.Next")
	}

	// With no other transaction active, the watermark is past both
	// writers' xids, so the displaced version is safe to reclaim.
	stats, err := s.Vacuum()
	if err != nil {
		t.Fatalf("vacuum: %v", err)
	}
	if stats.NodesReclaimed == 0 {
		t.Fatal("expected vacuum to reclaim the superseded version")
	}

	if _, ok, err := g.nodeVersions.At(rec.Meta.Next); err != nil {
		t.Fatalf("at: %v", err)
	} else if ok {
		t.Fatal("superseded version should have been erased")
	}
}

func TestVacuumKeepsVersionVisibleToActiveReader(t *testing.T) {
	s := newTestStore(t)
	g := s.Graph()

	tx, _ := s.Begin()
	id, err := g.AddNode(tx, "Person", []Property{{Key: "age", Kind: PropInt, Int: 1}})
	if err != nil {
		t.Fatalf("add node: %v", err)
	}
	s.Commit(tx)

	// Reader begins before the update and stays active across Vacuum.
	reader, _ := s.Begin()

	tx2, _ := s.Begin()
	if err := g.UpdateNode(tx2, id, []Property{{Key: "age", Kind: PropInt, Int: 2}}); err != nil {
		t.Fatalf("update node: %v", err)
	}
	s.Commit(tx2)

	if _, err := s.Vacuum(); err != nil {
		t.Fatalf("vacuum: %v", err)
	}

	_, props, err := g.GetNode(reader, id)
	if err != nil {
		t.Fatalf("get node from still-active reader's snapshot after vacuum: %v", err)
	}
	if len(props) != 1 || props[0].Int != 1 {
		t.Fatalf("props visible to pre-update reader after vacuum = %v, want age=1", props)
	}
	s.Commit(reader)
}

func TestVacuumRecordsMetric(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Vacuum(); err != nil {
		t.Fatalf("vacuum: %v", err)
	}
	if s.Metrics().Vacuums() != 1 {
		t.Fatalf("vacuums = %d, want 1", s.Metrics().Vacuums())
	}
}
