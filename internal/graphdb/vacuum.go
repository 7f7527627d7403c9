// Dirty-chain reclamation: reclaim old versions no transaction's
// snapshot can ever observe again.
//
// Grounded on the teacher's internal/store compaction pass (single
// Range scan, erase-in-place, no separate free list) and on
// Manager.OldestActiveXID's own doc comment, which names exactly this
// watermark's use.
package graphdb

import "fmt"

// VacuumStats reports how much a single Vacuum pass reclaimed.
type VacuumStats struct {
	NodesReclaimed         int
	RelationshipsReclaimed int
	Watermark              uint64
}

// Vacuum walks every live node and relationship's dirty-version chain
// and erases every version that stopped being current (its successor's
// BTS, or its own RTS when deleted earlier) below the oldest still-
// active transaction's xid — every reader at or above that watermark
// already sees the newer version, so none can ever need it again.
func Vacuum(s *Store) (VacuumStats, error) {
	watermark := s.mgr.OldestActiveXID()
	stats := VacuumStats{Watermark: watermark}

	var chainErr error
	err := s.graph.nodes.Range(func(_ uint64, rec NodeRecord) bool {
		n, err := reclaimNodeChain(s.graph, rec.Meta.Next, rec.Meta.BTS, watermark)
		stats.NodesReclaimed += n
		if err != nil {
			chainErr = err
			return false
		}
		return true
	})
	if err != nil {
		return stats, fmt.Errorf("graphdb: vacuum nodes: %w", err)
	}
	if chainErr != nil {
		return stats, fmt.Errorf("graphdb: vacuum nodes: %w", chainErr)
	}

	err = s.graph.rels.Range(func(_ uint64, rec RelRecord) bool {
		n, err := reclaimRelChain(s.graph, rec.Meta.Next, rec.Meta.BTS, watermark)
		stats.RelationshipsReclaimed += n
		if err != nil {
			chainErr = err
			return false
		}
		return true
	})
	if err != nil {
		return stats, fmt.Errorf("graphdb: vacuum relationships: %w", err)
	}
	if chainErr != nil {
		return stats, fmt.Errorf("graphdb: vacuum relationships: %w", chainErr)
	}

	s.mgr.Metrics.recordVacuum()
	return stats, nil
}

// reclaimNodeChain follows a node's dirty-version chain from head,
// erasing every version no active reader's snapshot can still need.
// An update does not stamp the version it displaces with its own RTS
// (only a delete does, self-tombstoning); a displaced-by-update version
// instead becomes unreachable once every active transaction's xid is at
// or past the BTS of whatever superseded it, since IsVisible would
// reject it in favor of that newer version for any such reader. The
// walk tracks that successor BTS (successorBTS, starting as the live
// record's own BTS) as it descends, and stops at the first version
// still newer than watermark, since everything further back remains
// chained behind it for an older reader that hasn't been reclaimed yet.
func reclaimNodeChain(g *Graph, head uint64, successorBTS uint64, watermark uint64) (int, error) {
	reclaimed := 0
	offset := head
	for offset != NoOffset {
		ver, ok, err := g.nodeVersions.At(offset)
		if err != nil {
			return reclaimed, err
		}
		if !ok {
			return reclaimed, nil
		}
		obsoleteAt := successorBTS
		if ver.Meta.RTS != 0 && ver.Meta.RTS < obsoleteAt {
			obsoleteAt = ver.Meta.RTS
		}
		if obsoleteAt >= watermark {
			return reclaimed, nil
		}
		next := ver.Meta.Next
		if err := g.nodeVersions.Erase(offset); err != nil {
			return reclaimed, err
		}
		reclaimed++
		successorBTS = ver.Meta.BTS
		offset = next
	}
	return reclaimed, nil
}

func reclaimRelChain(g *Graph, head uint64, successorBTS uint64, watermark uint64) (int, error) {
	reclaimed := 0
	offset := head
	for offset != NoOffset {
		ver, ok, err := g.relVersions.At(offset)
		if err != nil {
			return reclaimed, err
		}
		if !ok {
			return reclaimed, nil
		}
		obsoleteAt := successorBTS
		if ver.Meta.RTS != 0 && ver.Meta.RTS < obsoleteAt {
			obsoleteAt = ver.Meta.RTS
		}
		if obsoleteAt >= watermark {
			return reclaimed, nil
		}
		next := ver.Meta.Next
		if err := g.relVersions.Erase(offset); err != nil {
			return reclaimed, err
		}
		reclaimed++
		successorBTS = ver.Meta.BTS
		offset = next
	}
	return reclaimed, nil
}
