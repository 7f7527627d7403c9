// Crash recovery: replay the write-ahead log on open, classify every
// transaction as a winner (saw a commit record) or a loser (never
// committed), redo every write record past the last checkpoint, and
// undo every loser's writes by walking its record chain backward.
//
// Grounded on the teacher's internal/store recovery pass (a single
// forward scan builds a transaction table, then a second pass applies
// effects) and on spec.md §4.12's explicit five-step algorithm; the WAL
// framing itself follows wal.go's own grounding.
package graphdb

import (
	"encoding/binary"
	"fmt"
)

// recoveryTxn tracks one transaction's outcome and its most recent LSN
// as the analysis pass scans forward.
type recoveryTxn struct {
	committed bool
	lastLSN   uint64
}

// Recover replays wal against g, in place, before any new transaction
// is allowed to begin. Only write records at or after the most recent
// checkpoint's LSN are redone. It returns an error if the log cannot be
// scanned or a record cannot be applied.
func Recover(wal *WAL, g *Graph) error {
	txns := make(map[uint64]*recoveryTxn)
	var stableLSN uint64
	var order []Record

	if err := wal.Scan(func(rec Record) bool {
		order = append(order, rec)

		t, ok := txns[rec.XID]
		if !ok {
			t = &recoveryTxn{}
			txns[rec.XID] = t
		}

		switch rec.Kind {
		case LogCommit:
			t.committed = true
		case LogCheckpoint:
			stableLSN = rec.LSN
		case LogWrite:
			t.lastLSN = rec.LSN
		}

		return true
	}); err != nil {
		return fmt.Errorf("graphdb: recovery scan: %w", err)
	}

	// Redo pass: re-apply every write record past the last checkpoint,
	// in log order, regardless of whether its transaction ultimately
	// committed — the undo pass below unwinds losers afterward, exactly
	// as spec.md's redo-then-undo ordering specifies.
	redid := false
	for _, rec := range order {
		if rec.Kind != LogWrite || rec.LSN < stableLSN {
			continue
		}
		if err := redoRecord(g, rec); err != nil {
			return fmt.Errorf("graphdb: redo lsn %d: %w", rec.LSN, err)
		}
		redid = true
	}

	if redid {
		if _, err := wal.Append(LogCheckpoint, ObjNone, 0, NoOffset, nil); err != nil {
			return fmt.Errorf("graphdb: recovery checkpoint: %w", err)
		}
	}

	// Undo pass: for every loser, walk its chain of write records
	// backward via prev_offset and invert each one.
	byLSN := make(map[uint64]Record, len(order))
	for _, rec := range order {
		byLSN[rec.LSN] = rec
	}

	for _, t := range txns {
		if t.committed || t.lastLSN == 0 {
			continue
		}

		lsn := t.lastLSN
		for {
			rec, ok := byLSN[lsn]
			if !ok || rec.Kind != LogWrite {
				break
			}
			if err := undoRecord(g, rec); err != nil {
				return fmt.Errorf("graphdb: undo lsn %d: %w", rec.LSN, err)
			}
			if rec.PrevOffset == NoOffset {
				break
			}
			lsn = rec.PrevOffset
		}
	}

	return nil
}

func redoRecord(g *Graph, rec Record) error {
	switch rec.ObjType {
	case ObjNode:
		offset, node := decodeNodePayload(rec.Payload)
		return g.nodes.StoreAt(offset, node)
	case ObjRelationship:
		offset, rel := decodeRelPayload(rec.Payload)
		return g.rels.StoreAt(offset, rel)
	case ObjProperty:
		offset, item := decodePropPayload(rec.Payload)
		return g.props.StoreAt(offset, item)
	default:
		return nil
	}
}

// undoRecord inverts a write record's effect: a record with a zero
// Meta.Next chained nowhere else was a fresh insert (undo = erase); one
// whose Meta.Next names a prior version restores that prior version's
// bytes in place (undo = before-image restore, covering both update and
// delete, since a delete is a version stamped with RTS alongside a
// carried-forward Next just like an update).
func undoRecord(g *Graph, rec Record) error {
	switch rec.ObjType {
	case ObjNode:
		offset, node := decodeNodePayload(rec.Payload)
		if node.Meta.Next == NoOffset {
			return g.nodes.Erase(offset)
		}
		prior, ok, err := g.nodeVersions.At(node.Meta.Next)
		if err != nil {
			return err
		}
		if !ok {
			return g.nodes.Erase(offset)
		}
		return g.nodes.StoreAt(offset, prior)

	case ObjRelationship:
		offset, rel := decodeRelPayload(rec.Payload)
		if rel.Meta.Next == NoOffset {
			return g.rels.Erase(offset)
		}
		prior, ok, err := g.relVersions.At(rel.Meta.Next)
		if err != nil {
			return err
		}
		if !ok {
			return g.rels.Erase(offset)
		}
		return g.rels.StoreAt(offset, prior)

	case ObjProperty:
		offset, _ := decodePropPayload(rec.Payload)
		return g.props.Erase(offset)

	default:
		return nil
	}
}

func decodeNodePayload(payload []byte) (uint64, NodeRecord) {
	offset := binary.LittleEndian.Uint64(payload[0:])
	return offset, (nodeCodec{}).Decode(payload[8:])
}

func decodeRelPayload(payload []byte) (uint64, RelRecord) {
	offset := binary.LittleEndian.Uint64(payload[0:])
	return offset, (relCodec{}).Decode(payload[8:])
}

func decodePropPayload(payload []byte) (uint64, PropItem) {
	offset := binary.LittleEndian.Uint64(payload[0:])
	return offset, (propCodec{}).Decode(payload[8:])
}

