// The graph operations API: add/update/delete nodes and relationships,
// detach-delete, adjacency traversal, and label scans. Every mutation
// goes through a Txn so its effect is both write-ahead logged and
// governed by the MVCC visibility rules in mvcc.go.
package graphdb

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/polyhedra-labs/poseidongo/pkg/chunked"
	"github.com/polyhedra-labs/poseidongo/pkg/dict"
)

// Graph is the storage engine's node/relationship/property layer. Store
// (see store.go) wires one up alongside a Manager and a WAL.
type Graph struct {
	mgr *Manager

	nodes        *chunked.Vector[NodeRecord]
	nodeVersions *chunked.Vector[NodeRecord]
	rels         *chunked.Vector[RelRecord]
	relVersions  *chunked.Vector[RelRecord]
	props        *chunked.Vector[PropItem]

	dict *dict.Dict

	// adjacency head pointers are not MVCC-versioned: they record the
	// current structural shape of the graph, while each visited edge's
	// own Meta is still checked against the traversing transaction's
	// snapshot. See DESIGN.md for why this trade-off was made instead
	// of versioning every adjacency pointer mutation.
	adjMu sync.Mutex
}

// Property is a user-facing, already-decoded property value.
type Property struct {
	Key   string
	Kind  PropKind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

func newGraph(mgr *Manager, nodes, nodeVersions *chunked.Vector[NodeRecord], rels, relVersions *chunked.Vector[RelRecord], props *chunked.Vector[PropItem], d *dict.Dict) *Graph {
	return &Graph{
		mgr: mgr, nodes: nodes, nodeVersions: nodeVersions,
		rels: rels, relVersions: relVersions, props: props, dict: d,
	}
}

// encodePropChain writes props as a freshly allocated, immutable linked
// chain and returns the offset of its head (NoOffset if props is empty).
// Each item append is itself write-ahead logged (ObjProperty) so
// recovery's redo pass can replay it independently of the owning node
// or relationship record.
func (g *Graph) encodePropChain(t *Txn, props []Property) (uint64, error) {
	head := NoOffset
	// Build tail-to-head so head ends up pointing at props[0].
	for i := len(props) - 1; i >= 0; i-- {
		p := props[i]
		keyCode, err := g.dict.Insert(p.Key)
		if err != nil {
			return 0, fmt.Errorf("graphdb: encode property %q: %w", p.Key, err)
		}

		item := PropItem{Key: keyCode, Kind: p.Kind, Int: p.Int, Float: p.Float, Next: head}
		if p.Kind == PropBool {
			if p.Bool {
				item.Int = 1
			}
		}
		if p.Kind == PropString {
			strCode, err := g.dict.Insert(p.Str)
			if err != nil {
				return 0, fmt.Errorf("graphdb: encode property %q: %w", p.Key, err)
			}
			item.Str = strCode
		}

		offset, err := g.props.Append(item)
		if err != nil {
			return 0, fmt.Errorf("graphdb: encode property %q: %w", p.Key, err)
		}

		buf := make([]byte, 8+propItemSize)
		binary.LittleEndian.PutUint64(buf[0:], offset)
		(propCodec{}).Encode(item, buf[8:])
		if _, err := t.appendWAL(LogWrite, ObjProperty, buf); err != nil {
			return 0, err
		}

		head = offset
	}
	return head, nil
}

// decodePropChain walks a property chain and resolves dictionary codes
// back into strings.
func (g *Graph) decodePropChain(head uint64) ([]Property, error) {
	var out []Property
	for head != NoOffset {
		item, ok, err := g.props.At(head)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		key, _ := g.dict.LookupString(item.Key)
		p := Property{Key: key, Kind: item.Kind, Int: item.Int, Float: item.Float}
		if item.Kind == PropBool {
			p.Bool = item.Int != 0
		}
		if item.Kind == PropString {
			p.Str, _ = g.dict.LookupString(item.Str)
		}
		out = append(out, p)

		head = item.Next
	}
	return out, nil
}

// AddNode creates a new node, visible only to t until t commits.
func (g *Graph) AddNode(t *Txn, label string, props []Property) (uint64, error) {
	if err := t.requireActive(); err != nil {
		return 0, err
	}

	labelCode, err := g.dict.Insert(label)
	if err != nil {
		return 0, fmt.Errorf("graphdb: add node: %w", err)
	}
	propHead, err := g.encodePropChain(t, props)
	if err != nil {
		return 0, err
	}

	rec := NodeRecord{
		Meta:         Meta{BTS: t.XID, Next: NoOffset},
		Label:        labelCode,
		FirstProp:    propHead,
		FirstRelFrom: NoOffset,
		FirstRelTo:   NoOffset,
	}

	id, err := g.nodes.Append(rec)
	if err != nil {
		return 0, fmt.Errorf("graphdb: add node: %w", err)
	}

	buf := make([]byte, 8+nodeRecordSize)
	writeOffsetAndNode(buf, id, rec)
	if _, err := t.appendWAL(LogWrite, ObjNode, buf); err != nil {
		return 0, err
	}

	t.recordCommitHook(func(xid uint64) error {
		return g.stampNodeCommitted(id, xid)
	})
	t.recordAbortHook(func() error {
		return g.nodes.Erase(id)
	})

	return id, nil
}

func (g *Graph) stampNodeCommitted(id, xid uint64) error {
	rec, ok, err := g.nodes.At(id)
	if err != nil || !ok {
		return fmt.Errorf("graphdb: stamp node %d committed: %w", id, err)
	}
	rec.Meta.CTS = xid
	return g.nodes.StoreAt(id, rec)
}

// GetNode returns the version of id visible to t.
func (g *Graph) GetNode(t *Txn, id uint64) (NodeRecord, []Property, error) {
	rec, ok, err := g.nodes.At(id)
	if err != nil {
		return NodeRecord{}, nil, err
	}
	for ok && !IsVisible(rec.Meta, t.XID) {
		if rec.Meta.RTS != 0 && (rec.Meta.BTS == t.XID || (rec.Meta.CTS != 0 && rec.Meta.CTS <= t.XID)) {
			// A delete t already sees: the node is gone, not older.
			ok = false
			break
		}
		if rec.Meta.Next == NoOffset {
			ok = false
			break
		}
		rec, ok, err = g.nodeVersions.At(rec.Meta.Next)
		if err != nil {
			return NodeRecord{}, nil, err
		}
	}
	if !ok {
		return NodeRecord{}, nil, fmt.Errorf("graphdb: get node %d: %w", id, ErrNodeNotFound)
	}

	props, err := g.decodePropChain(rec.FirstProp)
	if err != nil {
		return NodeRecord{}, nil, err
	}
	return rec, props, nil
}

// UpdateNode replaces the visible version's properties with props,
// chaining the previous version off Meta.Next.
func (g *Graph) UpdateNode(t *Txn, id uint64, props []Property) error {
	if err := t.requireActive(); err != nil {
		return err
	}

	cur, ok, err := g.nodes.At(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("graphdb: update node %d: %w", id, ErrNodeNotFound)
	}
	if err := PrepareWrite(cur.Meta, t.XID); err != nil {
		return fmt.Errorf("graphdb: update node %d: %w", id, err)
	}

	propHead, err := g.encodePropChain(t, props)
	if err != nil {
		return err
	}

	next := cur
	sameTx := cur.Meta.BTS == t.XID
	if !sameTx {
		chainOffset, err := g.nodeVersions.Append(cur)
		if err != nil {
			return fmt.Errorf("graphdb: update node %d: %w", id, err)
		}
		next.Meta = Meta{BTS: t.XID, Next: chainOffset}
	}
	next.FirstProp = propHead

	if err := g.nodes.StoreAt(id, next); err != nil {
		return fmt.Errorf("graphdb: update node %d: %w", id, err)
	}

	buf := make([]byte, 8+nodeRecordSize)
	writeOffsetAndNode(buf, id, next)
	if _, err := t.appendWAL(LogWrite, ObjNode, buf); err != nil {
		return err
	}

	t.recordCommitHook(func(xid uint64) error { return g.stampNodeCommitted(id, xid) })
	t.recordAbortHook(func() error { return g.nodes.StoreAt(id, cur) })

	return nil
}

// DeleteNode tombstones id: it remains visible to snapshots taken
// before t commits, and invisible afterward.
func (g *Graph) DeleteNode(t *Txn, id uint64) error {
	if err := t.requireActive(); err != nil {
		return err
	}

	cur, ok, err := g.nodes.At(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("graphdb: delete node %d: %w", id, ErrNodeNotFound)
	}
	if err := PrepareWrite(cur.Meta, t.XID); err != nil {
		return fmt.Errorf("graphdb: delete node %d: %w", id, err)
	}

	next := cur
	if cur.Meta.BTS != t.XID {
		chainOffset, err := g.nodeVersions.Append(cur)
		if err != nil {
			return err
		}
		next.Meta = Meta{BTS: t.XID, Next: chainOffset}
	}
	next.Meta.RTS = t.XID

	if err := g.nodes.StoreAt(id, next); err != nil {
		return err
	}

	buf := make([]byte, 8+nodeRecordSize)
	writeOffsetAndNode(buf, id, next)
	if _, err := t.appendWAL(LogWrite, ObjNode, buf); err != nil {
		return err
	}

	t.recordCommitHook(func(xid uint64) error { return g.stampNodeCommitted(id, xid) })
	t.recordAbortHook(func() error { return g.nodes.StoreAt(id, cur) })

	return nil
}

// AddRelationship creates a relationship from "from" to "to", threading
// it onto both endpoints' adjacency chains.
func (g *Graph) AddRelationship(t *Txn, from, to uint64, label string, props []Property) (uint64, error) {
	if err := t.requireActive(); err != nil {
		return 0, err
	}

	labelCode, err := g.dict.Insert(label)
	if err != nil {
		return 0, err
	}
	propHead, err := g.encodePropChain(t, props)
	if err != nil {
		return 0, err
	}

	rec := RelRecord{
		Meta:      Meta{BTS: t.XID, Next: NoOffset},
		Label:     labelCode,
		FromNode:  from,
		ToNode:    to,
		FirstProp: propHead,
	}

	g.adjMu.Lock()

	fromNode, ok, err := g.nodes.At(from)
	if err != nil || !ok {
		g.adjMu.Unlock()
		return 0, fmt.Errorf("graphdb: add relationship: from %d: %w", from, ErrNodeNotFound)
	}
	toNode, ok, err := g.nodes.At(to)
	if err != nil || !ok {
		g.adjMu.Unlock()
		return 0, fmt.Errorf("graphdb: add relationship: to %d: %w", to, ErrNodeNotFound)
	}

	rec.NextFromRel = fromNode.FirstRelFrom
	rec.NextToRel = toNode.FirstRelTo

	id, err := g.rels.Append(rec)
	if err != nil {
		g.adjMu.Unlock()
		return 0, err
	}

	fromNode.FirstRelFrom = id
	toNode.FirstRelTo = id
	if err := g.nodes.StoreAt(from, fromNode); err != nil {
		g.adjMu.Unlock()
		return 0, err
	}
	if err := g.nodes.StoreAt(to, toNode); err != nil {
		g.adjMu.Unlock()
		return 0, err
	}
	g.adjMu.Unlock()

	buf := make([]byte, 8+relRecordSize)
	writeOffsetAndRel(buf, id, rec)
	if _, err := t.appendWAL(LogWrite, ObjRelationship, buf); err != nil {
		return 0, err
	}

	t.recordCommitHook(func(xid uint64) error {
		r, ok, err := g.rels.At(id)
		if err != nil || !ok {
			return fmt.Errorf("graphdb: stamp relationship %d committed: %w", id, err)
		}
		r.Meta.CTS = xid
		return g.rels.StoreAt(id, r)
	})
	t.recordAbortHook(func() error {
		return g.rels.Erase(id)
	})

	return id, nil
}

// DeleteRelationship tombstones a relationship without touching
// adjacency structure (the edge stays in the chain but becomes
// invisible to readers after t commits).
func (g *Graph) DeleteRelationship(t *Txn, id uint64) error {
	if err := t.requireActive(); err != nil {
		return err
	}

	cur, ok, err := g.rels.At(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("graphdb: delete relationship %d: %w", id, ErrRelationshipNotFound)
	}
	if err := PrepareWrite(cur.Meta, t.XID); err != nil {
		return fmt.Errorf("graphdb: delete relationship %d: %w", id, err)
	}

	next := cur
	if cur.Meta.BTS != t.XID {
		chainOffset, err := g.relVersions.Append(cur)
		if err != nil {
			return err
		}
		next.Meta = Meta{BTS: t.XID, Next: chainOffset}
	}
	next.Meta.RTS = t.XID

	if err := g.rels.StoreAt(id, next); err != nil {
		return err
	}

	buf := make([]byte, 8+relRecordSize)
	writeOffsetAndRel(buf, id, next)
	if _, err := t.appendWAL(LogWrite, ObjRelationship, buf); err != nil {
		return err
	}

	t.recordCommitHook(func(xid uint64) error {
		r, ok, err := g.rels.At(id)
		if err != nil || !ok {
			return err
		}
		r.Meta.CTS = xid
		return g.rels.StoreAt(id, r)
	})
	t.recordAbortHook(func() error { return g.rels.StoreAt(id, cur) })

	return nil
}

// DetachDeleteNode deletes a node and every relationship touching it.
func (g *Graph) DetachDeleteNode(t *Txn, id uint64) error {
	var rels []uint64
	if err := g.ForEachFromRelationship(t, id, func(relID uint64, _ RelRecord) bool {
		rels = append(rels, relID)
		return true
	}); err != nil {
		return err
	}
	if err := g.ForEachToRelationship(t, id, func(relID uint64, _ RelRecord) bool {
		rels = append(rels, relID)
		return true
	}); err != nil {
		return err
	}

	for _, relID := range rels {
		if err := g.DeleteRelationship(t, relID); err != nil {
			return err
		}
	}

	return g.DeleteNode(t, id)
}

// ForEachFromRelationship walks id's outgoing adjacency chain, visiting
// every relationship visible to t, until fn returns false.
func (g *Graph) ForEachFromRelationship(t *Txn, id uint64, fn func(relID uint64, rec RelRecord) bool) error {
	node, ok, err := g.nodes.At(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("graphdb: walk from-relationships of %d: %w", id, ErrNodeNotFound)
	}
	return g.walkChain(t, node.FirstRelFrom, true, fn)
}

// ForEachToRelationship walks id's incoming adjacency chain.
func (g *Graph) ForEachToRelationship(t *Txn, id uint64, fn func(relID uint64, rec RelRecord) bool) error {
	node, ok, err := g.nodes.At(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("graphdb: walk to-relationships of %d: %w", id, ErrNodeNotFound)
	}
	return g.walkChain(t, node.FirstRelTo, false, fn)
}

func (g *Graph) walkChain(t *Txn, head uint64, outgoing bool, fn func(relID uint64, rec RelRecord) bool) error {
	relID := head
	for relID != NoOffset {
		rec, ok, err := g.rels.At(relID)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		next := rec.NextToRel
		if outgoing {
			next = rec.NextFromRel
		}

		if IsVisible(rec.Meta, t.XID) {
			if !fn(relID, rec) {
				return nil
			}
		}
		relID = next
	}
	return nil
}

// LabelForEachFromRelationship is ForEachFromRelationship filtered to
// relationships carrying the given label.
func (g *Graph) LabelForEachFromRelationship(t *Txn, id uint64, label string, fn func(relID uint64, rec RelRecord) bool) error {
	code, ok := g.dict.LookupCode(label)
	if !ok {
		return nil
	}
	return g.ForEachFromRelationship(t, id, func(relID uint64, rec RelRecord) bool {
		if rec.Label != code {
			return true
		}
		return fn(relID, rec)
	})
}

// Traverse performs a bounded variable-hop breadth-first walk starting
// at id, following only outgoing edges whose label matches relLabel (or
// every label, if relLabel is ""), up to maxHops hops. It uses an
// explicit frontier queue rather than recursion, so the hop bound is
// the only limit on depth.
func (g *Graph) Traverse(t *Txn, start uint64, relLabel string, maxHops int, fn func(nodeID uint64, hop int) bool) error {
	var relCode uint64
	var filterByLabel bool
	if relLabel != "" {
		code, ok := g.dict.LookupCode(relLabel)
		if !ok {
			return nil
		}
		relCode, filterByLabel = code, true
	}

	type frontierEntry struct {
		node uint64
		hop  int
	}

	visited := map[uint64]bool{start: true}
	queue := []frontierEntry{{node: start, hop: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if !fn(cur.node, cur.hop) {
			return nil
		}
		if cur.hop >= maxHops {
			continue
		}

		node, ok, err := g.nodes.At(cur.node)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		relID := node.FirstRelFrom
		for relID != NoOffset {
			rec, ok, err := g.rels.At(relID)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			next := rec.NextFromRel

			if IsVisible(rec.Meta, t.XID) && (!filterByLabel || rec.Label == relCode) && !visited[rec.ToNode] {
				visited[rec.ToNode] = true
				queue = append(queue, frontierEntry{node: rec.ToNode, hop: cur.hop + 1})
			}
			relID = next
		}
	}

	return nil
}

// ParallelLabelScan visits every node visible to t carrying label,
// fanning the scan out across the node table's chunks so multiple
// goroutines decode and filter concurrently; fn itself is still called
// serially (one at a time) since callers typically aren't written to
// be reentrant.
func (g *Graph) ParallelLabelScan(t *Txn, label string, workers int, fn func(id uint64, rec NodeRecord) bool) error {
	code, ok := g.dict.LookupCode(label)
	if !ok {
		return nil
	}
	if workers < 1 {
		workers = 1
	}

	n := g.nodes.ChunkCount()
	if n == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		stop    bool
		errOnce error
		next    int
		wg      sync.WaitGroup
	)

	worker := func() {
		defer wg.Done()
		for {
			mu.Lock()
			if stop || next >= n {
				mu.Unlock()
				return
			}
			ci := next
			next++
			mu.Unlock()

			err := g.nodes.RangeChunk(ci, func(offset uint64, rec NodeRecord) bool {
				if rec.Label != code || !IsVisible(rec.Meta, t.XID) {
					return true
				}
				mu.Lock()
				defer mu.Unlock()
				if stop {
					return false
				}
				if !fn(offset, rec) {
					stop = true
					return false
				}
				return true
			})

			if err != nil {
				mu.Lock()
				if errOnce == nil {
					errOnce = err
				}
				stop = true
				mu.Unlock()
				return
			}
		}
	}

	if workers > n {
		workers = n
	}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker()
	}
	wg.Wait()

	return errOnce
}

func writeOffsetAndNode(buf []byte, id uint64, rec NodeRecord) {
	binary.LittleEndian.PutUint64(buf[0:], id)
	(nodeCodec{}).Encode(rec, buf[8:])
}

func writeOffsetAndRel(buf []byte, id uint64, rec RelRecord) {
	binary.LittleEndian.PutUint64(buf[0:], id)
	(relCodec{}).Encode(rec, buf[8:])
}
