package graphdb

import (
	"encoding/binary"
	"math"
)

// NoOffset marks the end of a linked chain (dirty-version chain, or
// adjacency chain): no valid chunked-vector offset ever equals it.
const NoOffset = ^uint64(0)

// Meta is the MVCC header carried by every node and relationship
// version. Property items carry none; they belong to whichever version's
// FirstProp chain reaches them.
//
// xid doubles as both a transaction's begin timestamp and (once it
// commits) its commit timestamp — there is a single monotonic counter,
// not two — so BTS and CTS are both literally the transaction's xid;
// CTS is simply zero until commit stamps it in.
type Meta struct {
	BTS  uint64 // creating transaction's xid
	CTS  uint64 // 0 while uncommitted; set equal to BTS on commit
	RTS  uint64 // deleting transaction's xid; 0 if not deleted
	Next uint64 // offset of the previous version in the dirty chain, or NoOffset
}

const metaSize = 32

func encodeMeta(m Meta, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], m.BTS)
	binary.LittleEndian.PutUint64(buf[8:], m.CTS)
	binary.LittleEndian.PutUint64(buf[16:], m.RTS)
	binary.LittleEndian.PutUint64(buf[24:], m.Next)
}

func decodeMeta(buf []byte) Meta {
	return Meta{
		BTS:  binary.LittleEndian.Uint64(buf[0:]),
		CTS:  binary.LittleEndian.Uint64(buf[8:]),
		RTS:  binary.LittleEndian.Uint64(buf[16:]),
		Next: binary.LittleEndian.Uint64(buf[24:]),
	}
}

// NodeRecord is one version of a node. A node's id is its offset in the
// node table's live chunked.Vector and never changes across updates;
// updates chain the prior version off Meta.Next in a separate versions
// vector instead of moving the record.
type NodeRecord struct {
	Meta         Meta
	Label        uint64 // dictionary code, 0 = unlabeled
	FirstProp    uint64 // offset into the property-item vector, or NoOffset
	FirstRelFrom uint64 // head of this node's outgoing adjacency chain, or NoOffset
	FirstRelTo   uint64 // head of this node's incoming adjacency chain, or NoOffset
}

const nodeRecordSize = metaSize + 8*4

type nodeCodec struct{}

func (nodeCodec) Size() int { return nodeRecordSize }

func (nodeCodec) Encode(v NodeRecord, buf []byte) {
	encodeMeta(v.Meta, buf[0:])
	binary.LittleEndian.PutUint64(buf[metaSize:], v.Label)
	binary.LittleEndian.PutUint64(buf[metaSize+8:], v.FirstProp)
	binary.LittleEndian.PutUint64(buf[metaSize+16:], v.FirstRelFrom)
	binary.LittleEndian.PutUint64(buf[metaSize+24:], v.FirstRelTo)
}

func (nodeCodec) Decode(buf []byte) NodeRecord {
	return NodeRecord{
		Meta:         decodeMeta(buf[0:]),
		Label:        binary.LittleEndian.Uint64(buf[metaSize:]),
		FirstProp:    binary.LittleEndian.Uint64(buf[metaSize+8:]),
		FirstRelFrom: binary.LittleEndian.Uint64(buf[metaSize+16:]),
		FirstRelTo:   binary.LittleEndian.Uint64(buf[metaSize+24:]),
	}
}

// RelRecord is one version of a relationship. Like a node, a
// relationship's id is its stable offset in the relationship table's
// live vector.
type RelRecord struct {
	Meta        Meta
	Label       uint64
	FromNode    uint64
	ToNode      uint64
	FirstProp   uint64
	NextFromRel uint64 // next relationship in FromNode's outgoing chain, or NoOffset
	NextToRel   uint64 // next relationship in ToNode's incoming chain, or NoOffset
}

const relRecordSize = metaSize + 8*6

type relCodec struct{}

func (relCodec) Size() int { return relRecordSize }

func (relCodec) Encode(v RelRecord, buf []byte) {
	encodeMeta(v.Meta, buf[0:])
	binary.LittleEndian.PutUint64(buf[metaSize:], v.Label)
	binary.LittleEndian.PutUint64(buf[metaSize+8:], v.FromNode)
	binary.LittleEndian.PutUint64(buf[metaSize+16:], v.ToNode)
	binary.LittleEndian.PutUint64(buf[metaSize+24:], v.FirstProp)
	binary.LittleEndian.PutUint64(buf[metaSize+32:], v.NextFromRel)
	binary.LittleEndian.PutUint64(buf[metaSize+40:], v.NextToRel)
}

func (relCodec) Decode(buf []byte) RelRecord {
	return RelRecord{
		Meta:        decodeMeta(buf[0:]),
		Label:       binary.LittleEndian.Uint64(buf[metaSize:]),
		FromNode:    binary.LittleEndian.Uint64(buf[metaSize+8:]),
		ToNode:      binary.LittleEndian.Uint64(buf[metaSize+16:]),
		FirstProp:   binary.LittleEndian.Uint64(buf[metaSize+24:]),
		NextFromRel: binary.LittleEndian.Uint64(buf[metaSize+32:]),
		NextToRel:   binary.LittleEndian.Uint64(buf[metaSize+40:]),
	}
}

// PropKind tags the type carried by a PropItem's value.
type PropKind uint8

const (
	PropInt PropKind = iota
	PropFloat
	PropBool
	PropString // Str holds a dictionary code
)

// PropItem is one entry in a node or relationship's property list, a
// singly linked chain terminated by NoOffset. Property chains are
// immutable per record version: updating a property rewrites the whole
// chain for the new version rather than mutating items shared with an
// older, still-visible version.
type PropItem struct {
	Key   uint64 // dictionary code for the property name
	Kind  PropKind
	Int   int64
	Float float64
	Str   uint64 // dictionary code, valid when Kind == PropString
	Next  uint64
}

const propItemSize = 8 + 1 + 7 /*pad*/ + 8 + 8 + 8 + 8

type propCodec struct{}

func (propCodec) Size() int { return propItemSize }

func (propCodec) Encode(v PropItem, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], v.Key)
	buf[8] = byte(v.Kind)
	binary.LittleEndian.PutUint64(buf[16:], uint64(v.Int))
	binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(v.Float))
	binary.LittleEndian.PutUint64(buf[32:], v.Str)
	binary.LittleEndian.PutUint64(buf[40:], v.Next)
}

func (propCodec) Decode(buf []byte) PropItem {
	return PropItem{
		Key:   binary.LittleEndian.Uint64(buf[0:]),
		Kind:  PropKind(buf[8]),
		Int:   int64(binary.LittleEndian.Uint64(buf[16:])),
		Float: math.Float64frombits(binary.LittleEndian.Uint64(buf[24:])),
		Str:   binary.LittleEndian.Uint64(buf[32:]),
		Next:  binary.LittleEndian.Uint64(buf[40:]),
	}
}
