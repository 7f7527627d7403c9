// Package chunked implements a chunked, slot-allocated record vector on
// top of pkg/pagefile and pkg/bufferpool: each chunk is one page holding
// a fixed number of fixed-size records plus a small used-slot bitmap. A
// record's logical offset is chunkIndex*slotsPerChunk + slot, stable for
// the life of the record, which is what the node and relationship
// tables key their ids on.
//
// Grounded on the slot/chunk addressing scheme in original_source's
// chunked_vec.hpp/mem_chunked_vec.hpp, re-expressed as a generic Go
// vector over pkg/pagefile pages rather than translated directly.
package chunked

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/polyhedra-labs/poseidongo/pkg/bufferpool"
	"github.com/polyhedra-labs/poseidongo/pkg/pagefile"
)

// Codec describes how a Vector encodes and decodes its fixed-size
// records. Size must return the same value on every call.
type Codec[T any] interface {
	Size() int
	Encode(v T, buf []byte)
	Decode(buf []byte) T
}

// Vector is a chunked record vector of T, backed by a registered paged
// file.
type Vector[T any] struct {
	mu sync.Mutex

	pool  *bufferpool.Pool
	fid   bufferpool.FileID
	pf    *pagefile.File
	codec Codec[T]

	recordSize    int
	slotsPerChunk int
	bitmapBytes   int

	chunkPages []uint64 // page id for each chunk, in chunk-index order
	freeChunks map[int]struct{}
}

// Open creates or reopens a Vector atop an already-opened, already
// registered paged file. The file's payload is used to persist the
// chunk-index-to-page-id table across reopen; callers must not use the
// file's payload for anything else.
func Open[T any](pool *bufferpool.Pool, fid bufferpool.FileID, pf *pagefile.File, codec Codec[T]) (*Vector[T], error) {
	recordSize := codec.Size()
	slotsPerChunk, bitmapBytes := layout(int(pf.PageSize()), recordSize)
	if slotsPerChunk < 1 {
		return nil, fmt.Errorf("chunked: record size %d too large for page size %d", recordSize, pf.PageSize())
	}

	v := &Vector[T]{
		pool:          pool,
		fid:           fid,
		pf:            pf,
		codec:         codec,
		recordSize:    recordSize,
		slotsPerChunk: slotsPerChunk,
		bitmapBytes:   bitmapBytes,
		freeChunks:    make(map[int]struct{}),
	}

	if err := v.loadChunkTable(); err != nil {
		return nil, err
	}
	for ci := range v.chunkPages {
		if err := v.scanChunkFreeSlots(ci); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// layout picks the largest slotsPerChunk such that the per-chunk bitmap
// plus that many records fits within pageSize.
func layout(pageSize, recordSize int) (slotsPerChunk, bitmapBytes int) {
	slotsPerChunk = pageSize / recordSize
	for slotsPerChunk > 0 {
		bitmapBytes = (slotsPerChunk + 7) / 8
		if bitmapBytes+slotsPerChunk*recordSize <= pageSize {
			return slotsPerChunk, bitmapBytes
		}
		slotsPerChunk--
	}
	return 0, 0
}

// Append stores v in the first free slot, allocating a new chunk if
// every existing chunk is full, and returns its logical offset.
func (v *Vector[T]) Append(val T) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ci, ok := v.anyFreeChunk()
	if !ok {
		var err error
		ci, err = v.growChunk()
		if err != nil {
			return 0, err
		}
	}

	slot, err := v.firstFreeSlotLocked(ci)
	if err != nil {
		return 0, err
	}

	if err := v.writeSlotLocked(ci, slot, val, true); err != nil {
		return 0, err
	}

	return v.offset(ci, slot), nil
}

// StoreAt writes v at an explicit logical offset, allocating chunks as
// needed to reach it. Used by redo during recovery, where the offset
// is dictated by the log rather than chosen by the caller.
func (v *Vector[T]) StoreAt(offset uint64, val T) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	ci, slot := v.split(offset)
	for len(v.chunkPages) <= ci {
		if _, err := v.growChunk(); err != nil {
			return err
		}
	}

	return v.writeSlotLocked(ci, slot, val, true)
}

// At returns the record stored at offset. ok is false if the slot is
// currently erased or out of range.
func (v *Vector[T]) At(offset uint64) (val T, ok bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ci, slot := v.split(offset)
	if ci >= len(v.chunkPages) {
		return val, false, nil
	}

	buf, err := v.pool.Pin(v.fid, v.chunkPages[ci])
	if err != nil {
		return val, false, fmt.Errorf("chunked: at %d: %w", offset, err)
	}
	defer v.pool.Unpin(v.fid, v.chunkPages[ci], false)

	if !testBit(buf, slot) {
		return val, false, nil
	}

	rec := recordBytes(buf, v.bitmapBytes, v.recordSize, slot)
	return v.codec.Decode(rec), true, nil
}

// Erase clears the slot at offset. Erasing an already-erased or
// out-of-range offset is a no-op.
func (v *Vector[T]) Erase(offset uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	ci, slot := v.split(offset)
	if ci >= len(v.chunkPages) {
		return nil
	}

	buf, err := v.pool.Pin(v.fid, v.chunkPages[ci])
	if err != nil {
		return fmt.Errorf("chunked: erase %d: %w", offset, err)
	}

	clearBit(buf, slot)
	v.freeChunks[ci] = struct{}{}

	return v.pool.Unpin(v.fid, v.chunkPages[ci], true)
}

// ChunkCount reports the number of chunks currently allocated, so a
// caller can fan a scan out across chunks itself (see RangeChunk).
func (v *Vector[T]) ChunkCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.chunkPages)
}

// RangeChunk visits every occupied slot of a single chunk, identified
// by its index as returned by ChunkCount, in ascending slot order.
// Unlike Range, RangeChunk only holds the vector lock long enough to
// look up the chunk's page id, so independent chunks can be scanned
// concurrently by separate goroutines (each pin/unpin still serializes
// through the buffer pool's own lock, but decode and filter work for
// different chunks overlaps).
func (v *Vector[T]) RangeChunk(chunkIndex int, fn func(offset uint64, val T) bool) error {
	v.mu.Lock()
	if chunkIndex >= len(v.chunkPages) {
		v.mu.Unlock()
		return fmt.Errorf("chunked: range chunk %d: out of range", chunkIndex)
	}
	pageID := v.chunkPages[chunkIndex]
	v.mu.Unlock()

	buf, err := v.pool.Pin(v.fid, pageID)
	if err != nil {
		return fmt.Errorf("chunked: range chunk %d: %w", chunkIndex, err)
	}

	for slot := 0; slot < v.slotsPerChunk; slot++ {
		if !testBit(buf, slot) {
			continue
		}
		rec := recordBytes(buf, v.bitmapBytes, v.recordSize, slot)
		val := v.codec.Decode(rec)
		if !fn(v.offset(chunkIndex, slot), val) {
			break
		}
	}

	return v.pool.Unpin(v.fid, pageID, false)
}

// Range visits every occupied slot in ascending offset order until fn
// returns false.
func (v *Vector[T]) Range(fn func(offset uint64, val T) bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for ci, pageID := range v.chunkPages {
		buf, err := v.pool.Pin(v.fid, pageID)
		if err != nil {
			return fmt.Errorf("chunked: range: %w", err)
		}

		for slot := 0; slot < v.slotsPerChunk; slot++ {
			if !testBit(buf, slot) {
				continue
			}
			rec := recordBytes(buf, v.bitmapBytes, v.recordSize, slot)
			val := v.codec.Decode(rec)
			if !fn(v.offset(ci, slot), val) {
				v.pool.Unpin(v.fid, pageID, false)
				return nil
			}
		}

		if err := v.pool.Unpin(v.fid, pageID, false); err != nil {
			return err
		}
	}

	return nil
}

func (v *Vector[T]) offset(chunkIndex, slot int) uint64 {
	return uint64(chunkIndex)*uint64(v.slotsPerChunk) + uint64(slot)
}

func (v *Vector[T]) split(offset uint64) (chunkIndex, slot int) {
	return int(offset / uint64(v.slotsPerChunk)), int(offset % uint64(v.slotsPerChunk))
}

func (v *Vector[T]) anyFreeChunk() (int, bool) {
	best, found := 0, false
	for ci := range v.freeChunks {
		if !found || ci < best {
			best, found = ci, true
		}
	}
	return best, found
}

func (v *Vector[T]) growChunk() (int, error) {
	pageID, err := v.pf.AllocatePage()
	if err != nil {
		return 0, fmt.Errorf("chunked: grow: %w", err)
	}

	buf, err := v.pool.Pin(v.fid, pageID)
	if err != nil {
		return 0, fmt.Errorf("chunked: grow: %w", err)
	}
	for i := range buf {
		buf[i] = 0
	}
	if err := v.pool.Unpin(v.fid, pageID, true); err != nil {
		return 0, err
	}

	ci := len(v.chunkPages)
	v.chunkPages = append(v.chunkPages, pageID)
	v.freeChunks[ci] = struct{}{}

	return ci, v.saveChunkTable()
}

func (v *Vector[T]) firstFreeSlotLocked(ci int) (int, error) {
	buf, err := v.pool.Pin(v.fid, v.chunkPages[ci])
	if err != nil {
		return 0, err
	}
	defer v.pool.Unpin(v.fid, v.chunkPages[ci], false)

	for slot := 0; slot < v.slotsPerChunk; slot++ {
		if !testBit(buf, slot) {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("chunked: chunk %d has no free slot despite being marked free", ci)
}

func (v *Vector[T]) writeSlotLocked(ci, slot int, val T, dirty bool) error {
	buf, err := v.pool.Pin(v.fid, v.chunkPages[ci])
	if err != nil {
		return err
	}

	setBit(buf, slot)
	v.codec.Encode(val, recordBytes(buf, v.bitmapBytes, v.recordSize, slot))

	if !chunkHasFreeSlot(buf, v.bitmapBytes, v.slotsPerChunk) {
		delete(v.freeChunks, ci)
	} else {
		v.freeChunks[ci] = struct{}{}
	}

	return v.pool.Unpin(v.fid, v.chunkPages[ci], dirty)
}

func (v *Vector[T]) scanChunkFreeSlots(ci int) error {
	buf, err := v.pool.Pin(v.fid, v.chunkPages[ci])
	if err != nil {
		return err
	}
	defer v.pool.Unpin(v.fid, v.chunkPages[ci], false)

	if chunkHasFreeSlot(buf, v.bitmapBytes, v.slotsPerChunk) {
		v.freeChunks[ci] = struct{}{}
	}
	return nil
}

// Chunk table persistence: the file payload holds a count followed by
// that many little-endian uint64 page ids, in chunk-index order.
func (v *Vector[T]) saveChunkTable() error {
	buf := make([]byte, 8+8*len(v.chunkPages))
	binary.LittleEndian.PutUint64(buf, uint64(len(v.chunkPages)))
	for i, pid := range v.chunkPages {
		binary.LittleEndian.PutUint64(buf[8+8*i:], pid)
	}
	return v.pf.SetPayload(buf)
}

func (v *Vector[T]) loadChunkTable() error {
	buf := v.pf.Payload()
	if len(buf) < 8 {
		v.chunkPages = nil
		return nil
	}
	n := binary.LittleEndian.Uint64(buf)
	pages := make([]uint64, n)
	for i := range pages {
		pages[i] = binary.LittleEndian.Uint64(buf[8+8*i:])
	}
	v.chunkPages = pages
	return nil
}

func recordBytes(page []byte, bitmapBytes, recordSize, slot int) []byte {
	start := bitmapBytes + slot*recordSize
	return page[start : start+recordSize]
}

func testBit(page []byte, slot int) bool {
	return page[slot/8]&(1<<(slot%8)) != 0
}

func setBit(page []byte, slot int) {
	page[slot/8] |= 1 << (slot % 8)
}

func clearBit(page []byte, slot int) {
	page[slot/8] &^= 1 << (slot % 8)
}

func chunkHasFreeSlot(page []byte, bitmapBytes, slotsPerChunk int) bool {
	for slot := 0; slot < slotsPerChunk; slot++ {
		if !testBit(page, slot) {
			return true
		}
	}
	return false
}
