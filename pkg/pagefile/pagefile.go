// Package pagefile implements a paged on-disk file: a fixed-size header
// (magic, file-type tag, page size, a slot-allocation bitmap, and a
// small opaque payload owned by the caller) followed by fixed-size data
// pages addressed by a 1-based page id.
//
// A File is the unit the buffer pool registers and pins pages against;
// pagefile itself does no caching, only allocation bookkeeping and raw
// page I/O.
package pagefile

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/polyhedra-labs/poseidongo/pkg/fs"
)

// Options configures a new or reopened paged file.
type Options struct {
	// FileType is a caller-defined tag distinguishing kinds of paged
	// files (node table, relationship table, dictionary pool, ...).
	// Ignored when reopening an existing file; the file's own recorded
	// FileType is authoritative and checked against this value if it is
	// non-zero.
	FileType uint32

	// PageSize is the size in bytes of each data page. Defaults to
	// DefaultPageSize when zero. Ignored (and validated against the
	// file's own recorded size) when reopening an existing file.
	PageSize uint32

	// Capacity bounds the number of addressable page ids. Defaults to
	// DefaultCapacity when zero. Ignored when reopening an existing
	// file.
	Capacity uint64

	// PayloadCap bounds the caller-opaque payload blob. Defaults to
	// DefaultPayloadCap when zero. Ignored when reopening an existing
	// file.
	PayloadCap uint32

	// OnOpen, if non-nil, is invoked with the payload recorded in an
	// existing file's header immediately after Open reads it, so a
	// caller (the dictionary's pool, a B-tree's root pointer) can
	// restore its own state. Never called when creating a new file.
	OnOpen func(payload []byte) error
}

// File is an open paged file.
type File struct {
	mu sync.Mutex

	fsys fs.File
	lock *lockGuard

	pageSize   uint32
	capacity   uint64
	fileType   uint32
	headerSize uint32

	highWater uint64 // 1 + highest page id ever allocated
	bmp       *bitmap
	bmpBuf    []byte

	payloadCap uint32
	payloadLen uint32
	payload    []byte

	allocHint uint64
	closed    bool
}

// Create creates a new paged file at path, which must not already
// exist.
func Create(fsys fs.FS, path string, opts Options) (*File, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.PayloadCap == 0 {
		opts.PayloadCap = DefaultPayloadCap
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagefile: create %s: %w", path, err)
	}

	lock, err := acquireExclusive(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	bmpLen := bitmapBytes(opts.Capacity)
	headerSize := align(fixedHeaderSize+bmpLen+opts.PayloadCap, opts.PageSize)

	pf := &File{
		fsys:       f,
		lock:       lock,
		pageSize:   opts.PageSize,
		capacity:   opts.Capacity,
		fileType:   opts.FileType,
		headerSize: headerSize,
		bmpBuf:     make([]byte, bmpLen),
		payloadCap: opts.PayloadCap,
		payload:    make([]byte, opts.PayloadCap),
	}
	pf.bmp = newBitmap(pf.bmpBuf, opts.Capacity)

	if err := pf.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("pagefile: sync new file: %w", err)
	}

	return pf, nil
}

// Open opens an existing paged file at path.
func Open(fsys fs.FS, path string, opts Options) (*File, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagefile: open %s: %w", path, err)
	}

	lock, err := acquireExclusive(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	fixedBuf := make([]byte, fixedHeaderSize)
	if _, err := readAt(f, fixedBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("pagefile: read header %s: %w", path, err)
	}
	if !validMagic(fixedBuf) {
		f.Close()
		return nil, fmt.Errorf("pagefile: %s: %w", path, ErrBadMagic)
	}
	if !validateHeaderCRC(fixedBuf) {
		f.Close()
		return nil, fmt.Errorf("pagefile: %s: %w", path, ErrHeaderCRC)
	}

	h := decodeHeader(fixedBuf)
	if opts.PageSize != 0 && opts.PageSize != h.PageSize {
		f.Close()
		return nil, fmt.Errorf("pagefile: %s: %w", path, ErrPageSizeMismatch)
	}
	if opts.FileType != 0 && opts.FileType != h.FileType {
		f.Close()
		return nil, fmt.Errorf("pagefile: %s: file type %d, want %d", path, h.FileType, opts.FileType)
	}

	bmpBuf := make([]byte, bitmapBytes(h.Capacity))
	if _, err := readAt(f, bmpBuf, int64(h.BitmapOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("pagefile: read bitmap %s: %w", path, err)
	}

	payload := make([]byte, h.PayloadCap)
	if h.PayloadLen > 0 {
		if _, err := readAt(f, payload[:h.PayloadLen], int64(h.PayloadOffset)); err != nil {
			f.Close()
			return nil, fmt.Errorf("pagefile: read payload %s: %w", path, err)
		}
	}

	pf := &File{
		fsys:       f,
		lock:       lock,
		pageSize:   h.PageSize,
		capacity:   h.Capacity,
		fileType:   h.FileType,
		headerSize: h.HeaderSize,
		highWater:  h.PageHighWater,
		bmpBuf:     bmpBuf,
		payloadCap: h.PayloadCap,
		payloadLen: h.PayloadLen,
		payload:    payload,
	}
	pf.bmp = newBitmap(pf.bmpBuf, h.Capacity)

	if opts.OnOpen != nil {
		if err := opts.OnOpen(payload[:h.PayloadLen]); err != nil {
			f.Close()
			return nil, fmt.Errorf("pagefile: OnOpen %s: %w", path, err)
		}
	}

	return pf, nil
}

// PageSize reports the file's fixed data page size in bytes.
func (f *File) PageSize() uint32 { return f.pageSize }

// FileType reports the caller-defined tag recorded when the file was
// created.
func (f *File) FileType() uint32 { return f.fileType }

// AllocatePage reserves a page id, reusing a freed slot when one exists,
// and returns its id. The page's contents are undefined until written.
func (f *File) AllocatePage() (pageID uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	id, ok := f.bmp.firstFree(f.allocHint)
	if !ok {
		return 0, ErrCapacityExceeded
	}

	f.bmp.set(id)
	f.allocHint = id
	if id >= f.highWater {
		f.highWater = id + 1
	}

	if err := f.writeHeaderLocked(); err != nil {
		f.bmp.clear(id)
		return 0, err
	}

	return id, nil
}

// FreePage releases a previously allocated page id for reuse. Its
// contents are not zeroed; callers that care do so themselves before
// freeing if the bytes might be observed by a later reader racing the
// free (the buffer pool serializes this in practice).
func (f *File) FreePage(pageID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if !f.inRange(pageID) || !f.bmp.test(pageID) {
		return fmt.Errorf("pagefile: free %d: %w", pageID, ErrOutOfRange)
	}

	f.bmp.clear(pageID)
	if pageID <= f.allocHint {
		f.allocHint = pageID - 1
	}

	return f.writeHeaderLocked()
}

// ReadPage reads the full contents of an allocated page into buf, which
// must be at least PageSize bytes.
func (f *File) ReadPage(pageID uint64, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if !f.inRange(pageID) || !f.bmp.test(pageID) {
		return fmt.Errorf("pagefile: read %d: %w", pageID, ErrOutOfRange)
	}

	_, err := readAt(f.fsys, buf[:f.pageSize], f.pageOffset(pageID))
	if err != nil {
		return fmt.Errorf("pagefile: read %d: %w", pageID, err)
	}
	return nil
}

// WritePage writes the full contents of buf (at least PageSize bytes) to
// an allocated page. The write is not fsynced; callers that need
// durability call Sync explicitly.
func (f *File) WritePage(pageID uint64, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if !f.inRange(pageID) || !f.bmp.test(pageID) {
		return fmt.Errorf("pagefile: write %d: %w", pageID, ErrOutOfRange)
	}

	if _, err := f.fsys.Seek(f.pageOffset(pageID), io.SeekStart); err != nil {
		return fmt.Errorf("pagefile: write %d: %w", pageID, err)
	}
	if _, err := f.fsys.Write(buf[:f.pageSize]); err != nil {
		return fmt.Errorf("pagefile: write %d: %w", pageID, err)
	}
	return nil
}

// Scan invokes fn once per currently allocated page id, in ascending
// order, until fn returns false or every allocated page has been
// visited.
func (f *File) Scan(fn func(pageID uint64) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id := uint64(1); id < f.highWater; id++ {
		if !f.bmp.test(id) {
			continue
		}
		if !fn(id) {
			return
		}
	}
}

// Payload returns a copy of the caller-opaque payload currently recorded
// in the header.
func (f *File) Payload() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, f.payloadLen)
	copy(out, f.payload[:f.payloadLen])
	return out
}

// SetPayload replaces the caller-opaque payload and persists the header
// immediately.
func (f *File) SetPayload(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if uint32(len(payload)) > f.payloadCap {
		return ErrPayloadTooLarge
	}

	copy(f.payload, payload)
	f.payloadLen = uint32(len(payload))

	return f.writeHeaderLocked()
}

// Sync flushes buffered writes to stable storage.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	return f.fsys.Sync()
}

// Close releases the file's advisory lock and closes its descriptor.
// Close is idempotent.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	unlockErr := f.lock.release()
	closeErr := f.fsys.Close()

	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}

func (f *File) inRange(pageID uint64) bool {
	return pageID >= 1 && pageID <= f.capacity
}

func (f *File) pageOffset(pageID uint64) int64 {
	return int64(f.headerSize) + int64(pageID-1)*int64(f.pageSize)
}

func (f *File) writeHeader() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeHeaderLocked()
}

// writeHeaderLocked persists the fixed header, the bitmap, and the
// payload. Callers hold f.mu.
func (f *File) writeHeaderLocked() error {
	h := header{
		Version:       psdnVersion,
		HeaderSize:    f.headerSize,
		PageSize:      f.pageSize,
		FileType:      f.fileType,
		Capacity:      f.capacity,
		PageHighWater: f.highWater,
		PayloadLen:    f.payloadLen,
		PayloadCap:    f.payloadCap,
		BitmapOffset:  fixedHeaderSize,
		PayloadOffset: fixedHeaderSize + uint64(len(f.bmpBuf)),
	}

	buf := encodeHeader(h)
	if _, err := f.fsys.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pagefile: write header: %w", err)
	}
	if _, err := f.fsys.Write(buf); err != nil {
		return fmt.Errorf("pagefile: write header: %w", err)
	}
	if _, err := f.fsys.Write(f.bmpBuf); err != nil {
		return fmt.Errorf("pagefile: write bitmap: %w", err)
	}
	if f.payloadLen > 0 {
		if _, err := f.fsys.Write(f.payload[:f.payloadLen]); err != nil {
			return fmt.Errorf("pagefile: write payload: %w", err)
		}
	}

	return nil
}

// readAt seeks to off and reads len(buf) bytes, since pkg/fs.File
// exposes Seek+Read rather than ReadAt.
func readAt(f fs.File, buf []byte, off int64) (int, error) {
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n := 0
	for n < len(buf) {
		m, err := f.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			break
		}
	}
	return n, nil
}
