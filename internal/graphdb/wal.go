// Write-ahead log. Every mutation appends a fixed-prefix record before
// its effect becomes visible to other transactions; commit forces an
// fsync so a crash after a commit record hits disk can always redo it.
//
// Framing and the append-then-fsync-on-commit discipline are grounded
// on internal/store/wal.go's footer+CRC32-Castagnoli approach and on
// the length/offset/CRC recipe documented in
// other_examples/a40e24dc_LeeNgari-RDBMS__internal-wal-writer.go.go
// ("acquire mutex, allocate LSN, encode payload, CRC32, write
// header+payload, advance offset, release mutex — fsync only on
// Sync/Commit, never on every append").
package graphdb

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/polyhedra-labs/poseidongo/pkg/fs"
)

const openWALFlags = os.O_RDWR | os.O_CREATE

// LogType tags what kind of event a WAL record describes.
type LogType uint8

const (
	LogBegin LogType = iota
	LogCommit
	LogAbort
	LogWrite
	LogCheckpoint
)

// ObjType tags which table a LogWrite record's payload belongs to.
// Meaningless (and always ObjNone) for non-LogWrite records.
type ObjType uint8

const (
	ObjNone ObjType = iota
	ObjNode
	ObjRelationship
	ObjProperty
	ObjDict
)

// recordPrefixSize is the length in bytes of every record's fixed
// prefix: log_type(1) + obj_type(1) + lsn(8) + xid(8) + prev_offset(8).
const recordPrefixSize = 1 + 1 + 8 + 8 + 8

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Record is one decoded WAL entry.
type Record struct {
	Kind       LogType
	ObjType    ObjType
	LSN        uint64 // this record's own frame offset
	XID        uint64
	PrevOffset uint64 // LSN of the previous record this transaction wrote, or NoOffset
	Payload    []byte
}

// WAL is an append-only log file.
type WAL struct {
	mu     sync.Mutex
	f      fs.File
	offset int64
}

// OpenWAL opens (creating if necessary) the log file at path and
// positions the append cursor at its current end.
func OpenWAL(fsys fs.FS, path string) (*WAL, error) {
	f, err := fsys.OpenFile(path, openWALFlags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("graphdb: open wal %s: %w", path, err)
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("graphdb: seek wal %s: %w", path, err)
	}

	return &WAL{f: f, offset: end}, nil
}

// Append writes one record and returns its LSN (its own frame's start
// offset, used as the prev_offset of whatever this transaction appends
// next). Only LogCommit forces an fsync; every other record relies on
// a later commit (or an explicit Sync) to reach stable storage.
func (w *WAL) Append(kind LogType, objType ObjType, xid, prevOffset uint64, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := uint64(w.offset)

	body := make([]byte, recordPrefixSize+len(payload))
	body[0] = byte(kind)
	body[1] = byte(objType)
	binary.LittleEndian.PutUint64(body[2:], lsn)
	binary.LittleEndian.PutUint64(body[10:], xid)
	binary.LittleEndian.PutUint64(body[18:], prevOffset)
	copy(body[recordPrefixSize:], payload)

	crc := crc32.Checksum(body, crcTable)

	frame := make([]byte, 4+len(body)+4)
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(body)))
	copy(frame[4:], body)
	binary.LittleEndian.PutUint32(frame[4+len(body):], crc)

	if _, err := w.f.Write(frame); err != nil {
		return 0, fmt.Errorf("graphdb: wal append: %w", err)
	}
	w.offset += int64(len(frame))

	if kind == LogCommit {
		if err := w.f.Sync(); err != nil {
			return 0, fmt.Errorf("graphdb: wal fsync on commit: %w", err)
		}
	}

	return lsn, nil
}

// Sync forces any buffered writes to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Sync()
}

// Close closes the underlying log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Scan replays every well-formed record from the start of the log, in
// append order, invoking fn with each. A frame cut short by the end of
// the file, or a checksum-mismatched last frame — the expected shape of
// a crash mid-append — ends the scan without error rather than failing
// it; a checksum mismatch with more log after it, or a record too short
// for its fixed prefix, surfaces as ErrWALCorrupt.
func (w *WAL) Scan(fn func(Record) bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("graphdb: wal scan: %w", err)
	}

	lenBuf := make([]byte, 4)
	frameOffset := int64(0)

	for {
		n, err := io.ReadFull(w.f, lenBuf)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				break // truncated length prefix: crash mid-append
			}
			return fmt.Errorf("graphdb: wal scan: %w", err)
		}

		bodyLen := binary.LittleEndian.Uint32(lenBuf)
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(w.f, body); err != nil {
			break // truncated body: crash mid-append
		}

		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(w.f, crcBuf); err != nil {
			break // truncated checksum: crash mid-append
		}

		if binary.LittleEndian.Uint32(crcBuf) != crc32.Checksum(body, crcTable) {
			if n, _ := w.f.Read(make([]byte, 1)); n == 0 {
				break // last frame never finished landing on disk
			}
			return fmt.Errorf("graphdb: wal scan at %d: %w", frameOffset, ErrWALCorrupt)
		}
		if len(body) < recordPrefixSize {
			return fmt.Errorf("graphdb: wal scan at %d: %w", frameOffset, ErrWALCorrupt)
		}

		rec := Record{
			Kind:       LogType(body[0]),
			ObjType:    ObjType(body[1]),
			LSN:        binary.LittleEndian.Uint64(body[2:]),
			XID:        binary.LittleEndian.Uint64(body[10:]),
			PrevOffset: binary.LittleEndian.Uint64(body[18:]),
			Payload:    body[recordPrefixSize:],
		}

		if !fn(rec) {
			return nil
		}

		frameOffset += int64(4 + len(body) + 4)
	}

	return nil
}

// Truncate discards the entire log, used once a checkpoint has made
// every prior record's effect durable in the tables themselves.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, ok := w.f.(interface{ Truncate(size int64) error })
	if !ok {
		return fmt.Errorf("graphdb: wal truncate: underlying file does not support truncation")
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("graphdb: wal truncate: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("graphdb: wal truncate: %w", err)
	}
	w.offset = 0
	return nil
}
