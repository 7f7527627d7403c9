package graphdb

import "errors"

// Sentinel errors. This package returns them directly or wrapped with
// fmt.Errorf("%w", ...); errors from the storage layers underneath pass
// through with their own types. Callers compare with errors.Is.
var (
	// ErrNodeNotFound is returned when a node id has no version visible
	// to the requesting transaction.
	ErrNodeNotFound = errors.New("graphdb: node not found")

	// ErrRelationshipNotFound is returned when a relationship id has no
	// version visible to the requesting transaction.
	ErrRelationshipNotFound = errors.New("graphdb: relationship not found")

	// ErrWriteConflict is returned by an operation that would write a
	// record another in-flight or more-recently-committed transaction
	// has already written. The caller's transaction must abort; poseidon
	// never blocks or retries on a writer's behalf (no-wait abort).
	ErrWriteConflict = errors.New("graphdb: write-write conflict, transaction must abort")

	// ErrTxNotActive is returned by Commit/Abort/any write called
	// against a transaction that has already committed or aborted.
	ErrTxNotActive = errors.New("graphdb: transaction is not active")

	// ErrWALCorrupt is returned by WAL.Scan, and so by recovery, when a
	// frame with more log after it fails its checksum, or a record is too
	// short to hold its fixed prefix.
	ErrWALCorrupt = errors.New("graphdb: write-ahead log is corrupt")

	// ErrClosed is returned by Store.Begin once Close has been called.
	ErrClosed = errors.New("graphdb: store is closed")

	// ErrIndexNotFound is returned when a secondary index lookup names
	// a label/property pair with no registered index.
	ErrIndexNotFound = errors.New("graphdb: no index registered for that label/property")
)
