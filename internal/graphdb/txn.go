// Transaction manager: begin/commit/abort, the active-transaction
// table, and the oldest-active watermark vacuum uses to decide which
// dirty-chain entries are safe to reclaim.
//
// Grounded on the tinySQL MVCCManager (atomic xid counter, an
// activeTxs map, a recomputed watermark) and on internal/store/tx.go's
// Begin/Commit/Rollback shape (acquire, buffer effects, commit writes
// the log record and forces it before anything else observes the
// change, rollback is idempotent).
package graphdb

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type txnState int32

const (
	txnActive txnState = iota
	txnCommitted
	txnAborted
)

// Txn is one in-flight (or just-finished) transaction. xid is assigned
// once, at Begin, from a single monotonic counter, and that same value
// is later stamped as every version's commit timestamp too — poseidon
// has no separate commit-timestamp counter.
type Txn struct {
	XID uint64

	mgr   *Manager
	state txnState
	mu    sync.Mutex

	lastLSN uint64 // LSN of this transaction's most recent WAL record

	onCommit []func(xid uint64) error
	onAbort  []func() error
}

// appendWAL writes a record on this transaction's behalf, chaining it
// to the transaction's previous record via prev_offset so recovery's
// undo pass can walk a loser's writes backward.
func (t *Txn) appendWAL(kind LogType, objType ObjType, payload []byte) (uint64, error) {
	lsn, err := t.mgr.wal.Append(kind, objType, t.XID, t.lastLSN, payload)
	if err != nil {
		return 0, err
	}
	t.lastLSN = lsn
	return lsn, nil
}

// recordCommitHook registers a closure run (in registration order)
// after the commit WAL record is durable, used to stamp CTS on every
// version this transaction created.
func (t *Txn) recordCommitHook(fn func(xid uint64) error) {
	t.onCommit = append(t.onCommit, fn)
}

// recordAbortHook registers a closure run (in reverse registration
// order) to undo one write, used to erase freshly appended records or
// restore an overwritten record's previous bytes.
func (t *Txn) recordAbortHook(fn func() error) {
	t.onAbort = append(t.onAbort, fn)
}

func (t *Txn) requireActive() error {
	if t.state != txnActive {
		return fmt.Errorf("graphdb: xid %d: %w", t.XID, ErrTxNotActive)
	}
	return nil
}

// Manager owns the active-transaction table and the write-ahead log
// every transaction appends to.
type Manager struct {
	mu      sync.Mutex
	nextXID uint64
	active  map[uint64]*Txn
	wal     *WAL
	Metrics Metrics
}

// NewManager returns a Manager whose first assigned xid is 1 (0 is
// reserved so a zero-value Meta.BTS unambiguously means "no version").
func NewManager(wal *WAL) *Manager {
	return &Manager{nextXID: 1, active: make(map[uint64]*Txn), wal: wal}
}

// Begin starts a new transaction and appends its begin marker to the
// write-ahead log.
func (m *Manager) Begin() (*Txn, error) {
	xid := atomic.AddUint64(&m.nextXID, 1) - 1

	t := &Txn{XID: xid, mgr: m, lastLSN: NoOffset}

	m.mu.Lock()
	m.active[xid] = t
	m.mu.Unlock()

	if _, err := t.appendWAL(LogBegin, ObjNone, nil); err != nil {
		m.mu.Lock()
		delete(m.active, xid)
		m.mu.Unlock()
		return nil, err
	}

	return t, nil
}

// Commit durably records the transaction's commit, then runs every
// registered commit hook (stamping CTS on the transaction's new
// versions) before releasing the transaction's xid from the active set.
func (m *Manager) Commit(t *Txn) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireActive(); err != nil {
		return err
	}

	if _, err := t.appendWAL(LogCommit, ObjNone, nil); err != nil {
		return fmt.Errorf("graphdb: commit xid %d: %w", t.XID, err)
	}

	for _, hook := range t.onCommit {
		if err := hook(t.XID); err != nil {
			return fmt.Errorf("graphdb: commit xid %d: stamping versions: %w", t.XID, err)
		}
	}

	t.state = txnCommitted
	m.mu.Lock()
	delete(m.active, t.XID)
	m.mu.Unlock()
	m.Metrics.recordCommit()

	return nil
}

// Abort undoes every write the transaction made, in reverse order, then
// records the abort and releases the transaction's xid.
func (m *Manager) Abort(t *Txn) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireActive(); err != nil {
		return err
	}

	for i := len(t.onAbort) - 1; i >= 0; i-- {
		if err := t.onAbort[i](); err != nil {
			return fmt.Errorf("graphdb: abort xid %d: %w", t.XID, err)
		}
	}

	if _, err := t.appendWAL(LogAbort, ObjNone, nil); err != nil {
		return fmt.Errorf("graphdb: abort xid %d: %w", t.XID, err)
	}

	t.state = txnAborted
	m.mu.Lock()
	delete(m.active, t.XID)
	m.mu.Unlock()
	m.Metrics.recordAbort()

	return nil
}

// ActiveCount reports how many transactions are currently active.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// OldestActiveXID returns the lowest xid of any still-active
// transaction, or the next xid to be assigned if none are active. A
// version whose RTS is older than this watermark can never be observed
// by any present or future transaction and is safe for vacuum to
// reclaim.
func (m *Manager) OldestActiveXID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldest := m.nextXID
	for xid := range m.active {
		if xid < oldest {
			oldest = xid
		}
	}
	return oldest
}
