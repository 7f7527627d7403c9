package graphdb

import "sync/atomic"

// Metrics is a set of lightweight, lock-free counters a Store keeps
// alongside its buffer-pool hit ratio, for print_stats and for tests
// that want to assert on commit/abort counts without threading a mock
// transaction manager through.
type Metrics struct {
	commits uint64
	aborts  uint64
	vacuums uint64
}

func (m *Metrics) recordCommit() { atomic.AddUint64(&m.commits, 1) }
func (m *Metrics) recordAbort()  { atomic.AddUint64(&m.aborts, 1) }
func (m *Metrics) recordVacuum() { atomic.AddUint64(&m.vacuums, 1) }

// Commits reports the number of transactions committed so far.
func (m *Metrics) Commits() uint64 { return atomic.LoadUint64(&m.commits) }

// Aborts reports the number of transactions aborted so far.
func (m *Metrics) Aborts() uint64 { return atomic.LoadUint64(&m.aborts) }

// Vacuums reports the number of times a dirty-chain reclamation pass
// has run.
func (m *Metrics) Vacuums() uint64 { return atomic.LoadUint64(&m.vacuums) }
