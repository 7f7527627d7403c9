package graphdb

// IsVisible reports whether a version stamped with m is visible to a
// transaction whose own xid is txXID, under snapshot isolation: a
// transaction sees every version committed before it started, plus its
// own uncommitted writes, and nothing concurrent with or newer than it.
//
// Grounded on the IsVisible walk in the tinySQL MVCC example
// (created-by-self check, then creator commit-status/timestamp check,
// then deleter commit-status/timestamp check), adapted to poseidon's
// single-timestamp xid scheme: there is no separate StartTime/CommitTS
// pair, BTS and CTS both name the same counter.
func IsVisible(m Meta, txXID uint64) bool {
	if m.BTS == txXID {
		// Created by this transaction: visible unless this transaction
		// itself deleted it.
		return m.RTS != txXID
	}

	if m.CTS == 0 {
		// Created by another transaction that hasn't committed yet.
		return false
	}
	if m.CTS > txXID {
		// Committed after our snapshot was taken.
		return false
	}
	if m.RTS != 0 && m.RTS <= txXID {
		// Deleted at or before our snapshot.
		return false
	}
	return true
}

// PrepareWrite checks whether txXID may create a new version chained
// off a record currently stamped with m, returning ErrWriteConflict
// when it may not.
//
// poseidon aborts eagerly rather than blocking (no-wait): a write
// racing an in-flight writer, or arriving after a newer version has
// already committed, fails immediately so the caller can retry in a
// fresh transaction instead of queuing behind the other writer.
func PrepareWrite(m Meta, txXID uint64) error {
	if m.BTS == txXID {
		// This transaction already owns the latest version (a second
		// write to the same record within one transaction).
		return nil
	}
	if m.CTS == 0 {
		return ErrWriteConflict
	}
	if m.CTS > txXID {
		return ErrWriteConflict
	}
	return nil
}
