package graphdb

import "testing"

func TestIsVisibleOwnUncommittedWrite(t *testing.T) {
	m := Meta{BTS: 5, CTS: 0, RTS: 0}
	if !IsVisible(m, 5) {
		t.Fatal("a transaction must see its own uncommitted write")
	}
}

func TestIsVisibleOwnDelete(t *testing.T) {
	m := Meta{BTS: 5, CTS: 0, RTS: 5}
	if IsVisible(m, 5) {
		t.Fatal("a transaction must not see a record it deleted itself")
	}
}

func TestIsVisibleUncommittedOther(t *testing.T) {
	m := Meta{BTS: 5, CTS: 0}
	if IsVisible(m, 6) {
		t.Fatal("another transaction's uncommitted write must stay invisible")
	}
}

func TestIsVisibleCommittedBeforeSnapshot(t *testing.T) {
	m := Meta{BTS: 5, CTS: 5}
	if !IsVisible(m, 6) {
		t.Fatal("a version committed before the reader's snapshot must be visible")
	}
}

func TestIsVisibleCommittedAfterSnapshot(t *testing.T) {
	m := Meta{BTS: 7, CTS: 7}
	if IsVisible(m, 6) {
		t.Fatal("a version committed after the reader's snapshot must stay invisible")
	}
}

func TestIsVisibleDeletedAtOrBeforeSnapshot(t *testing.T) {
	m := Meta{BTS: 1, CTS: 1, RTS: 6}
	if IsVisible(m, 6) {
		t.Fatal("a version deleted at or before the reader's snapshot must be invisible")
	}
	if !IsVisible(m, 5) {
		t.Fatal("a version deleted after the reader's snapshot must still be visible")
	}
}

func TestPrepareWriteSameTransaction(t *testing.T) {
	m := Meta{BTS: 5, CTS: 0}
	if err := PrepareWrite(m, 5); err != nil {
		t.Fatalf("a transaction must be able to write its own version again: %v", err)
	}
}

func TestPrepareWriteConflictsWithUncommitted(t *testing.T) {
	m := Meta{BTS: 5, CTS: 0}
	if err := PrepareWrite(m, 6); err == nil {
		t.Fatal("writing over another transaction's uncommitted version must conflict")
	}
}

func TestPrepareWriteConflictsWithNewerCommit(t *testing.T) {
	m := Meta{BTS: 9, CTS: 9}
	if err := PrepareWrite(m, 6); err == nil {
		t.Fatal("writing over a version committed after the writer began must conflict")
	}
}

func TestPrepareWriteAllowsOlderCommit(t *testing.T) {
	m := Meta{BTS: 1, CTS: 1}
	if err := PrepareWrite(m, 6); err != nil {
		t.Fatalf("writing over an older committed version must be allowed: %v", err)
	}
}
