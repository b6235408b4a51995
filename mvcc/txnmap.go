package mvcc

import (
	"mvccdb/dberrors"
	"mvccdb/storage"
)

// TransactionMap is a Transaction's binding to one named ordered key-value
// map (§6 Upward interfaces: "Transaction.openMap(name) binds to an
// ordered key-value map"). Point reads and writes go straight through the
// Visibility Oracle and Row-Lock Protocol; range access goes through
// Cursor, which shares the same visibility check.
type TransactionMap struct {
	name  string
	store storage.OrderedMap
	txn   *Transaction
}

// cellFor returns the Cell for key, creating a fresh (tombstoned) one if
// key has never been touched. existed reports whether a Cell already
// existed — used to decide whether a write is an insert or an update.
func (m *TransactionMap) cellFor(key string) (cell *Cell, existed bool) {
	v, existed := m.store.GetOrCreate(key, func() storage.Entry {
		return NewCell(deletedValue())
	})
	return v.(*Cell), existed
}

// Get performs a point read through the Visibility Oracle.
func (m *TransactionMap) Get(key string) (value []byte, ok bool) {
	v, existed := m.store.Get(key)
	if !existed {
		return nil, false
	}
	cell := v.(*Cell)
	view := m.txn.engine.View(cell)
	val, visible := Visible(view, m.txn)
	if !visible || val.Deleted {
		return nil, false
	}
	return val.Bytes, true
}

// Put inserts or updates key, acquiring its row lock for the duration of
// the transaction. Returns dberrors.ConcurrentUpdate if another
// transaction already holds the lock.
func (m *TransactionMap) Put(key string, value []byte) error {
	cell, existed := m.cellFor(key)
	if !TryLock(cell, m.txn, !existed) {
		return dberrors.New(dberrors.ConcurrentUpdate, "Put", "row %q is locked by another transaction", key)
	}
	cell.setValue(liveValue(value))
	return nil
}

// Remove deletes key, acquiring its row lock. Returns dberrors.Internal if
// the key was never present and dberrors.ConcurrentUpdate if another
// transaction already holds the lock.
func (m *TransactionMap) Remove(key string) error {
	cell, existed := m.cellFor(key)
	if !existed {
		return dberrors.New(dberrors.Internal, "Remove", "row %q does not exist", key)
	}
	if !TryLock(cell, m.txn, false) {
		return dberrors.New(dberrors.ConcurrentUpdate, "Remove", "row %q is locked by another transaction", key)
	}
	cell.setValue(deletedValue())
	return nil
}

// Cursor returns a forward range cursor over [lo, hi) that only yields
// rows visible to the transaction.
func (m *TransactionMap) Cursor(lo, hi string) *MapCursor {
	return &MapCursor{cur: m.store.Cursor(lo, hi), txn: m.txn}
}

// MapCursor iterates an ordered map's entries through the Visibility
// Oracle, skipping rows that are not visible (including tombstones) to the
// driving transaction.
type MapCursor struct {
	cur storage.Cursor
	txn *Transaction
}

// Next advances the cursor, returning the next visible row.
func (c *MapCursor) Next() (key string, value []byte, ok bool) {
	for {
		k, raw, more := c.cur.Next()
		if !more {
			return "", nil, false
		}
		cell := raw.(*Cell)
		view := c.txn.engine.View(cell)
		val, visible := Visible(view, c.txn)
		if !visible || val.Deleted {
			continue
		}
		return k, val.Bytes, true
	}
}
