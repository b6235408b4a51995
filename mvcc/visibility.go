package mvcc

// Visible is the Visibility Oracle (component E, §4.E): a pure function of
// a CellView and a reading Transaction, with no hidden state of its own.
// It returns (value, true) when some version of the row is visible to txn,
// or (nil, false) — SIGHTLESS — when none is.
//
// Replaces the teacher's per-isolation readUncommitted/readCommitted/
// repeatableRead/serializableRead methods in transaction/isolation.go
// (which mixed storage access and policy) with a single contract shared by
// point reads and cursor iteration alike.
func Visible(view CellView, txn *Transaction) (*cellValue, bool) {
	lock := view.Lock

	// A transaction always sees its own in-flight write.
	if lock != nil && lock.Owner == txn {
		return view.Value, true
	}

	switch txn.Isolation() {
	case ReadUncommitted:
		return view.Value, true

	case ReadCommitted:
		if lock == nil {
			return view.Value, true
		}
		if lock.Owner.IsCommitted() {
			return view.Value, true
		}
		if lock.PreImage == nil {
			return nil, false
		}
		return lock.PreImage, true

	case RepeatableRead, Serializable:
		return visibleToSnapshot(view, txn.ID())

	default:
		return nil, false
	}
}

// visibleToSnapshot implements the repeatable-read/serializable branch:
// the reader's own transaction id stands in for its read-view id (the
// snapshot taken at BEGIN). It first checks whether the cell's current
// committed value was already committed before the reader's snapshot, then
// falls back to walking the old-value chain, and finally the in-flight
// lock's pre-image, before declaring SIGHTLESS.
func visibleToSnapshot(view CellView, readViewID uint64) (*cellValue, bool) {
	lock := view.Lock

	if lock != nil && lock.Owner.IsCommitted() && readViewID >= lock.Owner.CommitTimestamp() {
		return view.Value, true
	}
	if lock == nil && readViewID >= view.Value.Tid {
		return view.Value, true
	}

	for node := view.OldHead; node != nil; node = node.Next {
		if node.Tid <= readViewID {
			return node.Value, true
		}
	}

	if lock != nil && lock.PreImage != nil {
		return lock.PreImage, true
	}
	return nil, false
}
