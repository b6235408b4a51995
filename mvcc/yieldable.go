package mvcc

import (
	"mvccdb/dberrors"
	"mvccdb/storage"
)

type loopState int32

const (
	stateStart loopState = iota
	stateExecute
	stateStop
)

// Row is one candidate row a Yieldable considers.
type Row struct {
	Key   string
	Value []byte
}

// RowHandler supplies the statement-specific behavior a Yieldable drives:
// the WHERE predicate, BEFORE triggers, and the actual delete/update/insert
// mutation.
type RowHandler interface {
	// Filter reports whether row matches the statement's predicate.
	Filter(row Row) bool
	// Before runs BEFORE triggers; returning false vetoes the mutation for
	// this row without stopping the statement.
	Before(row Row) bool
	// Mutate performs the row's mutation and returns its new value. For a
	// delete, the returned Row's Value is ignored.
	Mutate(row Row) (Row, error)
}

// Yieldable drives one DML statement to completion across row-lock
// conflicts and cooperative yield points (component G, §4.G), modeled as an
// explicit {START, EXECUTE, STOP} state machine with a resume anchor
// instead of a blocking loop — grounded on the teacher's worker-pool idiom
// in pkg/concurrency/goroutine_manager.go, repurposed from generic work
// dispatch to a single yieldable statement per session.
type Yieldable struct {
	txn     *Transaction
	tmap    *TransactionMap
	kind    StatementKind
	handler RowHandler
	limit   int
	cancel  func() bool

	cur storage.Cursor // nil for StmtInsert

	insertRow  Row
	insertDone bool

	pendingRow  Row
	pendingCell *Cell
	hasPending  bool

	state    loopState
	updated  int
	rowCount int
	lastErr  error

	blockedCell *Cell
	waiting     bool
}

// NewScanYieldable drives a DELETE or UPDATE over the key range [lo, hi) of
// tmap. limit of 0 means unbounded.
func NewScanYieldable(txn *Transaction, tmap *TransactionMap, kind StatementKind, lo, hi string, handler RowHandler, limit int, cancel func() bool) *Yieldable {
	return &Yieldable{
		txn: txn, tmap: tmap, kind: kind, handler: handler, limit: limit, cancel: cancel,
		cur: tmap.store.Cursor(lo, hi),
	}
}

// NewInsertYieldable drives a single-row INSERT. Inserts go through the
// same lock-conflict/suspend machinery as scans because two transactions
// can race to insert the same new key.
func NewInsertYieldable(txn *Transaction, tmap *TransactionMap, row Row, handler RowHandler) *Yieldable {
	return &Yieldable{txn: txn, tmap: tmap, kind: StmtInsert, handler: handler, insertRow: row}
}

// abandonPending gives up on the row currently suspended on a lock
// conflict, so the statement reports itself stopped the next time Run is
// called instead of retrying it.
func (y *Yieldable) abandonPending() {
	y.hasPending = false
	y.pendingCell = nil
	y.waiting = false
	y.state = stateStop
}

// Back clears the suspended-on-lock marker so the next Run call resumes at
// the pending row instead of the scheduler mistaking it for still blocked.
// The pending row itself stays recorded in pendingRow/pendingCell/hasPending
// until Run re-fetches and re-filters it.
func (y *Yieldable) Back() {
	y.waiting = false
	y.blockedCell = nil
}

// Err returns the error that stopped the statement, if any.
func (y *Yieldable) Err() error { return y.lastErr }

// BlockedKey returns the key of the row currently blocking the statement,
// valid only while Run has returned true with waiting behavior.
func (y *Yieldable) BlockedKey() string { return y.pendingRow.Key }

// RowsAffected returns how many rows were successfully mutated so far.
func (y *Yieldable) RowsAffected() int { return y.updated }

func (y *Yieldable) next() (Row, *Cell, bool) {
	if y.kind == StmtInsert {
		if y.insertDone {
			return Row{}, nil, false
		}
		y.insertDone = true
		cell, _ := y.tmap.cellFor(y.insertRow.Key)
		return y.insertRow, cell, true
	}
	for {
		key, raw, ok := y.cur.Next()
		if !ok {
			return Row{}, nil, false
		}
		cell := raw.(*Cell)
		view := y.txn.engine.View(cell)
		val, visible := Visible(view, y.txn)
		if !visible || val.Deleted {
			continue
		}
		return Row{Key: key, Value: val.Bytes}, cell, true
	}
}

// Run advances the statement until it either finishes (returns false) or
// must suspend (returns true) — either because a row lock is held by
// another transaction (y.waiting is true, and the caller should register a
// waiter with the Scheduler) or because it hit a cooperative yield point
// with no conflict (y.waiting is false, and the caller should simply call
// Run again).
func (y *Yieldable) Run() bool {
	for {
		switch y.state {
		case stateStart:
			y.state = stateExecute

		case stateExecute:
			var row Row
			var cell *Cell
			if y.hasPending {
				row, cell = y.pendingRow, y.pendingCell
				y.hasPending = false
				view := y.txn.engine.View(cell)
				val, visible := Visible(view, y.txn)
				if !visible || val.Deleted {
					continue
				}
				row.Value = val.Bytes
			} else {
				var ok bool
				row, cell, ok = y.next()
				if !ok {
					y.state = stateStop
					continue
				}
			}

			if !y.handler.Filter(row) {
				continue
			}

			sp := y.txn.GetSavepointId()
			if !TryLock(cell, y.txn, y.kind == StmtInsert) {
				y.txn.discardLastSavepoint()
				y.pendingRow, y.pendingCell, y.hasPending = row, cell, true
				y.waiting = true
				y.blockedCell = cell
				return true
			}

			if !y.handler.Before(row) {
				_ = y.txn.RollbackToSavepoint(sp)
				continue
			}

			newRow, err := y.handler.Mutate(row)
			if err != nil {
				y.lastErr = err
				if dberrors.Is(err, dberrors.Deadlock) {
					_ = y.txn.Rollback()
				} else {
					_ = y.txn.RollbackToSavepoint(sp)
				}
				y.state = stateStop
				continue
			}

			if y.kind == StmtDelete {
				cell.setValue(deletedValue())
			} else {
				cell.setValue(liveValue(newRow.Value))
			}
			y.updated++
			y.rowCount++

			if y.limit > 0 && y.updated >= y.limit {
				y.state = stateStop
				continue
			}
			if y.rowCount%y.txn.engine.yieldEveryNRows == 0 {
				if y.cancel != nil && y.cancel() {
					_ = y.txn.RollbackToSavepoint(sp)
					y.lastErr = dberrors.New(dberrors.Internal, "Yieldable", "statement canceled")
					y.state = stateStop
					continue
				}
				y.waiting = false
				return true
			}

		case stateStop:
			return false
		}
	}
}
