package mvcc

import (
	"context"
	"sync"
	"sync/atomic"

	"mvccdb/dberrors"
)

// heldLock remembers, for each row a Transaction has locked, whether the
// lock represents a pure insert (so rollback should tombstone the row
// rather than restore a pre-image that never existed).
type heldLock struct {
	cell     *Cell
	isInsert bool
}

// Savepoint marks a point in a Transaction's held-lock list that
// RollbackToSavepoint can unwind back to (§4.C).
type Savepoint struct {
	id       uint64
	lockMark int
}

// Transaction is the Transaction Descriptor (component C, §3/§4.C): a
// session's view of one unit of work, its held row locks, its savepoint
// stack, and enough state for the Visibility Oracle to classify it as
// committed, active, or rolled back without consulting anything else.
//
// Modeled on the teacher's Transaction struct in transaction/types.go,
// generalized with a savepoint stack and a held-lock list of cell
// references in place of the teacher's flat Lock-request list.
type Transaction struct {
	id         uint64
	isolation  IsolationLevel
	status     atomic.Int32
	commitTS   atomic.Uint64
	autoCommit bool
	replicating bool

	engine *Engine

	mu              sync.Mutex
	heldLocks       []heldLock
	savepoints      []Savepoint
	nextSavepointID uint64
}

// ID returns the transaction's identifier, which doubles as its start
// timestamp in the shared id/timestamp counter (§3/§4.D).
func (t *Transaction) ID() uint64 { return t.id }

// Isolation returns the level the transaction was started under.
func (t *Transaction) Isolation() IsolationLevel { return t.isolation }

// Status returns the transaction's current lifecycle state. Safe to call
// from any goroutine — the Visibility Oracle relies on this.
func (t *Transaction) Status() Status { return Status(t.status.Load()) }

// IsCommitted reports whether the transaction has finished committing.
// Readers snapshot this once per CellView rather than re-checking it, so
// that a visibility decision reflects one consistent "was it committed at
// the moment I looked" answer (I3).
func (t *Transaction) IsCommitted() bool { return t.Status() == StatusCommitted }

// CommitTimestamp returns the timestamp assigned when the transaction
// entered COMMITTING. Zero before that point.
func (t *Transaction) CommitTimestamp() uint64 { return t.commitTS.Load() }

func (t *Transaction) addLock(cell *Cell, isInsert bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heldLocks = append(t.heldLocks, heldLock{cell: cell, isInsert: isInsert})
}

// GetSavepointId records a savepoint at the transaction's current lock
// frontier and returns its id (§4.C).
func (t *Transaction) GetSavepointId() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSavepointID++
	id := t.nextSavepointID
	t.savepoints = append(t.savepoints, Savepoint{id: id, lockMark: len(t.heldLocks)})
	return id
}

// RollbackToSavepoint undoes every lock acquired since the named savepoint,
// restoring each cell's pre-image (or tombstoning it, for inserts) and
// releasing the lock, without ending the transaction itself.
func (t *Transaction) RollbackToSavepoint(id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i, sp := range t.savepoints {
		if sp.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return dberrors.New(dberrors.Internal, "RollbackToSavepoint", "unknown savepoint %d for transaction %d", id, t.id)
	}

	mark := t.savepoints[idx].lockMark
	for i := len(t.heldLocks) - 1; i >= mark; i-- {
		hl := t.heldLocks[i]
		hl.cell.restorePreImage()
		hl.cell.unlock()
		t.notifyUnlock(hl.cell)
	}
	t.heldLocks = t.heldLocks[:mark]
	t.savepoints = t.savepoints[:idx]
	return nil
}

// discardLastSavepoint drops the most recently taken savepoint without
// rolling anything back — used when a lock attempt fails before the
// savepoint was ever needed (§4.G), so retries don't accumulate unused
// savepoints.
func (t *Transaction) discardLastSavepoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.savepoints) > 0 {
		t.savepoints = t.savepoints[:len(t.savepoints)-1]
	}
}

func (t *Transaction) notifyUnlock(cell *Cell) {
	if t.engine != nil && t.engine.scheduler != nil {
		t.engine.scheduler.notifyWaiters(cell)
	}
}

// Commit runs the synchronous commit sequence (§4.C step 1-4): move to
// COMMITTING with a fresh commit timestamp, hand every held cell to the
// old-version index (skipped entirely when no repeatable-read/serializable
// transaction is alive, §4.D), request a redo-log flush if this is an
// autocommit, non-replicating write, then move to COMMITTED and release
// every lock.
func (t *Transaction) Commit() error {
	return t.commit(context.Background(), false, nil)
}

// AsyncCommit runs the same sequence but, for an autocommit write, returns
// before the redo-log flush completes; done is invoked with the final
// result once the flush (and lock release) finishes, matching §4.C's
// "executor attaches a continuation" async-commit note.
func (t *Transaction) AsyncCommit(ctx context.Context, done func(error)) {
	if err := t.commit(ctx, true, done); err != nil && done != nil {
		done(err)
	}
}

func (t *Transaction) commit(ctx context.Context, async bool, done func(error)) error {
	if !t.status.CompareAndSwap(int32(StatusActive), int32(StatusCommitting)) {
		return dberrors.New(dberrors.Internal, "Commit", "transaction %d is not active", t.id)
	}

	ts := t.engine.nextTimestamp()
	t.commitTS.Store(ts)

	t.mu.Lock()
	locks := t.heldLocks
	t.mu.Unlock()

	hasRR := t.engine.ContainsRepeatableReadTransactions()
	minLive := t.engine.MinLiveRepeatableReadTid()
	for _, hl := range locks {
		lock := hl.cell.lockSnapshot()
		if lock == nil {
			continue // defensive: commit only ever runs on locks we hold
		}
		current := hl.cell.current()
		stamped := &cellValue{Bytes: current.Bytes, Deleted: current.Deleted, Tid: ts}
		hl.cell.setValue(stamped)
		if hasRR {
			t.engine.oldValues.append(hl.cell, ts, hl.isInsert, lock.PreImage, stamped, minLive)
		}
	}

	finish := func() error {
		t.status.Store(int32(StatusCommitted))
		t.mu.Lock()
		locks := t.heldLocks
		t.heldLocks = nil
		t.mu.Unlock()
		for _, hl := range locks {
			hl.cell.unlock()
			t.notifyUnlock(hl.cell)
		}
		t.engine.endTransaction(t)
		return nil
	}

	needsFlush := t.autoCommit && !t.replicating && t.engine.wal != nil
	if !needsFlush {
		err := finish()
		if done != nil {
			done(err)
		}
		return err
	}

	lsn, err := t.engine.wal.Append(ctx, walCommitRecord(t.id, ts))
	if err != nil {
		return dberrors.New(dberrors.ConnectionBroken, "Commit", "append commit record for transaction %d: %v", t.id, err)
	}
	_ = lsn

	if async {
		go func() {
			err := t.engine.wal.Sync(ctx)
			if err == nil {
				err = finish()
			}
			if done != nil {
				done(err)
			}
		}()
		return nil
	}

	if err := t.engine.wal.Sync(ctx); err != nil {
		return dberrors.New(dberrors.ConnectionBroken, "Commit", "sync redo log for transaction %d: %v", t.id, err)
	}
	return finish()
}

// Rollback discards every change the transaction made and releases its
// locks (§4.C).
func (t *Transaction) Rollback() error {
	if !t.status.CompareAndSwap(int32(StatusActive), int32(StatusRolledBack)) {
		if !t.status.CompareAndSwap(int32(StatusCommitting), int32(StatusRolledBack)) {
			return dberrors.New(dberrors.Internal, "Rollback", "transaction %d cannot be rolled back from status %s", t.id, t.Status())
		}
	}
	t.mu.Lock()
	locks := t.heldLocks
	t.heldLocks = nil
	t.mu.Unlock()
	for _, hl := range locks {
		hl.cell.restorePreImage()
		hl.cell.unlock()
		t.notifyUnlock(hl.cell)
	}
	t.engine.endTransaction(t)
	return nil
}

// OpenMap binds the transaction to an ordered key-value map by name (§6
// Upward interfaces), creating the underlying storage map on first use.
func (t *Transaction) OpenMap(name string) *TransactionMap {
	return &TransactionMap{name: name, store: t.engine.openStorage(name), txn: t}
}
