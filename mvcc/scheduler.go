package mvcc

import (
	"sync"
	"sync/atomic"
	"time"

	"mvccdb/dberrors"
)

// Session is the scheduler-facing handle for one connection driving one
// Yieldable at a time (§5/§6). Its fields are safe to read from another
// goroutine (e.g. a monitoring endpoint) without synchronization, since
// each is an independent atomic.
type Session struct {
	txn *Transaction

	status     atomic.Int32
	conflict   atomic.Int32
	lockSince  atomic.Int64 // UnixNano; 0 = not currently waiting
	lockedRow  atomic.Pointer[string]
	lockTimeout time.Duration
}

// NewSession wraps txn in a Session bound to timeout for row-lock waits.
func NewSession(txn *Transaction, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Session{txn: txn, lockTimeout: timeout}
	s.status.Store(int32(TransactionNotStart))
	return s
}

// Status returns the session's current published status.
func (s *Session) Status() SessionStatus { return SessionStatus(s.status.Load()) }

// Conflict returns what kind of conflict the session is currently blocked
// on, if any.
func (s *Session) Conflict() ConflictType { return ConflictType(s.conflict.Load()) }

// Scheduler is a fixed-size cooperative worker pool (component G's
// driver, §5): it runs one Yieldable.Run step per dispatch and reschedules
// on wake, rather than blocking an OS thread per waiting session.
//
// Grounded on the teacher's WorkerPool in
// pkg/concurrency/goroutine_manager.go, repurposed from generic job
// dispatch to running yieldable statements, plus the wait-for-graph
// deadlock walk from transaction/deadlock_detector.go.
type Scheduler struct {
	engine *Engine
	sem    chan struct{}

	waiters    sync.Map // *Cell -> []chan struct{}
	forceCheck sync.Map // txn id -> chan struct{}, used by the deadlock sweep
	graph      *waitForGraph

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

func newScheduler(engine *Engine, workers int) *Scheduler {
	if workers <= 0 {
		workers = 8
	}
	return &Scheduler{
		engine: engine,
		sem:    make(chan struct{}, workers),
		graph:  newWaitForGraph(),
	}
}

// startDeadlockSweep launches the periodic wait-for-graph scan (§6 DOMAIN
// STACK deadlock-detection interval): every tick it looks for a cycle among
// currently-waiting transactions and nudges each into an early re-check
// instead of leaving them to discover the deadlock only once their own
// full lockTimeout elapses. Safe to call at most once per Scheduler.
func (s *Scheduler) startDeadlockSweep(interval time.Duration) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	s.sweepStop = make(chan struct{})
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.sweep()
			case <-s.sweepStop:
				return
			}
		}
	}()
}

func (s *Scheduler) stopDeadlockSweep() {
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepWG.Wait()
	}
}

// sweep checks every currently-waiting transaction for a wait-for cycle and
// pokes its forceCheck channel so the waiting goroutine re-evaluates
// hasCycle immediately rather than sitting out the rest of its lockTimeout.
// The actual rollback still happens on the waiter's own goroutine in
// awaitLock, so this never mutates a Transaction from outside its caller.
func (s *Scheduler) sweep() {
	for _, waiter := range s.graph.waiters() {
		if !s.graph.hasCycle(waiter) {
			continue
		}
		if ch, ok := s.forceCheck.Load(waiter); ok {
			select {
			case ch.(chan struct{}) <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Scheduler) close() {
	s.stopDeadlockSweep()
}

// notifyWaiters wakes every session currently blocked on cell's lock. Cell
// unlock paths (commit, rollback, savepoint rollback) call this so a
// waiter doesn't sit out its full lockTimeout once the row frees up.
func (s *Scheduler) notifyWaiters(cell *Cell) {
	if chs, ok := s.waiters.LoadAndDelete(cell); ok {
		for _, ch := range chs.([]chan struct{}) {
			close(ch)
		}
	}
}

func (s *Scheduler) registerWaiter(cell *Cell) <-chan struct{} {
	ch := make(chan struct{})
	for {
		actual, loaded := s.waiters.LoadOrStore(cell, []chan struct{}{ch})
		if !loaded {
			return ch
		}
		list := actual.([]chan struct{})
		newList := append(append([]chan struct{}{}, list...), ch)
		if s.waiters.CompareAndSwap(cell, list, newList) {
			return ch
		}
	}
}

// Drive runs y to completion on behalf of sess, acquiring a worker slot for
// each dispatch and cooperatively waiting (not blocking an OS thread
// outside the wait itself) on row-lock conflicts (§5).
func (s *Scheduler) Drive(sess *Session, y *Yieldable) error {
	sess.status.Store(int32(StatementRunning))
	defer func() {
		sess.lockSince.Store(0)
		sess.conflict.Store(int32(ConflictNone))
	}()

	for {
		s.sem <- struct{}{}
		suspended := y.Run()
		<-s.sem

		if !suspended {
			sess.status.Store(int32(StatementCompleted))
			return y.Err()
		}

		if !y.waiting {
			// Cooperative yield with no conflict: give other sessions a
			// chance to run, then resume immediately.
			sess.status.Store(int32(StatementRunning))
			continue
		}

		if err := s.awaitLock(sess, y); err != nil {
			return err
		}
	}
}

func (s *Scheduler) awaitLock(sess *Session, y *Yieldable) error {
	cell := y.blockedCell
	key := y.BlockedKey()
	sess.lockedRow.Store(&key)
	sess.status.Store(int32(Waiting))
	sess.conflict.Store(int32(ConflictRowLock))
	if sess.lockSince.Load() == 0 {
		sess.lockSince.Store(time.Now().UnixNano())
	}

	if holder := cell.lockSnapshot(); holder != nil {
		s.graph.setWaiting(y.txn.ID(), holder.Owner.ID())
	}
	defer s.graph.clearWaiting(y.txn.ID())

	wake := s.registerWaiter(cell)
	if cell.lockSnapshot() == nil {
		// The holder released the row before this waiter was registered, so
		// its notifyWaiters call has already run; retry the row now.
		sess.status.Store(int32(Retrying))
		y.Back()
		return nil
	}
	deadline := time.Now().Add(remainingLockWait(sess))

	forceCh := make(chan struct{}, 1)
	s.forceCheck.Store(y.txn.ID(), forceCh)
	defer s.forceCheck.Delete(y.txn.ID())

	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-wake:
			sess.status.Store(int32(Retrying))
			y.Back()
			return nil
		case <-forceCh:
			// Nudged early by the periodic deadlock sweep; re-check rather
			// than assume a cycle still exists by the time we run.
			if s.graph.hasCycle(y.txn.ID()) {
				_ = y.txn.Rollback()
				return dberrors.New(dberrors.Deadlock, "Drive", "transaction %d deadlocked", y.txn.ID())
			}
		case <-time.After(remaining):
			if s.graph.hasCycle(y.txn.ID()) {
				_ = y.txn.Rollback()
				return dberrors.New(dberrors.Deadlock, "Drive", "transaction %d deadlocked", y.txn.ID())
			}
			// The pending row's lock was never acquired (TryLock failed
			// before suspension, and the pre-row savepoint it would have used
			// was discarded at that point), so abandoning it here needs no
			// further rollback — only the pending row is given up, not any
			// row this statement already committed to earlier in the scan.
			y.abandonPending()
			return dberrors.New(dberrors.LockTimeout, "Drive", "transaction %d timed out waiting for a row lock", y.txn.ID())
		}
	}
}

// remainingLockWait computes how much of sess's lockTimeout is left,
// accounting for time already spent waiting across prior conflicts on the
// same statement (sess.lockSince is set once per Drive call, not per wait).
func remainingLockWait(sess *Session) time.Duration {
	elapsed := time.Duration(time.Now().UnixNano()-sess.lockSince.Load()) * time.Nanosecond
	remaining := sess.lockTimeout - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
