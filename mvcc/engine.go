package mvcc

import (
	"sync"
	"sync/atomic"
	"time"

	"mvccdb/storage"
	"mvccdb/wal"
)

// noLiveSnapshot represents "+infinity" for minLiveRepeatableReadTid: no
// repeatable-read or serializable transaction is currently alive, so every
// old-value chain is free to be dropped in full (P7).
const noLiveSnapshot = ^uint64(0)

// Engine is the Transaction Engine (component D, §3/§4.D): the shared
// monotone id/timestamp counter, the set of live repeatable-read/
// serializable transactions (which bounds how aggressively old versions can
// be garbage collected), the old-value index, and the collaborators
// (storage, WAL, scheduler) a Transaction needs to do anything useful.
//
// Grounded on the teacher's DefaultTransactionManager in
// transaction/manager.go, with the atomic id counter kept and the
// transaction registry narrowed to just the repeatable-read/serializable
// subset the GC horizon actually depends on.
type Engine struct {
	nextID atomic.Uint64

	mu        sync.RWMutex
	liveRR    map[uint64]*Transaction
	minLiveRR atomic.Uint64

	oldValues *OldValueIndex
	wal       wal.Manager
	scheduler *Scheduler
	maps      sync.Map // name -> storage.OrderedMap

	// yieldEveryNRows is how often a Yieldable (§4.G) checks cancellation
	// and cooperatively yields even absent a lock conflict, threaded down
	// from config.TransactionConfig.YieldEveryNRows (§6 DOMAIN STACK).
	yieldEveryNRows int

	gcStop chan struct{}
	gcWG   sync.WaitGroup
}

// NewEngine constructs an Engine. walMgr may be nil, in which case
// transactions commit without ever touching a redo log (useful for tests).
// yieldEveryNRows of 0 or less falls back to 128.
func NewEngine(walMgr wal.Manager, schedulerWorkers, yieldEveryNRows int) *Engine {
	if yieldEveryNRows <= 0 {
		yieldEveryNRows = 128
	}
	e := &Engine{
		liveRR:          make(map[uint64]*Transaction),
		oldValues:       newOldValueIndex(),
		wal:             walMgr,
		yieldEveryNRows: yieldEveryNRows,
	}
	e.minLiveRR.Store(noLiveSnapshot)
	e.scheduler = newScheduler(e, schedulerWorkers)
	return e
}

// Begin starts a new transaction. autoCommit controls whether Commit
// requests a redo-log flush (§4.C).
func (e *Engine) Begin(isolation IsolationLevel, autoCommit bool) *Transaction {
	id := e.nextID.Add(1)
	txn := &Transaction{id: id, isolation: isolation, engine: e, autoCommit: autoCommit}
	txn.status.Store(int32(StatusActive))

	if isolation == RepeatableRead || isolation == Serializable {
		e.mu.Lock()
		e.liveRR[id] = txn
		e.recomputeMinLiveLocked()
		e.mu.Unlock()
	}
	return txn
}

func (e *Engine) endTransaction(txn *Transaction) {
	if txn.isolation == RepeatableRead || txn.isolation == Serializable {
		e.mu.Lock()
		delete(e.liveRR, txn.id)
		e.recomputeMinLiveLocked()
		e.mu.Unlock()
	}
}

func (e *Engine) recomputeMinLiveLocked() {
	min := noLiveSnapshot
	for id := range e.liveRR {
		if id < min {
			min = id
		}
	}
	e.minLiveRR.Store(min)
}

// MinLiveRepeatableReadTid returns the smallest transaction id among live
// repeatable-read/serializable transactions, or noLiveSnapshot if none are
// alive (§4.D GC horizon).
func (e *Engine) MinLiveRepeatableReadTid() uint64 { return e.minLiveRR.Load() }

// ContainsRepeatableReadTransactions reports whether any repeatable-read or
// serializable transaction is currently live. Gates whether a committing
// cell bothers extending the old-value chain at all (§4.D).
func (e *Engine) ContainsRepeatableReadTransactions() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.liveRR) > 0
}

// liveTransaction looks up a currently-live repeatable-read/serializable
// transaction by id. Only those two levels are registered, so the id of a
// read-committed or read-uncommitted transaction is never found.
func (e *Engine) liveTransaction(id uint64) (*Transaction, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.liveRR[id]
	return t, ok
}

func (e *Engine) nextTimestamp() uint64 { return e.nextID.Add(1) }

// ReinitializeCounter reseeds the shared id/timestamp counter after
// recovery so that it never hands out an id already used by a persisted
// transaction: the next id issued is at least maxPersisted+1.
func (e *Engine) ReinitializeCounter(maxPersisted uint64) {
	for {
		cur := e.nextID.Load()
		if cur >= maxPersisted {
			return
		}
		if e.nextID.CompareAndSwap(cur, maxPersisted) {
			return
		}
	}
}

// View takes a single consistent snapshot of a cell plus its old-value
// chain head for the Visibility Oracle.
func (e *Engine) View(c *Cell) CellView {
	return c.view(e.oldValues.head(c))
}

func (e *Engine) openStorage(name string) storage.OrderedMap {
	v, _ := e.maps.LoadOrStore(name, storage.NewMemoryMap())
	return v.(storage.OrderedMap)
}

// StartGC launches the periodic old-value sweep (§4.D). Safe to call at
// most once per Engine.
func (e *Engine) StartGC(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	e.gcStop = make(chan struct{})
	e.gcWG.Add(1)
	go func() {
		defer e.gcWG.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				e.oldValues.sweep(e.MinLiveRepeatableReadTid())
			case <-e.gcStop:
				return
			}
		}
	}()
}

// StopGC halts the periodic sweep started by StartGC, if any.
func (e *Engine) StopGC() {
	if e.gcStop != nil {
		close(e.gcStop)
		e.gcWG.Wait()
	}
}

// Close stops the GC sweep and the scheduler.
func (e *Engine) Close() {
	e.StopGC()
	e.scheduler.close()
}
