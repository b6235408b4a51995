package mvcc

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"mvccdb/storage"
)

type allowAllHandler struct{ bump []byte }

func (allowAllHandler) Filter(Row) bool { return true }
func (allowAllHandler) Before(Row) bool { return true }
func (h allowAllHandler) Mutate(r Row) (Row, error) {
	r.Value = h.bump
	return r, nil
}

func seedRows(t *testing.T, e *Engine, name string, n int) {
	t.Helper()
	txn := e.Begin(ReadCommitted, false)
	m := txn.OpenMap(name)
	for i := 0; i < n; i++ {
		key := string(rune('a' + i))
		if err := m.Put(key, []byte("orig")); err != nil {
			t.Fatalf("seed put %s failed: %v", key, err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}
}

func TestLimitTermination(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	seedRows(t, e, "bulk", 5)

	txn := e.Begin(ReadCommitted, false)
	tmap := txn.OpenMap("bulk")
	sched := newScheduler(e, 4)
	sess := NewSession(txn, time.Second)
	y := NewScanYieldable(txn, tmap, StmtUpdate, "a", "z", allowAllHandler{bump: []byte("touched")}, 2, nil)
	if err := sched.Drive(sess, y); err != nil {
		t.Fatalf("drive failed: %v", err)
	}
	if y.RowsAffected() != 2 {
		t.Errorf("expected exactly 2 rows updated under LIMIT 2, got %d", y.RowsAffected())
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	check := e.Begin(ReadCommitted, false)
	cm := check.OpenMap("bulk")
	cur := cm.Cursor("a", "z")
	count := 0
	for {
		_, _, ok := cur.Next()
		if !ok {
			break
		}
		count++
	}
	if count != 5 {
		t.Errorf("expected all 5 rows still present (2 touched, 3 untouched), got %d", count)
	}
	_ = check.Commit()
}

func TestRowLockConflictAndRetry(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	seedRows(t, e, "conflict", 1)

	tx := e.Begin(ReadCommitted, false)
	mx := tx.OpenMap("conflict")
	if err := mx.Put("a", []byte("locked-by-x")); err != nil {
		t.Fatalf("t_x put failed: %v", err)
	}

	ty := e.Begin(ReadCommitted, false)
	my := ty.OpenMap("conflict")
	sched := newScheduler(e, 4)
	sess := NewSession(ty, 2*time.Second)
	y := NewScanYieldable(ty, my, StmtDelete, "a", "z", allowAllHandler{}, 0, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var driveErr error
	go func() {
		defer wg.Done()
		driveErr = sched.Drive(sess, y)
	}()

	waitUntil(t, func() bool { return sess.Status() == Waiting }, time.Second)
	if sess.Conflict() != ConflictRowLock {
		t.Errorf("expected conflict ROW_LOCK while parked, got %s", sess.Conflict())
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("t_x commit failed: %v", err)
	}

	wg.Wait()
	if driveErr != nil {
		t.Fatalf("t_y drive failed after wakeup: %v", driveErr)
	}
	if y.RowsAffected() != 1 {
		t.Errorf("expected t_y to delete the row once unblocked, got %d rows affected", y.RowsAffected())
	}
	_ = ty.Commit()
}

func waitUntil(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDeadlockDetection(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	seedRows(t, e, "dl", 2) // keys "a" and "b"

	tp := e.Begin(ReadCommitted, false)
	mp := tp.OpenMap("dl")
	if err := mp.Put("a", []byte("p-holds-a")); err != nil {
		t.Fatalf("t_p lock a failed: %v", err)
	}

	tq := e.Begin(ReadCommitted, false)
	mq := tq.OpenMap("dl")
	if err := mq.Put("b", []byte("q-holds-b")); err != nil {
		t.Fatalf("t_q lock b failed: %v", err)
	}

	sched := newScheduler(e, 4)

	sessP := NewSession(tp, 300*time.Millisecond)
	yp := NewScanYieldable(tp, mp, StmtUpdate, "b", "b\x00", allowAllHandler{bump: []byte("p-wants-b")}, 0, nil)

	sessQ := NewSession(tq, 300*time.Millisecond)
	yq := NewScanYieldable(tq, mq, StmtUpdate, "a", "a\x00", allowAllHandler{bump: []byte("q-wants-a")}, 0, nil)

	var wg sync.WaitGroup
	var errP, errQ error
	wg.Add(2)
	go func() { defer wg.Done(); errP = sched.Drive(sessP, yp) }()
	go func() { defer wg.Done(); errQ = sched.Drive(sessQ, yq) }()
	wg.Wait()

	if errP == nil && errQ == nil {
		t.Fatal("expected deadlock detection to roll back at least one of the two transactions")
	}
}

func TestCellSerializationRoundTrip(t *testing.T) {
	codec := storage.NoopCodec{}
	original := NewCell(liveValue([]byte("payload")))

	var buf bytes.Buffer
	original.WriteMeta(&buf)
	if err := original.WriteValue(&buf, codec); err != nil {
		t.Fatalf("write value failed: %v", err)
	}

	restored, err := ReadCell(&buf, codec)
	if err != nil {
		t.Fatalf("read cell failed: %v", err)
	}
	if restored.lockSnapshot() != nil {
		t.Error("expected deserialized cell to have lock == nil")
	}
	if restored.current().Deleted {
		t.Error("expected deserialized cell to be non-deleted")
	}
	if string(restored.current().Bytes) != "payload" {
		t.Errorf("expected round-tripped value %q, got %q", "payload", restored.current().Bytes)
	}
}
