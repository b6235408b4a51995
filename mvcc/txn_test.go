package mvcc

import (
	"context"
	"testing"
)

func newTestEngine() *Engine {
	return NewEngine(nil, 4, 128)
}

func TestCommitAndRemove(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	t1 := e.Begin(ReadCommitted, false)
	m := t1.OpenMap("M")
	if err := m.Put("2", []byte("b")); err != nil {
		t.Fatalf("put 2 failed: %v", err)
	}
	if err := m.Put("3", []byte("c")); err != nil {
		t.Fatalf("put 3 failed: %v", err)
	}
	if err := m.Remove("3"); err != nil {
		t.Fatalf("remove 3 failed: %v", err)
	}
	if err := t1.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	t2 := e.Begin(ReadCommitted, false)
	m2 := t2.OpenMap("M")
	if v, ok := m2.Get("2"); !ok || string(v) != "b" {
		t.Errorf(`expected M.get("2") == "b", got %q, ok=%v`, v, ok)
	}
	if _, ok := m2.Get("3"); ok {
		t.Error(`expected M.get("3") to be SIGHTLESS`)
	}
	_ = t2.Commit()
}

func TestAsyncCommit(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	t3 := e.Begin(ReadCommitted, true)
	m := t3.OpenMap("M")
	if err := m.Put("4", []byte("b4")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	done := make(chan error, 1)
	t3.AsyncCommit(context.Background(), func(err error) { done <- err })
	if err := <-done; err != nil {
		t.Fatalf("async commit failed: %v", err)
	}

	t4 := e.Begin(ReadCommitted, false)
	m4 := t4.OpenMap("M")
	if v, ok := m4.Get("4"); !ok || string(v) != "b4" {
		t.Errorf(`expected "4" == "b4" after ack, got %q, ok=%v`, v, ok)
	}
	_ = t4.Commit()
}

func TestRepeatableReadSnapshot(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	setup := e.Begin(ReadCommitted, false)
	setupMap := setup.OpenMap("snap")
	if err := setupMap.Put("k", []byte("v0")); err != nil {
		t.Fatalf("setup put failed: %v", err)
	}
	if err := setup.Commit(); err != nil {
		t.Fatalf("setup commit failed: %v", err)
	}

	ta := e.Begin(RepeatableRead, false)
	tam := ta.OpenMap("snap")
	first, ok := tam.Get("k")
	if !ok || string(first) != "v0" {
		t.Fatalf("expected first read v0, got %q ok=%v", first, ok)
	}

	tb := e.Begin(ReadCommitted, false)
	tbm := tb.OpenMap("snap")
	if err := tbm.Put("k", []byte("v1")); err != nil {
		t.Fatalf("T_B put failed: %v", err)
	}
	if err := tb.Commit(); err != nil {
		t.Fatalf("T_B commit failed: %v", err)
	}

	second, ok := tam.Get("k")
	if !ok || string(second) != "v0" {
		t.Errorf("expected T_A second read to still be v0 (P3), got %q ok=%v", second, ok)
	}
	if err := ta.Commit(); err != nil {
		t.Fatalf("T_A commit failed: %v", err)
	}

	tc := e.Begin(ReadCommitted, false)
	tcm := tc.OpenMap("snap")
	after, ok := tcm.Get("k")
	if !ok || string(after) != "v1" {
		t.Errorf("expected T_C to read v1 after T_A commits, got %q ok=%v", after, ok)
	}
	_ = tc.Commit()
}

func TestOwnWritesVisibleUnderEveryIsolation(t *testing.T) {
	for _, lvl := range []IsolationLevel{ReadUncommitted, ReadCommitted, RepeatableRead, Serializable} {
		e := newTestEngine()
		txn := e.Begin(lvl, false)
		m := txn.OpenMap("own")
		if err := m.Put("x", []byte("v1")); err != nil {
			t.Fatalf("[%s] put failed: %v", lvl, err)
		}
		if v, ok := m.Get("x"); !ok || string(v) != "v1" {
			t.Errorf("[%s] P2 violated: expected own write visible, got %q ok=%v", lvl, v, ok)
		}
		_ = txn.Commit()
		e.Close()
	}
}

func TestReadCommittedNoDirtyRead(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	seed := e.Begin(ReadCommitted, false)
	seedMap := seed.OpenMap("rc")
	if err := seedMap.Put("y", []byte("committed")); err != nil {
		t.Fatalf("seed put failed: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}

	writer := e.Begin(ReadCommitted, false)
	wm := writer.OpenMap("rc")
	if err := wm.Put("y", []byte("dirty")); err != nil {
		t.Fatalf("writer put failed: %v", err)
	}

	reader := e.Begin(ReadCommitted, false)
	rm := reader.OpenMap("rc")
	v, ok := rm.Get("y")
	if !ok || string(v) != "committed" {
		t.Errorf("P4 violated: reader saw %q (ok=%v), expected uncommitted writer's value hidden", v, ok)
	}

	_ = writer.Rollback()
	_ = reader.Commit()
}

func TestRollbackRestoresPreImage(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	seed := e.Begin(ReadCommitted, false)
	seedMap := seed.OpenMap("rb")
	if err := seedMap.Put("z", []byte("orig")); err != nil {
		t.Fatalf("seed put failed: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}

	txn := e.Begin(ReadCommitted, false)
	m := txn.OpenMap("rb")
	if err := m.Put("z", []byte("changed")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	check := e.Begin(ReadCommitted, false)
	cm := check.OpenMap("rb")
	v, ok := cm.Get("z")
	if !ok || string(v) != "orig" {
		t.Errorf("P5 violated: expected pre-image %q restored after rollback, got %q ok=%v", "orig", v, ok)
	}
	_ = check.Commit()
}

func TestLockReleaseOnCommitAndRollback(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	txn := e.Begin(ReadCommitted, false)
	m := txn.OpenMap("lr")
	cell, _ := m.cellFor("w")
	if err := m.Put("w", []byte("v")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if cell.lockSnapshot() == nil {
		t.Fatal("expected lock held after put")
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if cell.lockSnapshot() != nil {
		t.Error("P8 violated: lock still held after commit")
	}

	txn2 := e.Begin(ReadCommitted, false)
	m2 := txn2.OpenMap("lr")
	cell2, _ := m2.cellFor("w2")
	if err := m2.Put("w2", []byte("v2")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := txn2.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if cell2.lockSnapshot() != nil {
		t.Error("P8 violated: lock still held after rollback")
	}
}

func TestConcurrentUpdateConflict(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	t1 := e.Begin(ReadCommitted, false)
	m1 := t1.OpenMap("conflict")
	if err := m1.Put("row", []byte("v1")); err != nil {
		t.Fatalf("t1 put failed: %v", err)
	}

	t2 := e.Begin(ReadCommitted, false)
	m2 := t2.OpenMap("conflict")
	if err := m2.Put("row", []byte("v2")); err == nil {
		t.Error("expected second transaction's Put to be rejected while t1 holds the lock (P1)")
	}

	_ = t1.Commit()
	_ = t2.Rollback()
}

func TestGCDropsChainWithNoLiveReaders(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	txn := e.Begin(ReadCommitted, false)
	tm := txn.OpenMap("gc")
	if err := tm.Put("g", []byte("v1")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	cell, _ := tm.cellFor("g")
	if e.View(cell).OldHead != nil {
		t.Fatal("expected no old-value chain while no RR transaction was ever live")
	}

	e.oldValues.sweep(e.MinLiveRepeatableReadTid())
	if e.View(cell).OldHead != nil {
		t.Error("P7 violated: old-value node survived a sweep with no live RR transaction")
	}
}
