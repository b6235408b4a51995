// Command mvccdemo drives the MVCC transaction core through a handful of
// end-to-end scenarios, grounded on the teacher's transaction/example.go
// demonstration style (plain fmt.Println narration, log.Printf on error
// paths, one function per scenario).
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	version "mvccdb"
	"mvccdb/config"
	"mvccdb/mvcc"
)

func main() {
	version.PrintVersion()

	cfg := config.DefaultConfig()
	cfg.WAL.SyncMode = "none" // demo runs out of a throwaway directory; skip the file WAL
	cfg.Transaction.GCSweepInterval = time.Second

	db, err := mvcc.Open(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	fmt.Println("=== MVCC Transaction Core Demo ===")

	fmt.Println("\n1. Commit and remove:")
	commitAndRemove(db)

	fmt.Println("\n2. Async commit:")
	asyncCommit(db)

	fmt.Println("\n3. Repeatable-read snapshot:")
	repeatableReadSnapshot(db)

	fmt.Println("\n4. Limit termination:")
	limitTermination(db)

	fmt.Println("\n=== Demo Complete ===")
}

func commitAndRemove(db *mvcc.Database) {
	t1 := db.Begin(false)
	m := t1.OpenMap("M")
	_ = m.Put("2", []byte("b"))
	_ = m.Put("3", []byte("c"))
	if err := m.Remove("3"); err != nil {
		log.Printf("remove failed: %v", err)
	}
	if err := t1.Commit(); err != nil {
		log.Printf("commit failed: %v", err)
		return
	}

	t2 := db.Begin(false)
	m2 := t2.OpenMap("M")
	if v, ok := m2.Get("2"); ok {
		fmt.Printf("  M.get(\"2\") = %q\n", v)
	}
	if _, ok := m2.Get("3"); !ok {
		fmt.Println("  M.get(\"3\") = SIGHTLESS")
	}
	_ = t2.Commit()
}

func asyncCommit(db *mvcc.Database) {
	t3 := db.BeginWithIsolation(mvcc.ReadCommitted, true)
	m := t3.OpenMap("M")
	_ = m.Put("4", []byte("b4"))
	_ = m.Put("5", []byte("c5"))

	done := make(chan error, 1)
	t3.AsyncCommit(context.Background(), func(err error) { done <- err })
	fmt.Println("  asyncCommit issued, caller proceeds immediately")

	if err := <-done; err != nil {
		log.Printf("  async commit failed: %v", err)
		return
	}

	t4 := db.Begin(false)
	m4 := t4.OpenMap("M")
	if v, ok := m4.Get("4"); ok {
		fmt.Printf("  post-ack read of \"4\" = %q\n", v)
	}
	_ = t4.Commit()
}

func repeatableReadSnapshot(db *mvcc.Database) {
	setup := db.Begin(false)
	setupMap := setup.OpenMap("snap")
	_ = setupMap.Put("k", []byte("v0"))
	_ = setup.Commit()

	ta := db.BeginWithIsolation(mvcc.RepeatableRead, false)
	tam := ta.OpenMap("snap")
	first, _ := tam.Get("k")
	fmt.Printf("  T_A first read: %q\n", first)

	tb := db.Begin(false)
	tbm := tb.OpenMap("snap")
	if err := tbm.Put("k", []byte("v1")); err != nil {
		log.Printf("  T_B put failed: %v", err)
	} else if err := tb.Commit(); err != nil {
		log.Printf("  T_B commit failed: %v", err)
	}

	second, _ := tam.Get("k")
	fmt.Printf("  T_A second read (same snapshot): %q\n", second)
	_ = ta.Commit()

	tc := db.Begin(false)
	tcm := tc.OpenMap("snap")
	after, _ := tcm.Get("k")
	fmt.Printf("  T_C read after T_A commits: %q\n", after)
	_ = tc.Commit()
}

// seedHandler always matches, never vetoes, and mutates every row to bump.
type seedHandler struct{ bump []byte }

func (seedHandler) Filter(mvcc.Row) bool      { return true }
func (seedHandler) Before(mvcc.Row) bool      { return true }
func (h seedHandler) Mutate(r mvcc.Row) (mvcc.Row, error) {
	r.Value = h.bump
	return r, nil
}

func limitTermination(db *mvcc.Database) {
	seed := db.Begin(false)
	seedMap := seed.OpenMap("bulk")
	for i := 0; i < 5; i++ {
		_ = seedMap.Put(fmt.Sprintf("row-%d", i), []byte("orig"))
	}
	_ = seed.Commit()

	t := db.Begin(false)
	tmap := t.OpenMap("bulk")
	sess := db.NewSession(t)
	y := mvcc.NewScanYieldable(t, tmap, mvcc.StmtUpdate, "row-0", "row-9", seedHandler{bump: []byte("touched")}, 2, nil)
	if err := db.Execute(sess, y); err != nil {
		log.Printf("  limited update failed: %v", err)
	}
	fmt.Printf("  rows touched by LIMIT 2: %d\n", y.RowsAffected())
	_ = t.Commit()

	check := db.Begin(false)
	cmap := check.OpenMap("bulk")
	cur := cmap.Cursor("row-0", "row-9")
	count := 0
	for {
		_, _, ok := cur.Next()
		if !ok {
			break
		}
		count++
	}
	fmt.Printf("  remaining row count: %d\n", count)
	_ = check.Commit()
}
