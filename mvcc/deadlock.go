package mvcc

import "sync"

// waitForGraph tracks which transaction each blocked transaction is
// currently waiting on, grounded on the teacher's wait-for-graph cycle
// detector (transaction/deadlock_detector.go's WaitForGraphAnalyzer),
// narrowed to the single-edge-per-waiter case: in this cooperative model a
// session drives exactly one statement at a time, so a transaction is
// never waiting on more than one row lock simultaneously.
type waitForGraph struct {
	mu    sync.Mutex
	edges map[uint64]uint64 // waiting txn id -> holder txn id
}

func newWaitForGraph() *waitForGraph {
	return &waitForGraph{edges: make(map[uint64]uint64)}
}

func (g *waitForGraph) setWaiting(waiter, holder uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[waiter] = holder
}

func (g *waitForGraph) clearWaiting(waiter uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, waiter)
}

// waiters returns the ids of every transaction currently waiting on a row
// lock, for the periodic deadlock sweep to scan.
func (g *waitForGraph) waiters() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uint64, 0, len(g.edges))
	for id := range g.edges {
		out = append(out, id)
	}
	return out
}

// hasCycle walks "waiter waits for holder, holder waits for ...", starting
// at start, and reports whether the chain loops back to start (§5 deadlock
// detection).
func (g *waitForGraph) hasCycle(start uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := map[uint64]bool{start: true}
	cur := start
	for {
		next, ok := g.edges[cur]
		if !ok {
			return false
		}
		if next == start {
			return true
		}
		if seen[next] {
			return false
		}
		seen[next] = true
		cur = next
	}
}
