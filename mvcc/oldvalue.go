package mvcc

import (
	"sync"
	"sync/atomic"
)

// OldValue is one node in a cell's old-version retention chain (component
// B, §3/§4.B). Tid is the commit timestamp the node became the committed
// value at; Value is what a reader whose read-view id is >= Tid (and <
// the Tid of the newer node ahead of it in the chain) should see. The chain
// descends by Tid, so Next is always the older node.
type OldValue struct {
	Tid     uint64
	Value   *cellValue
	Next    *OldValue
	useLast atomic.Bool
}

// OldValueIndex is the concurrent map from cell identity to its old-value
// chain head (component B). Keyed by *Cell pointer rather than by row key
// because the chain must survive the owning TransactionMap being looked up
// by a different key representation (and because two Cells never compare
// equal by address, giving a free identity key with no extra allocation).
type OldValueIndex struct {
	heads sync.Map // *Cell -> *OldValue
}

func newOldValueIndex() *OldValueIndex {
	return &OldValueIndex{}
}

func (idx *OldValueIndex) head(cell *Cell) *OldValue {
	if v, ok := idx.heads.Load(cell); ok {
		return v.(*OldValue)
	}
	return nil
}

// append records a committing writer's old value, implementing the chain
// append rule of §4.B exactly, including the useLast reactivation
// arithmetic (old.tid + 1, documented as a heuristic sharing the
// transaction-id/commit-timestamp namespace — see DESIGN.md).
func (idx *OldValueIndex) append(cell *Cell, commitTS uint64, isInsert bool, preImage, newValue *cellValue, minLiveRR uint64) {
	if isInsert {
		idx.heads.Store(cell, &OldValue{Tid: commitTS, Value: newValue})
		return
	}

	var head *OldValue
	if v, ok := idx.heads.Load(cell); ok {
		head = v.(*OldValue)
	}

	if head != nil && head.Tid > minLiveRR {
		// The existing chain already covers all live readers: no need to
		// extend it, just note that the head is now stale relative to the
		// newest committed value (which lives directly on the Cell).
		head.useLast.Store(true)
		return
	}

	var node *OldValue
	switch {
	case head == nil:
		tail := &OldValue{Tid: 0, Value: preImage}
		node = &OldValue{Tid: commitTS, Value: newValue, Next: tail}
	case head.useLast.Load():
		reactivated := &OldValue{Tid: head.Tid + 1, Value: preImage, Next: head}
		node = &OldValue{Tid: commitTS, Value: newValue, Next: reactivated}
	default:
		node = &OldValue{Tid: commitTS, Value: newValue, Next: head}
	}
	idx.heads.Store(cell, node)
}

// sweep prunes chains against the current GC horizon (component D, §4.D).
// When minLiveRR is noLiveSnapshot (no repeatable-read/serializable
// transaction is alive), the whole chain for a cell is dropped — P7: "if no
// live repeatable-read transaction exists, no old-value node survives past
// the next commit sweep". Otherwise a node is dropped when both it and its
// successor are older than every live reader (I4).
func (idx *OldValueIndex) sweep(minLiveRR uint64) {
	idx.heads.Range(func(key, value interface{}) bool {
		if minLiveRR == noLiveSnapshot {
			idx.heads.Delete(key)
			return true
		}
		head := value.(*OldValue)
		pruneChain(head, minLiveRR)
		return true
	})
}

// pruneChain drops internal nodes that are redundant for every live reader,
// per I4: a node N with N.Tid < minLiveRR whose successor also has
// Next.Tid < minLiveRR may be unlinked, since no live reader's read-view id
// falls strictly between them. The chain head itself is never dropped here
// — it always holds the newest committed-but-superseded value, which the
// cell's own current value has already moved past.
func pruneChain(head *OldValue, minLiveRR uint64) {
	prev := head
	cur := head.Next
	for cur != nil {
		if prev.Tid < minLiveRR && cur.Next != nil && cur.Next.Tid < minLiveRR {
			prev.Next = cur.Next
			cur = prev.Next
			continue
		}
		prev = cur
		cur = cur.Next
	}
}
