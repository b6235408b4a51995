package mvcc

import (
	"bytes"
	"encoding/binary"
	"sync/atomic"

	"mvccdb/storage"
)

// cellValue is the payload a Cell or OldValue node carries: either a live
// row value or a tombstone recording that the row was deleted at this
// version. Mirroring the teacher's VersionedValue{Value, Deleted} shape
// (transaction/isolation.go) instead of overloading a nil []byte, which
// would be indistinguishable from "row exists with an empty value".
type cellValue struct {
	Bytes   []byte
	Deleted bool
	// Tid is the commit timestamp this value became current at (0 for a
	// value materialized as already committed, e.g. loaded from storage).
	// Needed so a repeatable-read/serializable reader whose snapshot
	// predates this commit can tell to fall back to the old-value chain
	// even though the cell is currently unlocked (§4.E).
	Tid uint64
}

func liveValue(b []byte) *cellValue { return &cellValue{Bytes: b} }
func deletedValue() *cellValue      { return &cellValue{Deleted: true} }

// RowLock is the in-flight lock slot a Cell carries while a writer holds it
// (component A, §4.A). A nil PreImage means the owner's write is a pure
// insert: no prior committed row exists to roll back to.
type RowLock struct {
	Owner    *Transaction
	PreImage *cellValue
}

// CellView is a consistent snapshot of a Cell's current value, its lock (if
// any), and the head of its old-value chain, handed to the Visibility
// Oracle (component E). Readers take the lock pointer once and reason over
// the pair it formed with, rather than re-reading the Cell's fields
// separately, which is what keeps concurrent reads race-free without a
// per-cell mutex (I3).
type CellView struct {
	Value   *cellValue
	Lock    *RowLock
	OldHead *OldValue
}

// Cell is the per-row MVCC record (component A, §3/§4.A): a committed value
// plus at most one in-flight writer. Both fields are single atomic
// pointers so a reader never needs to hold a lock to observe a consistent
// pair, and a writer never blocks a reader by holding one.
type Cell struct {
	value atomic.Pointer[cellValue]
	lock  atomic.Pointer[RowLock]
}

// NewCell constructs an already-committed cell. Used for rows materialized
// from storage (tid=0, never locked) and for brand-new keys created by a
// cursor/map lookup before any writer has touched them.
func NewCell(v *cellValue) *Cell {
	c := &Cell{}
	c.value.Store(v)
	return c
}

// current returns the cell's raw value pointer with no visibility check;
// only the lock owner and the Visibility Oracle may call this directly.
func (c *Cell) current() *cellValue {
	if v := c.value.Load(); v != nil {
		return v
	}
	return deletedValue()
}

func (c *Cell) setValue(v *cellValue) { c.value.Store(v) }

func (c *Cell) lockSnapshot() *RowLock { return c.lock.Load() }

func (c *Cell) unlock() { c.lock.Store(nil) }

// restorePreImage undoes a writer's in-progress mutation, restoring the
// value visible before the lock was acquired — or marking the row deleted
// again if the lock represented a pure insert (P5 rollback correctness).
func (c *Cell) restorePreImage() {
	l := c.lock.Load()
	if l == nil {
		return
	}
	if l.PreImage != nil {
		c.setValue(l.PreImage)
		return
	}
	c.setValue(deletedValue())
}

// view takes a single consistent snapshot of value+lock for the Visibility
// Oracle. oldHead is filled in by the caller (the Engine holds the
// old-value index, not the Cell) since a bare Cell has no Engine reference.
func (c *Cell) view(oldHead *OldValue) CellView {
	return CellView{Value: c.current(), Lock: c.lockSnapshot(), OldHead: oldHead}
}

// Persisted cell wire format: a varlong tid (0 = already committed) followed
// by a one-byte presence flag and, if present, a four-byte length prefix and
// the codec-compressed payload (§3 wire format detail, §6 DOMAIN STACK). The
// tid is informational only on read — a reconstructed cell is always
// materialized as committed; any in-flight writer is rebuilt from the WAL,
// not from this field (see DESIGN.md open question on in-flight cells).

// WriteMeta serializes the committed/in-flight marker ahead of the value.
func (c *Cell) WriteMeta(buf *bytes.Buffer) {
	var tid uint64
	if l := c.lockSnapshot(); l != nil {
		tid = l.Owner.ID()
	}
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], tid)
	buf.Write(tmp[:n])
}

// WriteValue serializes the cell's current value using codec for
// compression. While the cell is locked that is the writer's in-flight
// value, not the pre-image.
func (c *Cell) WriteValue(buf *bytes.Buffer, codec storage.Codec) error {
	cv := c.current()
	if cv.Deleted {
		return storage.EncodeValue(buf, codec, nil)
	}
	return storage.EncodeValue(buf, codec, cv.Bytes)
}

// ReadCell deserializes a persisted cell back into a committed, unlocked
// Cell.
func ReadCell(buf *bytes.Buffer, codec storage.Codec) (*Cell, error) {
	if _, err := binary.ReadUvarint(buf); err != nil {
		return nil, err
	}
	value, err := storage.DecodeValue(buf, codec)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return NewCell(deletedValue()), nil
	}
	return NewCell(liveValue(value)), nil
}
