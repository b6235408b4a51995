// storage_interface.go - core storage abstraction layer
package storage

// OrderedMap is the downward interface the transaction core needs from
// storage (spec.md §6): an ordered key-value map with page-level latches.
// The core owns transactional semantics itself (locking, visibility,
// commit/rollback all live in package mvcc) so, unlike the teacher's
// StorageEngine, OrderedMap carries no Commit/Rollback of its own — it is
// a plain concurrent container the core's Cells live inside.
//
// Entry is typed as interface{} rather than a concrete cell type so this
// package has no dependency on package mvcc; callers type-assert their own
// cell representation back out.
type OrderedMap interface {
	// Get returns the entry stored under key, if any.
	Get(key string) (Entry, bool)

	// GetOrCreate returns the existing entry for key, or atomically
	// stores and returns the result of create if key was absent. The
	// returned bool reports whether an entry already existed.
	GetOrCreate(key string, create func() Entry) (entry Entry, existed bool)

	// Cursor returns a forward cursor over keys in [lo, hi). An empty lo
	// or hi means unbounded on that side.
	Cursor(lo, hi string) Cursor
}

// Entry is the value type an OrderedMap stores.
type Entry = interface{}

// Cursor provides ordered sequential access to an OrderedMap's entries.
// Unlike the teacher's Iterator, Next returns the row directly rather than
// requiring a separate Key()/Value() call, since cursors here are always
// consumed immediately by the Visibility Oracle.
type Cursor interface {
	Next() (key string, value Entry, ok bool)
}

// StorageConfig holds configuration for an OrderedMap implementation.
// SyncWrites, CacheSize and the CGO/Rust backend flags from the teacher's
// config have no meaning for the in-memory map kept here (those backends
// were out of scope, see DESIGN.md) and are dropped.
type StorageConfig struct {
	BufferSize int64
}
