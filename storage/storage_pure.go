package storage

import (
	"sort"
	"sync"
)

// memoryMap is an in-memory OrderedMap: a map for O(1) point lookups plus a
// maintained sorted key slice for range cursors. A single RWMutex stands in
// for the "page-level latches" spec.md §6 asks of storage — adequate for a
// pure-Go in-memory map, and the same tradeoff the teacher's
// PureGoStorageEngine made for its own map-backed engine.
type memoryMap struct {
	mu    sync.RWMutex
	data  map[string]Entry
	order []string
}

// NewMemoryMap constructs an empty in-memory OrderedMap.
func NewMemoryMap() OrderedMap {
	return &memoryMap{data: make(map[string]Entry)}
}

func (m *memoryMap) Get(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memoryMap) GetOrCreate(key string, create func() Entry) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, true
	}
	v := create()
	m.insertLocked(key, v)
	return v, false
}

func (m *memoryMap) insertLocked(key string, value Entry) {
	i := sort.SearchStrings(m.order, key)
	m.order = append(m.order, "")
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = key
	m.data[key] = value
}

func (m *memoryMap) Cursor(lo, hi string) Cursor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if lo != "" {
		start = sort.SearchStrings(m.order, lo)
	}
	end := len(m.order)
	if hi != "" {
		end = sort.SearchStrings(m.order, hi)
	}
	keys := make([]string, end-start)
	copy(keys, m.order[start:end])
	return &memoryCursor{m: m, keys: keys}
}

type memoryCursor struct {
	m    *memoryMap
	keys []string
	pos  int
}

func (c *memoryCursor) Next() (string, Entry, bool) {
	for c.pos < len(c.keys) {
		k := c.keys[c.pos]
		c.pos++
		if v, ok := c.m.Get(k); ok {
			return k, v, true
		}
	}
	return "", nil, false
}
