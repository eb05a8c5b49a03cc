// Package keylock provides mutual exclusion scoped to string keys.
//
// Operations on distinct keys proceed in parallel; operations on the same
// key are serialized. Idle keys are released so the map does not grow with
// every id ever locked.
package keylock

import (
	"sort"
	"sync"
)

type keyMutex struct {
	mu   sync.Mutex
	refs int
}

// Map is a set of per-key mutexes. The zero value is ready to use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

// Lock blocks until key is held and returns the matching unlock func.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*keyMutex)
	}
	km, ok := m.locks[key]
	if !ok {
		km = &keyMutex{}
		m.locks[key] = km
	}
	km.refs++
	m.mu.Unlock()

	km.mu.Lock()
	return func() {
		km.mu.Unlock()
		m.mu.Lock()
		km.refs--
		if km.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// LockMany acquires several keys in sorted order so that two callers
// locking overlapping sets cannot deadlock. Empty and duplicate keys are ignored.
func (m *Map) LockMany(keys ...string) (unlock func()) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	unlocks := make([]func(), 0, len(uniq))
	for _, k := range uniq {
		unlocks = append(unlocks, m.Lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
