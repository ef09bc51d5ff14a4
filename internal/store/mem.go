package store

import (
	"sync"
	"time"
)

// Mem is an in-memory Store backed by a mutex-guarded map.
type Mem[V any] struct {
	mu     sync.RWMutex
	items  map[string]V
	expiry ExpiryFunc[V]
}

// NewMem creates an empty in-memory store. expiry may be nil for
// values that never expire.
func NewMem[V any](expiry ExpiryFunc[V]) *Mem[V] {
	return &Mem[V]{
		items:  make(map[string]V),
		expiry: expiry,
	}
}

func (m *Mem[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	return v, true
}

func (m *Mem[V]) Put(key string, value V) error {
	m.mu.Lock()
	m.items[key] = value
	m.mu.Unlock()

	return nil
}

func (m *Mem[V]) Take(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	delete(m.items, key)

	return v, true
}

func (m *Mem[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Sweep removes expired values and returns how many were removed.
func (m *Mem[V]) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0

	for k, v := range m.items {
		if expired(m.expiry, v, now) {
			delete(m.items, k)
			removed++
		}
	}

	return removed
}

// Len returns the number of stored values, expired or not.
func (m *Mem[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}
