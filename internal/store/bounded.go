// Package store holds the bounded, de-duplicated collections mirrored from the
// backend push stream.
package store

import "sync"

const DefaultCapacity = 100

// Bounded keeps at most capacity items, newest first, unique by key.
//
// The backing slice is replaced on every mutation and never written in place,
// so a slice handed out by Snapshot stays valid after later updates.
type Bounded[K comparable, T any] struct {
	mu       sync.RWMutex
	items    []T
	key      func(T) K
	capacity int
}

func NewBounded[K comparable, T any](capacity int, key func(T) K) *Bounded[K, T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Bounded[K, T]{key: key, capacity: capacity}
}

// Upsert moves item to the front, replacing any stored item with the same key,
// then evicts from the tail down to capacity. Order is arrival order; the
// item's own timestamps play no part.
func (b *Bounded[K, T]) Upsert(item T) {
	k := b.key(item)

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]T, 0, min(len(b.items)+1, b.capacity))
	next = append(next, item)
	for _, it := range b.items {
		if len(next) == b.capacity {
			break
		}
		if b.key(it) == k {
			continue
		}
		next = append(next, it)
	}
	b.items = next
}

func (b *Bounded[K, T]) Clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}

// Snapshot returns a copy of the current items, front (newest) to back.
func (b *Bounded[K, T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Bounded[K, T]) Get(k K) (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, it := range b.items {
		if b.key(it) == k {
			return it, true
		}
	}
	var zero T
	return zero, false
}

func (b *Bounded[K, T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

func (b *Bounded[K, T]) Capacity() int { return b.capacity }
