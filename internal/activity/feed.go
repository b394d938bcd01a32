// Package activity keeps bounded most-recent-first feeds of club events.
package activity

import "sync"

// Feed is a newest-first list capped at a fixed size. It is safe for concurrent use.
type Feed[T any] struct {
	mu    sync.RWMutex
	limit int
	items []T
}

func NewFeed[T any](limit int) *Feed[T] {
	if limit <= 0 {
		limit = 1
	}
	return &Feed[T]{limit: limit, items: make([]T, 0, limit)}
}

// Push prepends item, dropping the oldest entry once the limit is reached.
func (f *Feed[T]) Push(item T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) < f.limit {
		f.items = append(f.items, item)
	}
	copy(f.items[1:], f.items[:len(f.items)-1])
	f.items[0] = item
}

// Replace swaps the contents for items, which must already be newest first.
func (f *Feed[T]) Replace(items []T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(items)
	if n > f.limit {
		n = f.limit
	}
	f.items = append(f.items[:0], items[:n]...)
}

// Items returns a copy of the feed, newest first.
func (f *Feed[T]) Items() []T {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]T, len(f.items))
	copy(out, f.items)
	return out
}

func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

func (f *Feed[T]) Limit() int {
	return f.limit
}
