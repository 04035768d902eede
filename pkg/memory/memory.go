// Package memory keeps a bounded, most-recent-wins history.
package memory

import "sync"

type Memory[T any] struct {
	stream   []T
	capacity int
	dropped  int
	mu       sync.RWMutex
}

// NewMemory returns a memory holding at most capacity entries; capacity <= 0
// means unbounded.
func NewMemory[T any](capacity int) *Memory[T] {
	return &Memory[T]{capacity: capacity}
}

// All returns a copy of the retained entries, oldest first.
func (m *Memory[T]) All() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]T, len(m.stream))
	copy(out, m.stream)
	return out
}

func (m *Memory[T]) Store(entry T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stream = append(m.stream, entry)
	if m.capacity > 0 && len(m.stream) > m.capacity {
		over := len(m.stream) - m.capacity
		m.stream = append(m.stream[:0:0], m.stream[over:]...)
		m.dropped += over
	}
}

func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stream)
}

// Dropped counts entries evicted by the capacity bound.
func (m *Memory[T]) Dropped() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}
