package store

import (
	"context"
	"sync"
	"time"
)

// MemoryKV is an in-process KV adapter.
//
// It is safe for concurrent use by multiple goroutines, but its state is local
// to the process and is not shared across replicas. Expired entries are
// removed when read.
type MemoryKV[V any] struct {
	mu      sync.Mutex
	entries map[string]Entry[V]
	closed  bool
	now     func() time.Time
}

// NewMemoryKV constructs a MemoryKV with empty state.
func NewMemoryKV[V any]() *MemoryKV[V] {
	return &MemoryKV[V]{
		entries: make(map[string]Entry[V]),
		now:     time.Now,
	}
}

func (m *MemoryKV[V]) Name() string { return "memory" }

func (m *MemoryKV[V]) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryKV[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return zero, false, ErrClosed
	}

	e, ok := m.entries[key]
	if !ok {
		return zero, false, nil
	}
	if e.Expired(m.now()) {
		delete(m.entries, key)
		return zero, false, nil
	}
	return e.Value, true, nil
}

func (m *MemoryKV[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	e := Entry[V]{Key: key, Value: value}
	if ttl > 0 {
		e.ExpiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryKV[V]) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.entries, key)
	return nil
}

func (m *MemoryKV[V]) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries = make(map[string]Entry[V])
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryKV[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryKV[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}
