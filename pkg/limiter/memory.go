package limiter

import (
	"context"
	"sync"

	"github.com/manenim/resilient-ratelimit/pkg/store"
)

// sweepEvery is how many hits a local adapter serves between sweeps of
// expired windows.
const sweepEvery = 1024

// MemoryWindows is an in-process window adapter.
//
// It is safe for concurrent use by multiple goroutines, but its state is local
// to the process and is not shared across replicas. Use it as the fallback
// behind RedisWindows, or alone for single-instance deployments.
type MemoryWindows struct {
	mu      sync.Mutex
	windows map[string]Window
	hits    int
	closed  bool
}

// NewMemoryWindows constructs a MemoryWindows with empty state.
func NewMemoryWindows() *MemoryWindows {
	return &MemoryWindows{
		windows: make(map[string]Window),
	}
}

func (m *MemoryWindows) Name() string { return "memory" }

func (m *MemoryWindows) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return store.ErrClosed
	}
	return nil
}

func (m *MemoryWindows) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.windows = nil
	return nil
}

// Hit runs the read-modify-write under the adapter mutex.
func (m *MemoryWindows) Hit(ctx context.Context, id Identity, p Policy, now int64, increment bool) (Window, Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Window{}, StepAllowed, store.ErrClosed
	}

	key := windowKey(id)
	w, found := m.windows[key]
	next, st, changed := advance(w, found, p, now, increment)
	if changed {
		m.windows[key] = next
	}

	m.hits++
	if m.hits%sweepEvery == 0 {
		m.sweep(now)
	}
	return next, st, nil
}

func (m *MemoryWindows) Load(ctx context.Context, id Identity) (Window, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Window{}, false, store.ErrClosed
	}
	w, ok := m.windows[windowKey(id)]
	return w, ok, nil
}

func (m *MemoryWindows) Reset(ctx context.Context, id Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return store.ErrClosed
	}
	delete(m.windows, windowKey(id))
	return nil
}

func (m *MemoryWindows) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return store.ErrClosed
	}
	clear(m.windows)
	return nil
}

// Len returns the number of stored windows, expired ones included.
func (m *MemoryWindows) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// sweep must be called with m.mu held.
func (m *MemoryWindows) sweep(now int64) {
	for k, w := range m.windows {
		if w.Expired(now) {
			delete(m.windows, k)
		}
	}
}
