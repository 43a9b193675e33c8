package limiter

import (
	"context"

	"github.com/manenim/resilient-ratelimit/pkg/store"
)

// WindowBackend is the adapter kind behind the engine's resilient store. Hit
// must apply advance atomically for one identity: concurrent hits on the same
// identity never lose an increment.
type WindowBackend interface {
	store.Backend

	// Hit applies one check at now (epoch ms) and returns the resulting window.
	Hit(ctx context.Context, id Identity, p Policy, now int64, increment bool) (Window, Step, error)
	// Load returns the stored window for id, expired or not.
	Load(ctx context.Context, id Identity) (Window, bool, error)
	// Reset drops the window for id.
	Reset(ctx context.Context, id Identity) error
	// Clear drops every window held by the adapter.
	Clear(ctx context.Context) error
}

// NewWindowStore wraps primary and fallback window adapters in a resilient
// store.
func NewWindowStore(primary, fallback WindowBackend, opts ...store.Option) *store.Resilient[WindowBackend] {
	return store.New("ratelimit", primary, fallback, opts...)
}

// NewLocalWindowStore returns a window store served by fallback alone.
func NewLocalWindowStore(fallback WindowBackend, opts ...store.Option) *store.Resilient[WindowBackend] {
	return store.NewLocal("ratelimit", fallback, opts...)
}

func windowKey(id Identity) string {
	return id.Module + ":" + id.Key
}

var (
	_ WindowBackend = (*MemoryWindows)(nil)
	_ WindowBackend = (*RedisWindows)(nil)
	_ WindowBackend = (*SQLiteWindows)(nil)
)
