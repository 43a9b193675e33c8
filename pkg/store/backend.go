package store

import (
	"context"
	"time"
)

// Backend is the part of the adapter contract the failover core needs.
// Concrete adapter kinds embed it in their own interface (KV for generic
// values, window backends in the limiter package) so the resilient store is
// typed by that interface once, at construction.
type Backend interface {
	// Name identifies the adapter in logs, metrics and health output.
	Name() string
	// Ping reports whether the backend can currently serve requests.
	Ping(ctx context.Context) error
	// Close releases the adapter's resources.
	Close() error
}

// KV is the generic key/value adapter contract shared by primary and fallback.
type KV[V any] interface {
	Backend
	// Get returns the value and true, or the zero value and false when the key
	// is absent or expired.
	Get(ctx context.Context, key string) (V, bool, error)
	// Set stores value under key. A ttl <= 0 stores the value without expiry.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Entry is a stored value and its absolute expiry. A zero ExpiresAt never
// expires.
type Entry[V any] struct {
	Key       string
	Value     V
	ExpiresAt time.Time
}

// Expired reports whether the entry is no longer visible at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
