package store

import (
	"context"
	"strings"
	"time"
)

// Cache is the typed Get/Set/Delete/Clear contract over a resilient pair of
// KV adapters.
type Cache[V any] struct {
	core *Resilient[KV[V]]
}

// NewCache returns a cache that prefers primary and falls back to fallback.
func NewCache[V any](name string, primary, fallback KV[V], opts ...Option) *Cache[V] {
	return &Cache[V]{core: New(name, primary, fallback, opts...)}
}

// NewLocalCache returns a cache served only by fallback.
func NewLocalCache[V any](name string, fallback KV[V], opts ...Option) *Cache[V] {
	return &Cache[V]{core: NewLocal(name, fallback, opts...)}
}

type lookup[V any] struct {
	value V
	found bool
}

// Get returns the cached value and true, or false when the key is absent or
// expired. A miss is never an error.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if err := validKey(key); err != nil {
		return zero, false, err
	}

	res, err := Execute(ctx, c.core, "get", func(ctx context.Context, kv KV[V]) (lookup[V], error) {
		v, ok, err := kv.Get(ctx, key)
		return lookup[V]{value: v, found: ok}, err
	})
	if err != nil {
		return zero, false, err
	}
	return res.value, res.found, nil
}

// Set stores value under key for ttl.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := Execute(ctx, c.core, "set", func(ctx context.Context, kv KV[V]) (struct{}, error) {
		return struct{}{}, kv.Set(ctx, key, value, ttl)
	})
	return err
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache[V]) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := Execute(ctx, c.core, "delete", func(ctx context.Context, kv KV[V]) (struct{}, error) {
		return struct{}{}, kv.Delete(ctx, key)
	})
	return err
}

// Clear removes every key owned by the active backend.
func (c *Cache[V]) Clear(ctx context.Context) error {
	_, err := Execute(ctx, c.core, "clear", func(ctx context.Context, kv KV[V]) (struct{}, error) {
		return struct{}{}, kv.Clear(ctx)
	})
	return err
}

func (c *Cache[V]) HealthCheck(ctx context.Context) Health {
	return c.core.HealthCheck(ctx)
}

func (c *Cache[V]) Shutdown() {
	c.core.Shutdown()
}

// State returns a snapshot of the failover state.
func (c *Cache[V]) State() FailoverState {
	return c.core.State()
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}
