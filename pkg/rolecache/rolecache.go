// Package rolecache keeps the frequently read list of roles in a resilient
// store so that permission checks do not hit the source of truth on every
// request.
package rolecache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/manenim/resilient-ratelimit/pkg/store"
)

// DefaultTTL is how long a loaded role list is served before it is reloaded.
const DefaultTTL = 5 * time.Minute

// DefaultLoadTimeout bounds one shared load. Loads run detached from the
// context of the caller that started them.
const DefaultLoadTimeout = 30 * time.Second

const cacheKey = "roles"

// Role is one entry in the permission model.
type Role struct {
	ID          string   `msgpack:"id" json:"id"`
	Name        string   `msgpack:"name" json:"name"`
	Permissions []string `msgpack:"permissions,omitempty" json:"permissions,omitempty"`
}

// Can reports whether the role grants perm.
func (r Role) Can(perm string) bool {
	return slices.Contains(r.Permissions, perm)
}

// Loader reads the role list from the source of truth.
type Loader func(ctx context.Context) ([]Role, error)

// ErrNotFound is returned by Role for an unknown role name.
var ErrNotFound = errors.New("rolecache: role not found")

// Cache serves roles from a store.Cache and reloads them on a miss. Concurrent
// misses share a single load.
type Cache struct {
	store       *store.Cache[[]Role]
	load        Loader
	ttl         time.Duration
	loadTimeout time.Duration
	logger      *zap.Logger
	group       singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a loaded list stays cached.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithLoadTimeout bounds each load from the source of truth.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// WithLogger sets the logger for cache errors.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a role cache over s that reloads through load.
func New(s *store.Cache[[]Role], load Loader, opts ...Option) (*Cache, error) {
	if s == nil {
		return nil, errors.New("rolecache: store is required")
	}
	if load == nil {
		return nil, errors.New("rolecache: loader is required")
	}
	c := &Cache{store: s, load: load, ttl: DefaultTTL, loadTimeout: DefaultLoadTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Roles returns a copy of the cached role list, loading it on a miss. When
// the cache itself is unavailable the list is loaded directly. A caller that
// gives up while a shared load is running returns early; the load carries on
// for the others.
func (c *Cache) Roles(ctx context.Context) ([]Role, error) {
	roles, ok, err := c.store.Get(ctx, cacheKey)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("role cache read failed, loading from source", zap.Error(err))
	}
	if ok {
		return cloneRoles(roles), nil
	}

	ch := c.group.DoChan(cacheKey, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		roles, err := c.load(lctx)
		if err != nil {
			return nil, fmt.Errorf("load roles: %w", err)
		}
		roles = cloneRoles(roles)
		if err := c.store.Set(lctx, cacheKey, roles, c.ttl); err != nil {
			c.logger.Warn("role cache write failed", zap.Error(err))
		}
		return roles, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneRoles(res.Val.([]Role)), nil
	}
}

func cloneRoles(roles []Role) []Role {
	if roles == nil {
		return nil
	}
	out := make([]Role, len(roles))
	for i, r := range roles {
		r.Permissions = slices.Clone(r.Permissions)
		out[i] = r
	}
	return out
}

// Role returns the role called name.
func (c *Cache) Role(ctx context.Context, name string) (Role, error) {
	roles, err := c.Roles(ctx)
	if err != nil {
		return Role{}, err
	}
	for _, r := range roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Invalidate drops the cached list; the next Roles call reloads it.
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.store.Delete(ctx, cacheKey); err != nil {
		return fmt.Errorf("invalidate roles: %w", err)
	}
	return nil
}

// HealthCheck reports the underlying store's health.
func (c *Cache) HealthCheck(ctx context.Context) store.Health {
	return c.store.HealthCheck(ctx)
}

// Shutdown releases the underlying store.
func (c *Cache) Shutdown() {
	c.store.Shutdown()
}
