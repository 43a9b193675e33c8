package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const clearBatch = 256

// RedisKV is a KV adapter over a shared Redis instance. Values are encoded
// with the configured Codec and stored under prefix+key with native TTLs.
//
// The adapter owns client: Close disconnects it. go-redis dials lazily, so
// constructing a RedisKV never blocks on the network.
type RedisKV[V any] struct {
	client redis.UniversalClient
	prefix string
	codec  Codec
}

// RedisOption configures a RedisKV.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	codec  Codec
}

// WithPrefix sets the key prefix (default "store:").
func WithPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		c.prefix = prefix
	}
}

// WithCodec replaces the default msgpack codec.
func WithCodec(codec Codec) RedisOption {
	return func(c *redisConfig) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// NewRedisKV wraps a pre-built client.
func NewRedisKV[V any](client redis.UniversalClient, opts ...RedisOption) (*RedisKV[V], error) {
	if client == nil {
		return nil, errors.New("store: redis client is required")
	}
	cfg := redisConfig{prefix: "store:", codec: MsgpackCodec{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisKV[V]{
		client: client,
		prefix: cfg.prefix,
		codec:  cfg.codec,
	}, nil
}

func (r *RedisKV[V]) Name() string { return "redis" }

func (r *RedisKV[V]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisKV[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}

	var v V
	if err := r.codec.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisKV[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := r.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

func (r *RedisKV[V]) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Clear removes every key under the adapter's prefix. It scans instead of
// using KEYS so a large keyspace does not block the server.
func (r *RedisKV[V]) Clear(ctx context.Context) error {
	return ClearPrefix(ctx, r.client, r.prefix)
}

func (r *RedisKV[V]) Close() error {
	return r.client.Close()
}

// ClearPrefix deletes every key starting with prefix.
func ClearPrefix(ctx context.Context, client redis.UniversalClient, prefix string) error {
	if prefix == "" {
		return errors.New("store: refusing to clear without a key prefix")
	}

	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, prefix+"*", clearBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := client.Unlink(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

