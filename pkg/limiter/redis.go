package limiter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manenim/resilient-ratelimit/pkg/store"
)

//go:embed fixed_window.lua
var fixedWindowScript string

var fixedWindow = redis.NewScript(fixedWindowScript)

// windowSlack keeps a window hash around briefly after it stops mattering so
// that a request racing the expiry still sees a consistent hash.
const windowSlack = time.Second

type redisOptions struct {
	prefix  string
	timeout time.Duration
}

// RedisOption configures RedisWindows.
type RedisOption func(*redisOptions)

// WithPrefix sets the key prefix for window hashes. Default is "rl:".
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// WithTimeout bounds each script call independently of the caller's context.
// Zero leaves the caller's deadline in charge.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.timeout = d
	}
}

// RedisWindows is the shared window adapter. Each check is a single script
// call, so concurrent checks from any number of instances never lose an
// increment.
type RedisWindows struct {
	client redis.UniversalClient
	opts   redisOptions
}

// NewRedisWindows wraps client. The adapter owns the client and closes it on
// Close. Construction does not contact Redis: an unreachable server shows up
// as a failed Hit, which the resilient store turns into a failover.
func NewRedisWindows(client redis.UniversalClient, opts ...RedisOption) (*RedisWindows, error) {
	if client == nil {
		return nil, errors.New("limiter: redis client is required")
	}
	o := redisOptions{prefix: "rl:"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.prefix == "" {
		return nil, errors.New("limiter: redis key prefix must not be empty")
	}
	return &RedisWindows{client: client, opts: o}, nil
}

func (r *RedisWindows) Name() string { return "redis" }

func (r *RedisWindows) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisWindows) Close() error {
	return r.client.Close()
}

func (r *RedisWindows) key(id Identity) string {
	return r.opts.prefix + windowKey(id)
}

func (r *RedisWindows) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.timeout > 0 {
		return context.WithTimeout(ctx, r.opts.timeout)
	}
	return ctx, func() {}
}

// Hit runs the fixed window script. Run uses EVALSHA and reloads the script
// when the server has lost it.
func (r *RedisWindows) Hit(ctx context.Context, id Identity, p Policy, now int64, increment bool) (Window, Step, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	inc := 0
	if increment {
		inc = 1
	}
	res, err := fixedWindow.Run(ctx, r.client, []string{r.key(id)},
		now,                        // ARGV[1]
		p.windowMs(),               // ARGV[2]
		p.blockMs(),                // ARGV[3]
		p.MaxRequests,              // ARGV[4]
		inc,                        // ARGV[5]
		windowSlack.Milliseconds(), // ARGV[6]
	).Int64Slice()
	if err != nil {
		return Window{}, StepAllowed, err
	}
	if len(res) != 5 {
		return Window{}, StepAllowed, fmt.Errorf("limiter: invalid script response length %d", len(res))
	}

	return Window{
		Count:        res[1],
		Start:        res[2],
		End:          res[3],
		BlockedUntil: res[4],
	}, Step(res[0]), nil
}

func (r *RedisWindows) Load(ctx context.Context, id Identity) (Window, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	vals, err := r.client.HMGet(ctx, r.key(id), "count", "start", "end", "blocked_until").Result()
	if err != nil {
		return Window{}, false, err
	}
	if len(vals) != 4 || vals[0] == nil {
		return Window{}, false, nil
	}

	var fields [4]int64
	for i, v := range vals {
		s, _ := v.(string)
		if s == "" {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Window{}, false, fmt.Errorf("limiter: corrupt window %s: %w", r.key(id), err)
		}
		fields[i] = n
	}
	return Window{Count: fields[0], Start: fields[1], End: fields[2], BlockedUntil: fields[3]}, true, nil
}

func (r *RedisWindows) Reset(ctx context.Context, id Identity) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.client.Del(ctx, r.key(id)).Err()
}

// Clear removes every window under the adapter's prefix.
func (r *RedisWindows) Clear(ctx context.Context) error {
	return store.ClearPrefix(ctx, r.client, r.opts.prefix)
}
