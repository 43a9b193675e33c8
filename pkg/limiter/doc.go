// Package limiter provides per-module fixed-window rate limiting with
// automatic and manual blocks, on top of a resilient store that fails over
// from Redis to a local backend.
//
// The primary entry point is the RateLimiter interface, implemented by Engine:
//
//	dec, err := engine.CheckLimit(ctx, "user_123", "auth", limiter.CheckOptions{Increment: true})
//
// The returned Decision reports whether the request is allowed, how many
// requests remain in the window and when the caller may retry, which is
// enough to set Retry-After and X-RateLimit-* headers.
//
// # Overview
//
// Each (module, key) pair owns one Window:
//
//   - The first counted request opens a window of Policy.Window length.
//   - Each counted request increments the window's count.
//   - The request that pushes the count above Policy.MaxRequests sets a block
//     of Policy.Block length. While blocked, every check is refused without
//     touching the count.
//   - Once the window ends, or the block expires, the next request opens a
//     fresh window.
//
// A policy with a zero Block refuses requests above the maximum until the
// window ends. An inactive policy allows every key that is not manually blocked.
//
// All timestamps (window start and end, blocked-until, reset time) are epoch
// milliseconds.
//
// # Core Types
//
// Policy defines the limit for one module:
//
//   - MaxRequests: requests allowed per window
//   - Window: window length
//   - Block: block length after the maximum is exceeded
//   - Active: when false the module is not limited
//
// Identity defines "who" is being rate-limited:
//
//   - Module: the quota policy namespace (for example "auth", "import")
//   - Key: the identifier within it (a user id, an email, an IP)
//
// Policies live in a PolicyRegistry. Modules without a policy of their own get
// the registry default and emit an unknown-module metric.
//
// # Backends
//
// Windows are stored through a WindowBackend adapter:
//
//   - RedisWindows: the shared primary. One Lua script performs the
//     read/compute/write cycle atomically, so concurrent checks from any number
//     of instances never lose an increment. Keys are
//     "{prefix}{module}:{key}" hashes that expire once the window and block
//     have both ended.
//   - MemoryWindows: a process-local map guarded by a mutex. Expired windows
//     are swept periodically.
//   - SQLiteWindows: a durable process-local table, one row per
//     (key, module, window start), updated in a transaction.
//
// NewWindowStore pairs a primary with a fallback in a store.Resilient; the
// engine never talks to an adapter directly. While the primary is down each
// process limits on its own fallback, so the effective global limit can be up
// to the number of processes times MaxRequests.
//
// # Manual Blocks
//
// With WithBlocks, Engine.Block refuses a key for a fixed duration, in one
// module or in every module (AllModules). CheckOptions.IdentityHints lets a
// single check match blocks on the caller's other identities too.
//
// # Cascades
//
// Engine.Cascade checks a sequence of stages and stops at the first refusal.
// A later stage can resolve its key lazily, so for example the user id behind
// an email is only looked up once the email itself passed.
//
// # Context and Error Policy
//
// Primary failures are absorbed by the store. CheckLimit returns an error only
// for invalid input, a cancelled context, or a failing fallback. The package
// does not impose "fail open" or "fail closed": the caller decides what to do
// with an error.
//
// # Configuration
//
// Engine and RedisWindows use the Functional Options pattern:
//
//	windows, _ := limiter.NewRedisWindows(client,
//		limiter.WithPrefix("rl:"),
//		limiter.WithTimeout(250*time.Millisecond),
//	)
//	engine, _ := limiter.NewEngine(
//		limiter.NewWindowStore(windows, limiter.NewMemoryWindows()),
//		registry,
//		limiter.WithRecorder(rec),
//		limiter.WithWarningThreshold(2),
//	)
package limiter
