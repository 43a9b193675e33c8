package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Identity is "who" is being limited within which quota policy.
type Identity struct {
	// Module namespaces independent quota policies ("auth", "import", "chat").
	Module string
	// Key is the composite key: a user id, an email, an IP or a combination.
	Key string
}

func (id Identity) String() string {
	return id.Module + ":" + id.Key
}

func (id Identity) validate() error {
	if strings.TrimSpace(id.Module) == "" || strings.TrimSpace(id.Key) == "" {
		return fmt.Errorf("%w: module and key are required", ErrInvalidIdentity)
	}
	return nil
}

// Policy governs how a module's windows evolve.
type Policy struct {
	MaxRequests int64
	Window      time.Duration
	// Block is how long a key stays blocked after exceeding MaxRequests. Zero
	// means no block: requests are refused until the window ends.
	Block  time.Duration
	Active bool
}

// Validate reports whether the policy can drive a window.
func (p Policy) Validate() error {
	switch {
	case p.MaxRequests <= 0:
		return fmt.Errorf("%w: max requests must be positive", ErrInvalidPolicy)
	case p.Window < time.Millisecond:
		return fmt.Errorf("%w: window must be at least 1ms", ErrInvalidPolicy)
	case p.Block < 0:
		return fmt.Errorf("%w: block duration must not be negative", ErrInvalidPolicy)
	}
	return nil
}

func (p Policy) windowMs() int64 { return p.Window.Milliseconds() }
func (p Policy) blockMs() int64  { return p.Block.Milliseconds() }

// Window is the accounting period for one identity. All timestamps are epoch
// milliseconds; BlockedUntil is zero when no block is set.
type Window struct {
	Count        int64 `msgpack:"count" json:"count"`
	Start        int64 `msgpack:"start" json:"window_start"`
	End          int64 `msgpack:"end" json:"window_end"`
	BlockedUntil int64 `msgpack:"blocked_until" json:"blocked_until,omitempty"`
}

// Blocked reports whether the window refuses requests at now.
func (w Window) Blocked(now int64) bool {
	return w.BlockedUntil > now
}

// Expired reports whether neither the window nor its block is in force at now.
func (w Window) Expired(now int64) bool {
	return now >= w.End && now >= w.BlockedUntil
}

// BlockType tags why a request was refused.
type BlockType string

const (
	BlockNone      BlockType = ""
	BlockAutomatic BlockType = "automatic"
	BlockManual    BlockType = "manual"
)

// Decision is the outcome of a check. Timestamps are epoch milliseconds.
type Decision struct {
	Allowed   bool
	Remaining int64
	// ResetTime is when the caller may retry: the block deadline when blocked,
	// the window end otherwise.
	ResetTime    int64
	BlockedUntil int64
	Warning      bool
	RetryAfter   time.Duration
	BlockType    BlockType
	// Source names the backend that served the check ("redis", "memory",
	// "sqlite"); empty when no backend was consulted.
	Source string
	Module string
	Key    string
}

// RetryAfterSeconds is ceil((deadline-now)/1s), floored at zero, where the
// deadline is BlockedUntil when set and ResetTime otherwise.
func (d Decision) RetryAfterSeconds(now time.Time) int64 {
	deadline := d.ResetTime
	if d.BlockedUntil > 0 {
		deadline = d.BlockedUntil
	}
	return ceilSeconds(deadline - now.UnixMilli())
}

func ceilSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}

// CheckOptions tunes a single check.
type CheckOptions struct {
	// Increment counts this request against the window. Without it the check
	// only reports the current state.
	Increment bool
	// IdentityHints are other identities of the same caller (IP, email, user
	// id). A manual block on any of them refuses the request.
	IdentityHints []string
}

// RateLimiter is the entry point HTTP handlers depend on.
type RateLimiter interface {
	CheckLimit(ctx context.Context, key, module string, opts CheckOptions) (Decision, error)
}
