package limiter

import (
	"time"

	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/pkg/metrics"
	"github.com/manenim/resilient-ratelimit/pkg/store"
)

// DefaultWarningThreshold is the remaining count at or below which an
// allowed decision carries a warning.
const DefaultWarningThreshold = 2

type engineOptions struct {
	recorder metrics.Recorder
	logger   *zap.Logger
	clock    func() time.Time
	warnAt   int64
	blocks   *store.Cache[ManualBlock]
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithRecorder injects a metrics backend.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *engineOptions) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger sets the logger for block and unknown-module events.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithWarningThreshold sets the remaining count at or below which allowed
// decisions carry a warning.
func WithWarningThreshold(n int64) Option {
	return func(o *engineOptions) {
		if n >= 0 {
			o.warnAt = n
		}
	}
}

// WithBlocks enables manual blocks backed by c. Without it Block and Unblock
// return ErrBlocksDisabled.
func WithBlocks(c *store.Cache[ManualBlock]) Option {
	return func(o *engineOptions) {
		o.blocks = c
	}
}
