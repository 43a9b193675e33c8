package store

import (
	"time"

	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/pkg/metrics"
)

const (
	DefaultRetryInterval = 60 * time.Second
	DefaultTimeout       = 250 * time.Millisecond
	DefaultProbeTimeout  = 200 * time.Millisecond
)

type options struct {
	retryInterval time.Duration
	timeout       time.Duration
	probeTimeout  time.Duration
	recorder      metrics.Recorder
	logger        *zap.Logger
	clock         func() time.Time
}

func defaultOptions() options {
	return options{
		retryInterval: DefaultRetryInterval,
		timeout:       DefaultTimeout,
		probeTimeout:  DefaultProbeTimeout,
		recorder:      &metrics.NoOpRecorder{},
		logger:        zap.NewNop(),
		clock:         time.Now,
	}
}

// Option configures a resilient store.
type Option func(*options)

// WithRetryInterval sets the cooldown spent on the fallback before the primary
// is probed again.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}

// WithTimeout bounds every primary operation, independent of the caller's
// context deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithProbeTimeout bounds the recovery probe sent to the primary after a
// cooldown. It should be short so a still-degraded primary does not stall
// the calling request.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// WithRecorder injects a metrics backend.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger sets the logger used for failover transitions.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}
