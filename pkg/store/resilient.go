package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/pkg/metrics"
)

// FailoverState is the process-local view of which backend serves the store.
// It is never persisted: a restarted process always tries the primary first.
type FailoverState struct {
	UsingPrimary        bool
	LastFailureAt       time.Time
	FallbackActiveSince time.Time
}

// Resilient routes operations to a primary backend and fails over to a
// fallback backend when the primary errors. It is safe for concurrent use.
type Resilient[A Backend] struct {
	name     string
	primary  A
	fallback A
	local    bool
	opts     options

	mu      sync.Mutex
	state   FailoverState
	probing bool
	closed  bool
}

// New returns a store that prefers primary and falls back to fallback.
func New[A Backend](name string, primary, fallback A, opts ...Option) *Resilient[A] {
	s := &Resilient[A]{
		name:     name,
		primary:  primary,
		fallback: fallback,
		opts:     defaultOptions(),
		state:    FailoverState{UsingPrimary: true},
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.setActiveGauge(true)
	return s
}

// NewLocal returns a store served by fallback alone, for deployments where no
// primary is configured. It never probes.
func NewLocal[A Backend](name string, fallback A, opts ...Option) *Resilient[A] {
	s := &Resilient[A]{
		name:     name,
		fallback: fallback,
		local:    true,
		opts:     defaultOptions(),
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.setActiveGauge(false)
	return s
}

// Name returns the store name used in metric tags.
func (s *Resilient[A]) Name() string {
	return s.name
}

// State returns a snapshot of the failover state.
func (s *Resilient[A]) State() FailoverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Execute runs fn against the backend selected by the failover state machine
// and returns its result.
func Execute[A Backend, R any](ctx context.Context, s *Resilient[A], op string, fn func(context.Context, A) (R, error)) (R, error) {
	r, _, err := ExecuteFrom(ctx, s, op, fn)
	return r, err
}

// ExecuteFrom is Execute that also reports the name of the backend whose
// result was returned.
func ExecuteFrom[A Backend, R any](ctx context.Context, s *Resilient[A], op string, fn func(context.Context, A) (R, error)) (R, string, error) {
	var zero R
	if ctx == nil {
		ctx = context.Background()
	}

	usePrimary, probe, err := s.route()
	if err != nil {
		return zero, "", err
	}

	if usePrimary {
		r, served, err := callPrimary(ctx, s, op, probe, fn)
		if served {
			return r, s.primary.Name(), nil
		}
		if err != nil {
			return zero, "", err
		}
	}

	// A deadline that ran out on the primary must not also sink the fallback.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.opts.timeout)
		defer cancel()
	}

	start := s.opts.clock()
	r, err := fn(ctx, s.fallback)
	s.observe(op, s.fallback.Name(), start)
	if err != nil {
		return zero, "", &BackendError{Backend: s.fallback.Name(), Op: op, Err: err}
	}
	return r, s.fallback.Name(), nil
}

// callPrimary runs fn on the primary. served reports a primary result; a nil
// error with served false means the caller should use the fallback. Only an
// explicit cancellation by the caller is returned as an error, and it is not
// counted against the primary. The probe slot is released on every path,
// including a panic in fn.
func callPrimary[A Backend, R any](ctx context.Context, s *Resilient[A], op string, probe bool, fn func(context.Context, A) (R, error)) (r R, served bool, err error) {
	settled := false
	if probe {
		defer func() {
			if !settled {
				s.releaseProbe()
			}
		}()
	}

	timeout := s.opts.timeout
	if probe {
		timeout = s.opts.probeTimeout
	}

	start := s.opts.clock()
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	r, err = fn(pctx, s.primary)
	s.observe(op, s.primary.Name(), start)

	if err == nil {
		if probe {
			s.recovered()
		}
		settled = true
		return r, true, nil
	}

	var zero R
	if errors.Is(ctx.Err(), context.Canceled) {
		return zero, false, ctx.Err()
	}
	s.failed(op, err, probe)
	settled = true
	return zero, false, nil
}

// route decides which backend serves the next operation. probe is true when
// the call is the single recovery attempt allowed after a cooldown.
func (s *Resilient[A]) route() (usePrimary bool, probe bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, false, ErrClosed
	}
	if s.local {
		return false, false, nil
	}
	if s.state.UsingPrimary {
		return true, false, nil
	}
	if s.probing {
		return false, false, nil
	}
	if s.opts.clock().Sub(s.state.LastFailureAt) > s.opts.retryInterval {
		s.probing = true
		return true, true, nil
	}
	return false, false, nil
}

func (s *Resilient[A]) failed(op string, cause error, probe bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.clock()
	s.opts.recorder.Add(metrics.StorePrimaryFailure, 1, map[string]string{"store": s.name, "op": op})

	if probe {
		s.probing = false
	}
	s.state.LastFailureAt = now

	if !s.state.UsingPrimary {
		s.opts.logger.Debug("primary probe failed, staying on fallback",
			zap.String("store", s.name),
			zap.String("op", op),
			zap.Error(cause))
		return
	}

	s.state.UsingPrimary = false
	if s.state.FallbackActiveSince.IsZero() {
		s.state.FallbackActiveSince = now
	}
	s.opts.recorder.Add(metrics.StoreBackendSwitch, 1, map[string]string{
		"store": s.name,
		"from":  s.primary.Name(),
		"to":    s.fallback.Name(),
	})
	s.setActiveGauge(false)
	s.opts.logger.Warn("primary backend failed, switched to fallback",
		zap.String("store", s.name),
		zap.String("op", op),
		zap.String("primary", s.primary.Name()),
		zap.String("fallback", s.fallback.Name()),
		zap.Duration("retry_interval", s.opts.retryInterval),
		zap.Error(cause))
}

func (s *Resilient[A]) recovered() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.probing = false
	if s.state.UsingPrimary {
		return
	}

	now := s.opts.clock()
	active := now.Sub(s.state.FallbackActiveSince)

	s.state.UsingPrimary = true
	s.state.LastFailureAt = time.Time{}
	s.state.FallbackActiveSince = time.Time{}

	s.opts.recorder.Add(metrics.StoreBackendSwitch, 1, map[string]string{
		"store": s.name,
		"from":  s.fallback.Name(),
		"to":    s.primary.Name(),
	})
	s.opts.recorder.Observe(metrics.StoreFallbackDuration, active.Seconds(), map[string]string{"store": s.name})
	s.setActiveGauge(true)
	s.opts.logger.Info("primary backend recovered",
		zap.String("store", s.name),
		zap.String("primary", s.primary.Name()),
		zap.Duration("fallback_active", active))
}

func (s *Resilient[A]) releaseProbe() {
	s.mu.Lock()
	s.probing = false
	s.mu.Unlock()
}

func (s *Resilient[A]) observe(op, backend string, start time.Time) {
	s.opts.recorder.Observe(metrics.StoreOperationDuration, s.opts.clock().Sub(start).Seconds(), map[string]string{
		"store":   s.name,
		"op":      op,
		"backend": backend,
	})
}

// setActiveGauge must be called with s.mu held or before the store is shared.
func (s *Resilient[A]) setActiveGauge(primaryActive bool) {
	if !s.local {
		s.opts.recorder.Set(metrics.StoreBackendActive, boolGauge(primaryActive), map[string]string{
			"store":   s.name,
			"backend": s.primary.Name(),
		})
	}
	s.opts.recorder.Set(metrics.StoreBackendActive, boolGauge(!primaryActive), map[string]string{
		"store":   s.name,
		"backend": s.fallback.Name(),
	})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// BackendHealth is the probe result for one adapter.
type BackendHealth struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Health summarises both adapters. The store is healthy as long as the
// fallback is; Degraded is set when the primary is configured but unhealthy.
type Health struct {
	Healthy      bool           `json:"healthy"`
	Degraded     bool           `json:"degraded"`
	Latency      time.Duration  `json:"latency"`
	Error        string         `json:"error,omitempty"`
	UsingPrimary bool           `json:"using_primary"`
	Primary      *BackendHealth `json:"primary,omitempty"`
	Fallback     BackendHealth  `json:"fallback"`
}

// HealthCheck pings both adapters independently. It does not change the
// failover state.
func (s *Resilient[A]) HealthCheck(ctx context.Context) Health {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	closed := s.closed
	usingPrimary := s.state.UsingPrimary
	s.mu.Unlock()

	if closed {
		return Health{Healthy: false, Error: ErrClosed.Error()}
	}

	h := Health{UsingPrimary: usingPrimary}
	h.Fallback = s.ping(ctx, s.fallback, s.opts.timeout)

	if !s.local {
		p := s.ping(ctx, s.primary, s.opts.probeTimeout)
		h.Primary = &p
		h.Degraded = !p.Healthy
	}

	h.Healthy = h.Fallback.Healthy
	switch {
	case h.Primary != nil && h.Primary.Healthy:
		h.Latency = h.Primary.Latency
	default:
		h.Latency = h.Fallback.Latency
	}

	switch {
	case !h.Fallback.Healthy:
		h.Error = h.Fallback.Error
	case h.Degraded:
		h.Error = h.Primary.Error
	}
	return h
}

func (s *Resilient[A]) ping(ctx context.Context, b A, timeout time.Duration) BackendHealth {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := b.Ping(pctx)
	out := BackendHealth{
		Name:    b.Name(),
		Healthy: err == nil,
		Latency: time.Since(start),
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// Shutdown closes both adapters. Errors are logged and swallowed so a failing
// primary never prevents the fallback from being released. It is safe to call
// more than once.
func (s *Resilient[A]) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if !s.local {
		s.closeBackend(s.primary)
	}
	s.closeBackend(s.fallback)
}

func (s *Resilient[A]) closeBackend(b A) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Warn("backend close panicked",
				zap.String("store", s.name),
				zap.String("backend", b.Name()),
				zap.Any("panic", r))
		}
	}()
	if err := b.Close(); err != nil && !errors.Is(err, ErrClosed) {
		s.opts.logger.Warn("backend close failed",
			zap.String("store", s.name),
			zap.String("backend", b.Name()),
			zap.Error(err))
	}
}
