package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/pkg/metrics"
	"github.com/manenim/resilient-ratelimit/pkg/store"
)

// Engine answers "may this key do this now?" per module, on top of a
// resilient window store.
type Engine struct {
	windows  *store.Resilient[WindowBackend]
	policies *PolicyRegistry
	opts     engineOptions
}

// NewEngine builds an engine over windows. policies resolves each module's
// policy; unknown modules get the registry default.
func NewEngine(windows *store.Resilient[WindowBackend], policies *PolicyRegistry, opts ...Option) (*Engine, error) {
	if windows == nil {
		return nil, errors.New("limiter: window store is required")
	}
	if policies == nil {
		return nil, errors.New("limiter: policy registry is required")
	}

	o := engineOptions{
		recorder: &metrics.NoOpRecorder{},
		logger:   zap.NewNop(),
		clock:    time.Now,
		warnAt:   DefaultWarningThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{windows: windows, policies: policies, opts: o}, nil
}

type hitResult struct {
	window Window
	step   Step
}

// CheckLimit evaluates one request from key against module's policy. With
// opts.Increment the request is counted; without it the check only reports.
func (e *Engine) CheckLimit(ctx context.Context, key, module string, opts CheckOptions) (Decision, error) {
	start := time.Now()
	id := Identity{Module: module, Key: key}
	if err := id.validate(); err != nil {
		return Decision{}, err
	}

	p, known, err := e.policies.Lookup(ctx, module)
	if err != nil {
		return Decision{}, err
	}
	if !known {
		e.opts.recorder.Add(metrics.RateLimitUnknownModule, 1, map[string]string{"module": module})
		e.opts.logger.Debug("no policy for module, using default", zap.String("module", module))
	}

	nowT := e.opts.clock()
	now := nowT.UnixMilli()

	defer func() {
		e.opts.recorder.Observe(metrics.RateLimitLatency, time.Since(start).Seconds(), map[string]string{"module": module})
	}()

	keys := append([]string{key}, opts.IdentityHints...)
	if b, blocked, err := e.manualBlock(ctx, module, keys, now); err != nil {
		return Decision{}, err
	} else if blocked {
		d := Decision{
			ResetTime:    b.Until,
			BlockedUntil: b.Until,
			RetryAfter:   msDuration(b.Until - now),
			BlockType:    BlockManual,
			Module:       module,
			Key:          key,
		}
		e.recordCheck(d)
		return d, nil
	}

	if !p.Active {
		d := Decision{Allowed: true, Remaining: p.MaxRequests, ResetTime: now, Module: module, Key: key}
		e.recordCheck(d)
		return d, nil
	}

	res, source, err := store.ExecuteFrom(ctx, e.windows, "hit", func(ctx context.Context, b WindowBackend) (hitResult, error) {
		w, st, err := b.Hit(ctx, id, p, now, opts.Increment)
		return hitResult{window: w, step: st}, err
	})
	if err != nil {
		return Decision{}, fmt.Errorf("check limit %s: %w", id, err)
	}

	d := decide(res.window, res.step, p, now, e.opts.warnAt)
	d.Source, d.Module, d.Key = source, module, key

	if res.step == StepNewlyBlocked {
		e.opts.recorder.Add(metrics.RateLimitBlock, 1, map[string]string{
			"module":     module,
			"block_type": string(BlockAutomatic),
		})
		e.opts.logger.Info("rate limit exceeded, key blocked",
			zap.String("module", module),
			zap.String("key", key),
			zap.Int64("count", res.window.Count),
			zap.Time("blocked_until", time.UnixMilli(res.window.BlockedUntil)),
			zap.String("backend", source))
	}
	e.recordCheck(d)
	return d, nil
}

func (e *Engine) recordCheck(d Decision) {
	result := "allowed"
	if !d.Allowed {
		result = "blocked"
	}
	e.opts.recorder.Add(metrics.RateLimitCheck, 1, map[string]string{"module": d.Module, "result": result})
}

// Peek reports the current decision for key without counting a request.
func (e *Engine) Peek(ctx context.Context, key, module string) (Decision, error) {
	return e.CheckLimit(ctx, key, module, CheckOptions{})
}

// Reset drops key's window in module on the backend currently serving the
// store. A manual block is not lifted; use Unblock.
func (e *Engine) Reset(ctx context.Context, key, module string) error {
	id := Identity{Module: module, Key: key}
	if err := id.validate(); err != nil {
		return err
	}
	_, err := store.Execute(ctx, e.windows, "reset", func(ctx context.Context, b WindowBackend) (struct{}, error) {
		return struct{}{}, b.Reset(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("reset %s: %w", id, err)
	}
	e.opts.logger.Info("rate limit window reset", zap.String("module", module), zap.String("key", key))
	return nil
}

// Window returns key's stored window in module, if any.
func (e *Engine) Window(ctx context.Context, key, module string) (Window, bool, error) {
	id := Identity{Module: module, Key: key}
	if err := id.validate(); err != nil {
		return Window{}, false, err
	}
	type loaded struct {
		w  Window
		ok bool
	}
	res, err := store.Execute(ctx, e.windows, "load", func(ctx context.Context, b WindowBackend) (loaded, error) {
		w, ok, err := b.Load(ctx, id)
		return loaded{w: w, ok: ok}, err
	})
	if err != nil {
		return Window{}, false, fmt.Errorf("load %s: %w", id, err)
	}
	return res.w, res.ok, nil
}

// Policies returns the engine's policy registry.
func (e *Engine) Policies() *PolicyRegistry {
	return e.policies
}

// HealthCheck reports the window store's health.
func (e *Engine) HealthCheck(ctx context.Context) store.Health {
	return e.windows.HealthCheck(ctx)
}

// State reports which window backend is serving.
func (e *Engine) State() store.FailoverState {
	return e.windows.State()
}

// Shutdown releases the window store and the manual block cache.
func (e *Engine) Shutdown() {
	e.windows.Shutdown()
	if e.opts.blocks != nil {
		e.opts.blocks.Shutdown()
	}
}

var _ RateLimiter = (*Engine)(nil)
