package limiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/manenim/resilient-ratelimit/pkg/metrics"
)

// AllModules as a block's module refuses the key in every module.
const AllModules = "*"

// ErrBlocksDisabled is returned by Block and Unblock on an engine built
// without WithBlocks.
var ErrBlocksDisabled = errors.New("limiter: manual blocks are not configured")

// ManualBlock is an operator-issued block on one key. Timestamps are epoch ms.
type ManualBlock struct {
	Module    string `msgpack:"module" json:"module"`
	Key       string `msgpack:"key" json:"key"`
	Until     int64  `msgpack:"until" json:"until"`
	Reason    string `msgpack:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt int64  `msgpack:"created_at" json:"created_at"`
}

func blockKey(module, key string) string {
	return "block:" + module + ":" + key
}

// Block refuses key in module (or in every module with AllModules) for d.
func (e *Engine) Block(ctx context.Context, key, module string, d time.Duration, reason string) (ManualBlock, error) {
	if e.opts.blocks == nil {
		return ManualBlock{}, ErrBlocksDisabled
	}
	if err := (Identity{Module: module, Key: key}).validate(); err != nil {
		return ManualBlock{}, err
	}
	if d < time.Millisecond {
		return ManualBlock{}, fmt.Errorf("%w: block duration must be at least 1ms", ErrInvalidPolicy)
	}

	now := e.opts.clock()
	b := ManualBlock{
		Module:    module,
		Key:       key,
		Until:     now.Add(d).UnixMilli(),
		Reason:    strings.TrimSpace(reason),
		CreatedAt: now.UnixMilli(),
	}
	if err := e.opts.blocks.Set(ctx, blockKey(module, key), b, d); err != nil {
		return ManualBlock{}, fmt.Errorf("block %s:%s: %w", module, key, err)
	}

	e.opts.recorder.Add(metrics.RateLimitBlock, 1, map[string]string{
		"module":     module,
		"block_type": string(BlockManual),
	})
	e.opts.logger.Info("manual block set",
		zap.String("module", module),
		zap.String("key", key),
		zap.Duration("duration", d),
		zap.String("reason", b.Reason))
	return b, nil
}

// Unblock lifts a manual block. Lifting an absent block is not an error.
func (e *Engine) Unblock(ctx context.Context, key, module string) error {
	if e.opts.blocks == nil {
		return ErrBlocksDisabled
	}
	if err := (Identity{Module: module, Key: key}).validate(); err != nil {
		return err
	}
	if err := e.opts.blocks.Delete(ctx, blockKey(module, key)); err != nil {
		return fmt.Errorf("unblock %s:%s: %w", module, key, err)
	}
	e.opts.logger.Info("manual block lifted",
		zap.String("module", module),
		zap.String("key", key))
	return nil
}

// manualBlock returns the block with the latest deadline covering any of the
// caller's identities in module.
func (e *Engine) manualBlock(ctx context.Context, module string, keys []string, now int64) (ManualBlock, bool, error) {
	if e.opts.blocks == nil {
		return ManualBlock{}, false, nil
	}

	var (
		found bool
		out   ManualBlock
	)
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, m := range []string{module, AllModules} {
			b, ok, err := e.opts.blocks.Get(ctx, blockKey(m, key))
			if err != nil {
				return ManualBlock{}, false, fmt.Errorf("manual block lookup: %w", err)
			}
			if ok && b.Until > now && b.Until > out.Until {
				out, found = b, true
			}
		}
	}
	return out, found, nil
}
