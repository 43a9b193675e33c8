package limiter

import (
	"context"
	"fmt"
	"strings"
)

// Stage is one check in a cascade. When Key is empty and Resolve is set, the
// key is resolved only after every earlier stage has passed; a resolved empty
// key skips the stage.
type Stage struct {
	Key     string
	Module  string
	Resolve func(ctx context.Context) (string, error)
	Options CheckOptions
}

// CascadeResult reports every evaluated stage. Denied is the index of the
// refusing stage, or -1 when all stages passed.
type CascadeResult struct {
	Allowed   bool
	Denied    int
	Decisions []Decision
}

// Decision returns the decision the caller should act on: the refusing one,
// or the last evaluated stage when all passed.
func (r CascadeResult) Decision() Decision {
	if r.Denied >= 0 {
		return r.Decisions[r.Denied]
	}
	if len(r.Decisions) == 0 {
		return Decision{Allowed: true}
	}
	return r.Decisions[len(r.Decisions)-1]
}

// Cascade runs stages in order and stops at the first refusal, so a coarse
// identity (an email) is checked before a finer one (the user id it maps to)
// is ever looked up.
func (e *Engine) Cascade(ctx context.Context, stages ...Stage) (CascadeResult, error) {
	out := CascadeResult{Allowed: true, Denied: -1, Decisions: make([]Decision, 0, len(stages))}

	for i, s := range stages {
		key := s.Key
		if strings.TrimSpace(key) == "" && s.Resolve != nil {
			k, err := s.Resolve(ctx)
			if err != nil {
				return out, fmt.Errorf("cascade stage %d (%s): resolve key: %w", i, s.Module, err)
			}
			key = k
		}
		if strings.TrimSpace(key) == "" {
			continue
		}

		d, err := e.CheckLimit(ctx, key, s.Module, s.Options)
		if err != nil {
			return out, fmt.Errorf("cascade stage %d (%s): %w", i, s.Module, err)
		}
		out.Decisions = append(out.Decisions, d)
		if !d.Allowed {
			out.Allowed = false
			out.Denied = len(out.Decisions) - 1
			return out, nil
		}
	}
	return out, nil
}
