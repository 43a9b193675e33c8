package limiter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultPolicy applies to modules without a registered policy.
var DefaultPolicy = Policy{
	MaxRequests: 10,
	Window:      time.Minute,
	Block:       5 * time.Minute,
	Active:      true,
}

// PolicyLoader resolves a module's policy on first use. found is false when
// the module has no policy of its own.
type PolicyLoader func(ctx context.Context, module string) (p Policy, found bool, err error)

type policyEntry struct {
	policy Policy
	found  bool
}

// PolicyRegistry holds per-module policies. Each module is resolved at most
// once; later lookups are served from memory.
type PolicyRegistry struct {
	mu       sync.RWMutex
	def      Policy
	policies map[string]policyEntry
	loader   PolicyLoader
}

// NewPolicyRegistry returns a registry whose unknown modules fall back to def.
func NewPolicyRegistry(def Policy) (*PolicyRegistry, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	return &PolicyRegistry{
		def:      def,
		policies: make(map[string]policyEntry),
	}, nil
}

// SetLoader installs a loader for modules that were not registered up front.
func (r *PolicyRegistry) SetLoader(l PolicyLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loader = l
}

// Register sets the policy for module, replacing any previous one.
func (r *PolicyRegistry) Register(module string, p Policy) error {
	module = strings.TrimSpace(module)
	if module == "" {
		return fmt.Errorf("%w: module name is required", ErrInvalidPolicy)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("module %q: %w", module, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[module] = policyEntry{policy: p, found: true}
	return nil
}

// Lookup returns the module's policy, or the default policy and false when
// the module is unknown.
func (r *PolicyRegistry) Lookup(ctx context.Context, module string) (Policy, bool, error) {
	r.mu.RLock()
	e, ok := r.policies[module]
	loader := r.loader
	r.mu.RUnlock()

	if ok {
		return r.resolve(e), e.found, nil
	}
	if loader == nil {
		return r.def, false, nil
	}

	p, found, err := loader(ctx, module)
	if err != nil {
		return Policy{}, false, fmt.Errorf("load policy %q: %w", module, err)
	}
	if found {
		if err := p.Validate(); err != nil {
			return Policy{}, false, fmt.Errorf("module %q: %w", module, err)
		}
	}

	r.mu.Lock()
	if cur, ok := r.policies[module]; ok {
		e = cur
	} else {
		e = policyEntry{policy: p, found: found}
		r.policies[module] = e
	}
	r.mu.Unlock()
	return r.resolve(e), e.found, nil
}

func (r *PolicyRegistry) resolve(e policyEntry) Policy {
	if e.found {
		return e.policy
	}
	return r.def
}

// Default returns the policy applied to unknown modules.
func (r *PolicyRegistry) Default() Policy {
	return r.def
}

// Modules lists the modules with a policy of their own, sorted.
func (r *PolicyRegistry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.policies))
	for m, e := range r.policies {
		if e.found {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
