package resilience

import (
	"context"
	"sync"
)

// Registry hands out circuit breakers keyed by provider and operation
// ("openai:llm.complete_structured") so that every call site guarding the same
// upstream shares the same breaker. Breakers are created lazily on first use
// with the registry's base configuration.
type Registry struct {
	mu       sync.Mutex
	base     CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a Registry. Zero-value fields of base fall back to the
// [NewCircuitBreaker] defaults; base.Name is ignored because each breaker is
// named after its key.
func NewRegistry(base CircuitBreakerConfig) *Registry {
	return &Registry{
		base:     base,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the given provider and operation, creating it on
// first use.
func (r *Registry) Get(provider, op string) *CircuitBreaker {
	key := provider + ":" + op
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[key]
	if !ok {
		cfg := r.base
		cfg.Name = key
		cb = NewCircuitBreaker(cfg)
		r.breakers[key] = cb
	}
	return cb
}

// Execute runs fn through the breaker for (provider, op).
func (r *Registry) Execute(provider, op string, fn func() error) error {
	return r.Get(provider, op).Execute(fn)
}

// States reports the current state of every breaker, keyed by "provider:op".
// Health checks use this to expose which upstreams are tripped.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make(map[string]State, len(r.breakers))
	for key, cb := range r.breakers {
		states[key] = cb.State()
	}
	return states
}

// ResetAll forces every breaker in the registry back to closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// Do runs fn under the full provider-call policy: every attempt passes through
// the (provider, op) breaker, and the retry loop re-runs retryable failures
// per cfg. Consecutive failing attempts trip the breaker; once open, the
// breaker rejects with [ErrCircuitOpen], which is non-retryable and aborts the
// loop immediately.
func Do[R any](ctx context.Context, reg *Registry, provider, op string, cfg RetryConfig, fn func(ctx context.Context) (R, error)) (R, error) {
	cb := reg.Get(provider, op)
	return RetryWithResult(ctx, cfg, func(ctx context.Context) (R, error) {
		var result R
		err := cb.Execute(func() error {
			var innerErr error
			result, innerErr = fn(ctx)
			return innerErr
		})
		if err != nil {
			var zero R
			return zero, err
		}
		return result, nil
	})
}
