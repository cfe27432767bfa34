package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the circuit breakers guarding each provider in a
// [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the base breaker configuration. Ignored when
	// Breakers is set.
	CircuitBreaker CircuitBreakerConfig

	// Breakers is an optional shared [Registry]. When set, the group draws
	// its breakers from it, so a provider tripped through one wrapper is
	// seen as tripped everywhere that shares the registry. When nil, the
	// group keeps a private registry built from CircuitBreaker.
	Breakers *Registry
}

// fallbackEntry pairs a provider value with its registered name.
type fallbackEntry[T any] struct {
	name  string
	value T
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// Breakers come from a [Registry] keyed by provider and operation, so the
// primary's failing synthesize path does not block its voice listing, and two
// groups sharing a registry share breaker state for the same upstream.
//
// FallbackGroup is safe for concurrent use after registration; AddFallback
// must not race with Execute.
type FallbackGroup[T any] struct {
	entries  []fallbackEntry[T]
	breakers *Registry
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	reg := cfg.Breakers
	if reg == nil {
		reg = NewRegistry(cfg.CircuitBreaker)
	}
	return &FallbackGroup[T]{
		entries: []fallbackEntry[T]{
			{name: primaryName, value: primary},
		},
		breakers: reg,
	}
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order
// they are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: fallback})
}

// Execute tries fn against each entry in order until one succeeds, guarding
// each attempt with the entry's breaker for op. Circuit-breaker-open entries
// are skipped. Returns [ErrAllFailed] wrapping the last error if every entry
// fails, so the caller can still inspect the underlying fault classification.
func (fg *FallbackGroup[T]) Execute(op string, fn func(T) error) error {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		err := fg.breakers.Execute(entry.name, op, func() error {
			return fn(entry.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)",
				"provider", entry.name, "op", op)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "op", op, "error", err)
		}
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds, returning both the result value and error. This is a package-level
// function because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], op string, fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := fg.breakers.Execute(entry.name, op, func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)",
				"provider", entry.name, "op", op)
		} else {
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "op", op, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
