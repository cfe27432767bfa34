package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vivadeck/vivadeck/pkg/provider/fault"
)

// RetryConfig holds tuning knobs for [Retry] and [RetryWithResult].
type RetryConfig struct {
	// Name labels log messages (e.g. "reason.evaluate"). Not used in errors;
	// the wrapped provider error already carries its origin.
	Name string

	// MaxAttempts is the total number of tries, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Default: 10s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each failed attempt. Default: 2.
	Multiplier float64

	// Jitter is the fraction of random spread applied to each delay: 0.1 turns
	// a 1s backoff into a delay drawn uniformly from [0.9s, 1.1s]. Default: 0.1.
	Jitter float64

	// AttemptTimeout bounds each individual attempt via a context deadline.
	// Default: 30s.
	AttemptTimeout time.Duration
}

// withDefaults returns cfg with zero-value fields replaced by defaults.
func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = 0.1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return cfg
}

// LLMRetryConfig returns the retry policy for LLM calls, which are slower and
// more aggressively rate-limited than the other providers: backoff starts at
// 2s and caps at 15s, and each attempt gets a 60s deadline.
func LLMRetryConfig(name string) RetryConfig {
	return RetryConfig{
		Name:           name,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     15 * time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

// Retry runs fn with exponential backoff until it succeeds, returns a
// non-retryable error, or exhausts MaxAttempts. Each attempt runs under its
// own deadline derived from ctx; between attempts the backoff grows by
// Multiplier (capped at MaxBackoff) with ±Jitter randomisation.
//
// Retry decisions use [fault.Retryable]: transient failures and timeouts are
// retried, permanent failures and context cancellation abort immediately.
//
// Retry is meant for request/response calls. Do not use it for calls that
// return live resources bound to ctx (streaming sessions): the per-attempt
// deadline would outlive the call and tear the resource down mid-use. Stream
// establishment goes through a [FallbackGroup] instead.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is [Retry] for functions that produce a value.
func RetryWithResult[R any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (R, error)) (R, error) {
	cfg = cfg.withDefaults()

	var (
		zero    R
		lastErr error
	)
	backoff := cfg.InitialBackoff
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := jittered(backoff, cfg.Jitter)
			slog.Debug("retrying after backoff",
				"name", cfg.Name,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("retry aborted: %w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(delay):
			}
			backoff = min(time.Duration(float64(backoff)*cfg.Multiplier), cfg.MaxBackoff)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		result, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !fault.Retryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%d attempts exhausted: %w", cfg.MaxAttempts, lastErr)
}

// jittered spreads d uniformly across [d*(1-f), d*(1+f)].
func jittered(d time.Duration, f float64) time.Duration {
	if f <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * f
	return time.Duration(float64(d) * (1 + spread))
}
