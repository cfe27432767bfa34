// Package fault classifies provider errors into the three kinds the
// resilience wrappers distinguish: transient (retryable), permanent
// (non-retryable), and timeout.
//
// Every provider adapter (ASR, TTS, LLM, embeddings) wraps its failures in a
// [*Error] so that callers can decide on retry behaviour with [Retryable]
// without knowing which vendor produced the failure. Unclassified errors are
// treated as permanent — retrying is opt-in, never accidental.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind discriminates provider failures for retry decisions.
type Kind int

const (
	// KindPermanent marks non-retryable failures: bad requests, auth and
	// quota errors, schema mismatches. This is the default for errors that
	// carry no classification.
	KindPermanent Kind = iota

	// KindTransient marks retryable failures: rate limits, socket resets,
	// gateway 502/503 responses.
	KindTransient

	// KindTimeout marks deadline expiry, either local (context) or remote
	// (408/504). Timeouts are retryable.
	KindTimeout
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure. Provider and Op identify the
// origin ("deepgram", "stt.stream") for logs and circuit-breaker keys.
type Error struct {
	Provider string
	Op       string
	Kind     Kind
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s error", e.Provider, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable transient failure.
func Transient(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindPermanent, Err: err}
}

// Timeout wraps err as a timeout failure.
func Timeout(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindTimeout, Err: err}
}

// FromStatus classifies an HTTP response status. Rate limits and gateway
// failures are transient, request/gateway timeouts are timeouts, everything
// else is permanent.
func FromStatus(provider, op string, status int, err error) *Error {
	kind := KindPermanent
	switch status {
	case 429, 502, 503:
		kind = KindTransient
	case 408, 504:
		kind = KindTimeout
	}
	return &Error{Provider: provider, Op: op, Kind: kind, Err: err}
}

// KindOf reports the classification of err.
//
// A wrapped [*Error] is authoritative. Otherwise context deadline expiry and
// net timeouts classify as timeout; context cancellation and anything
// unclassified are permanent, so callers never retry work that was
// deliberately cancelled.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindPermanent
}

// Retryable reports whether err may be retried: transient failures and
// timeouts qualify, permanent failures and cancellations do not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}
