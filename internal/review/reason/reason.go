// Package reason materialises the four structured LLM tasks of a review
// session: per-slide AI-content detection, question generation, answer
// evaluation, and the final report.
//
// Each task sends a fixed prompt through [llm.Provider.CompleteStructured]
// with a JSON schema declared next to the task, decodes the reply strictly,
// and validates field ranges before returning a typed value from the review
// package. Malformed or schema-violating replies count as transient provider
// failures so the retry wrapper asks the model again.
//
// A [Reasoner] is safe for concurrent use; all state is set at construction.
package reason

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/vivadeck/vivadeck/internal/resilience"
	"github.com/vivadeck/vivadeck/pkg/provider/fault"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
)

// faultProvider labels reply-decode failures in wrapped errors. The model
// produced output we could not use, so the fault belongs to the LLM side.
const faultProvider = "llm"

// ContextProvider supplies artifact passages relevant to a query string.
// Satisfied by the retrieval index; a nil provider disables grounding.
type ContextProvider interface {
	ContextFor(ctx context.Context, sessionID, query string, maxChunks int) (string, error)
}

// Reasoner runs the structured reasoning tasks against one LLM backend.
type Reasoner struct {
	provider llm.Provider
	grounds  ContextProvider
	retry    resilience.RetryConfig
	breakers *resilience.Registry
	backend  string
}

// Option is a functional option for [NewReasoner].
type Option func(*Reasoner)

// WithContextProvider attaches a retrieval source used to ground answer
// evaluation in the artifact. Without one, evaluation falls back to the
// context captured at question-generation time.
func WithContextProvider(cp ContextProvider) Option {
	return func(r *Reasoner) { r.grounds = cp }
}

// WithRetry overrides the per-call retry policy. The config's Name is
// replaced with the task's operation label on each call.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Reasoner) { r.retry = cfg }
}

// WithBreakers routes every task through the shared circuit-breaker registry,
// keyed by the backend name and the task's operation label. A streak of
// failures in one task (say, report generation) then trips only that task's
// breaker, leaving answer evaluation against the same backend live.
func WithBreakers(backend string, reg *resilience.Registry) Option {
	return func(r *Reasoner) {
		r.backend = backend
		r.breakers = reg
	}
}

// NewReasoner creates a [Reasoner] over provider. By default calls use the
// LLM retry policy (2s initial backoff, 60s attempt deadline).
func NewReasoner(provider llm.Provider, opts ...Option) *Reasoner {
	r := &Reasoner{
		provider: provider,
		retry:    resilience.LLMRetryConfig("reason"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// retryFor returns the retry policy labelled with the task's operation.
func (r *Reasoner) retryFor(op string) resilience.RetryConfig {
	cfg := r.retry
	cfg.Name = op
	return cfg
}

// structuredTask sends req to the model under the retry policy for op and
// decodes the reply into a fresh T on every attempt. When a breaker registry
// is attached, every attempt also passes through the (backend, op) breaker.
//
// check runs after a successful decode and may normalise the value in place
// (clamping numeric ranges) or reject it outright (unknown enum values).
// Decode and check failures are classified transient: the model is
// stochastic, so a regenerated reply can succeed where the last one failed.
func structuredTask[T any](ctx context.Context, r *Reasoner, op string, req llm.StructuredRequest, check func(*T) error) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		var out T
		raw, err := r.provider.CompleteStructured(ctx, req)
		if err != nil {
			return out, err
		}
		if err := decodeStrict(raw, &out); err != nil {
			return out, fault.Transient(faultProvider, op, err)
		}
		if check != nil {
			if err := check(&out); err != nil {
				return out, fault.Transient(faultProvider, op, err)
			}
		}
		return out, nil
	}
	if r.breakers != nil {
		return resilience.Do(ctx, r.breakers, r.backend, op, r.retryFor(op), attempt)
	}
	return resilience.RetryWithResult(ctx, r.retryFor(op), attempt)
}

// decodeStrict unmarshals raw into out, rejecting fields the target does
// not declare. Schema-constrained backends never trip this; prompt-level
// backends occasionally invent fields, and those replies are retried.
func decodeStrict(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}
