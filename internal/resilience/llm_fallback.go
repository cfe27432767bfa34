package resilience

import (
	"context"
	"encoding/json"

	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend is guarded per operation by the group's breaker
// registry; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// Operation labels keying this wrapper's circuit breakers.
const (
	opComplete           = "llm.complete"
	opCompleteStructured = "llm.complete_structured"
	opStreamCompletion   = "llm.stream_completion"
	opCountTokens        = "llm.count_tokens"
)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, opComplete, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CompleteStructured asks the first healthy provider for schema-constrained
// JSON. Backends without native structured output still satisfy the contract
// via prompt-level extraction, so failing over between heterogeneous backends
// is safe: the caller always receives syntactically valid JSON or an error.
func (f *LLMFallback) CompleteStructured(ctx context.Context, req llm.StructuredRequest) (json.RawMessage, error) {
	return ExecuteWithResult(f.group, opCompleteStructured, func(p llm.Provider) (json.RawMessage, error) {
		return p.CompleteStructured(ctx, req)
	})
}

// StreamCompletion sends the request to the first healthy provider and returns
// a streaming chunk channel. Note: only the initial connection attempt is
// covered by failover; once a stream is established, mid-stream errors are the
// caller's responsibility.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, opStreamCompletion, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy provider's token counter.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(f.group, opCountTokens, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the capabilities of the first entry (the primary).
// This does not participate in failover because capabilities are static
// metadata.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return types.ModelCapabilities{}
}
