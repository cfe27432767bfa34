package reason_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vivadeck/vivadeck/internal/resilience"
	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/internal/review/reason"
	"github.com/vivadeck/vivadeck/pkg/provider/fault"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	llmmock "github.com/vivadeck/vivadeck/pkg/provider/llm/mock"
)

// fastRetry keeps test retries in the millisecond range.
func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func newTestReasoner(p llm.Provider, opts ...reason.Option) *reason.Reasoner {
	return reason.NewReasoner(p, append([]reason.Option{reason.WithRetry(fastRetry())}, opts...)...)
}

// evaluationJSON builds a well-formed answer_evaluation reply.
func evaluationJSON(score int, feedback string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"score":%d,"feedback":%q,"demonstrates_understanding":true,"flagged_concerns":[]}`,
		score, feedback))
}

func TestReasoner_MalformedReplyIsRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	p := &llmmock.Provider{
		StructuredFunc: func(req llm.StructuredRequest) (json.RawMessage, error) {
			calls++
			if calls == 1 {
				// Unknown field trips the strict decoder.
				return json.RawMessage(`{"score":5,"grade":"B"}`), nil
			}
			return evaluationJSON(7, "solid answer"), nil
		},
	}
	r := newTestReasoner(p)

	ev, err := r.EvaluateAnswer(t.Context(), "sess-1", question("q1", review.LevelEasy), "we shard by tenant id")
	if err != nil {
		t.Fatalf("EvaluateAnswer: %v", err)
	}
	if calls != 2 {
		t.Errorf("provider called %d times, want 2 (retry after bad reply)", calls)
	}
	if ev.Score != 7 {
		t.Errorf("Score=%d, want 7 from the second reply", ev.Score)
	}
}

func TestReasoner_PermanentProviderErrorNotRetried(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StructuredErr: fault.Permanent("openai", "llm.structured", errors.New("invalid api key")),
	}
	r := newTestReasoner(p)

	_, err := r.EvaluateAnswer(t.Context(), "sess-1", question("q1", review.LevelEasy), "an answer")
	if err == nil {
		t.Fatal("expected error from permanent provider failure")
	}
	if got := len(p.StructuredCalls); got != 1 {
		t.Errorf("provider called %d times, want 1 (no retry on permanent)", got)
	}
}

func TestReasoner_BadReplyEveryAttemptExhaustsRetries(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		// Type mismatch on every attempt: score is a string.
		StructuredResponse: json.RawMessage(`{"score":"seven","feedback":"","demonstrates_understanding":false,"flagged_concerns":[]}`),
	}
	r := newTestReasoner(p)

	_, err := r.EvaluateAnswer(t.Context(), "sess-1", question("q1", review.LevelEasy), "an answer")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "attempts exhausted") {
		t.Errorf("error %q does not mention exhausted attempts", err)
	}
	if got := len(p.StructuredCalls); got != 2 {
		t.Errorf("provider called %d times, want 2", got)
	}
}

func TestReasoner_BreakerTripsForFailingTask(t *testing.T) {
	t.Parallel()

	reg := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	p := &llmmock.Provider{
		StructuredErr: fault.Permanent("openai", "llm.structured", errors.New("invalid api key")),
	}
	r := newTestReasoner(p, reason.WithBreakers("openai", reg))

	// Two consecutive failed evaluations trip the task's breaker.
	for i := 0; i < 2; i++ {
		if _, err := r.EvaluateAnswer(t.Context(), "sess-1", question("q1", review.LevelEasy), "an answer"); err == nil {
			t.Fatal("expected error from failing provider")
		}
	}
	if got := reg.Get("openai", "reason.evaluate").State(); got != resilience.StateOpen {
		t.Fatalf("openai:reason.evaluate state = %v, want open", got)
	}

	// The open breaker rejects without reaching the provider again.
	calls := len(p.StructuredCalls)
	_, err := r.EvaluateAnswer(t.Context(), "sess-1", question("q1", review.LevelEasy), "an answer")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := len(p.StructuredCalls); got != calls {
		t.Errorf("provider called %d times, want %d (circuit open)", got, calls)
	}
}

// question builds a minimal pool question for tests.
func question(id string, level review.Level) review.Question {
	return review.Question{
		ID:             id,
		Level:          level,
		Text:           "How does the system handle a worker crash mid-task?",
		Context:        "[Slide 3: Failure Handling] (relevance 90%)\nVisibility timeouts requeue lost tasks.",
		ExpectedPoints: []string{"visibility timeout", "requeue"},
		SlideReference: 3,
	}
}
