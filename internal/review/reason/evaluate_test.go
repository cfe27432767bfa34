package reason_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/internal/review/reason"
	llmmock "github.com/vivadeck/vivadeck/pkg/provider/llm/mock"
)

// fakeGrounds is a canned ContextProvider.
type fakeGrounds struct {
	mu     sync.Mutex
	Result string
	Err    error
	Calls  []string
}

func (f *fakeGrounds) ContextFor(ctx context.Context, sessionID, query string, maxChunks int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, query)
	return f.Result, f.Err
}

func TestReasoner_EvaluateAnswer_GroundsInRetrieval(t *testing.T) {
	t.Parallel()

	grounds := &fakeGrounds{Result: "[Slide 4: Recovery] (relevance 93%)\nCrashed workers release their lease."}
	p := &llmmock.Provider{StructuredResponse: evaluationJSON(8, "grounded and specific")}
	r := newTestReasoner(p, reason.WithContextProvider(grounds))

	q := question("q-7", review.LevelMedium)
	ev, err := r.EvaluateAnswer(t.Context(), "sess-1", q, "the lease expires and another worker picks it up")
	if err != nil {
		t.Fatalf("EvaluateAnswer: %v", err)
	}

	if ev.QuestionID != "q-7" {
		t.Errorf("QuestionID=%q, want q-7", ev.QuestionID)
	}
	if ev.Score != 8 || !ev.DemonstratesUnderstanding {
		t.Errorf("evaluation not mapped: %+v", ev)
	}
	if len(grounds.Calls) != 1 || grounds.Calls[0] != q.Text {
		t.Errorf("grounding queried with %v, want the question text", grounds.Calls)
	}

	prompt := p.StructuredCalls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "Crashed workers release their lease.") {
		t.Error("prompt does not carry the retrieval passages")
	}
	if !strings.Contains(prompt, "visibility timeout") {
		t.Error("prompt does not carry the expected points")
	}
}

func TestReasoner_EvaluateAnswer_GroundingFailureDegrades(t *testing.T) {
	t.Parallel()

	grounds := &fakeGrounds{Err: errors.New("store down")}
	p := &llmmock.Provider{StructuredResponse: evaluationJSON(5, "ok")}
	r := newTestReasoner(p, reason.WithContextProvider(grounds))

	q := question("q-7", review.LevelMedium)
	if _, err := r.EvaluateAnswer(t.Context(), "sess-1", q, "an answer"); err != nil {
		t.Fatalf("EvaluateAnswer: %v", err)
	}

	// Falls back to the context captured at generation time.
	prompt := p.StructuredCalls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "Visibility timeouts requeue lost tasks.") {
		t.Error("prompt does not fall back to the question's own context")
	}
}

func TestReasoner_EvaluateAnswer_NoProviderUsesQuestionContext(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StructuredResponse: evaluationJSON(5, "ok")}
	r := newTestReasoner(p)

	q := question("q-7", review.LevelEasy)
	if _, err := r.EvaluateAnswer(t.Context(), "sess-1", q, "an answer"); err != nil {
		t.Fatalf("EvaluateAnswer: %v", err)
	}
	prompt := p.StructuredCalls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "Visibility timeouts requeue lost tasks.") {
		t.Error("prompt does not carry the question's context")
	}
}

func TestReasoner_EvaluateAnswer_ClampsScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		got  int
		want int
	}{
		{name: "above range", got: 42, want: 10},
		{name: "below range", got: 0, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := &llmmock.Provider{StructuredResponse: evaluationJSON(tc.got, "off the scale")}
			r := newTestReasoner(p)

			ev, err := r.EvaluateAnswer(t.Context(), "sess-1", question("q1", review.LevelEasy), "an answer")
			if err != nil {
				t.Fatalf("EvaluateAnswer: %v", err)
			}
			if ev.Score != tc.want {
				t.Errorf("Score=%d, want clamped to %d", ev.Score, tc.want)
			}
		})
	}
}

func TestReasoner_EvaluateAnswer_EmptyAnswer(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{}
	r := newTestReasoner(p)

	_, err := r.EvaluateAnswer(t.Context(), "sess-1", question("q1", review.LevelEasy), "   ")
	if !errors.Is(err, reason.ErrEmptyAnswer) {
		t.Errorf("err=%v, want ErrEmptyAnswer", err)
	}
	if got := len(p.StructuredCalls); got != 0 {
		t.Errorf("provider called %d times, want 0", got)
	}
}
