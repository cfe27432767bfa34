package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vivadeck/vivadeck/pkg/provider/fault"
)

func TestRegistry_SameKeySharesBreaker(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{})
	a := reg.Get("openai", "llm.complete")
	b := reg.Get("openai", "llm.complete")
	if a != b {
		t.Fatal("same provider-operation key must return the same breaker")
	}
}

func TestRegistry_DistinctKeysDistinctBreakers(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{})
	a := reg.Get("openai", "llm.complete")
	b := reg.Get("openai", "embed.batch")
	c := reg.Get("deepgram", "llm.complete")
	if a == b || a == c || b == c {
		t.Fatal("distinct keys must return distinct breakers")
	}
}

func TestRegistry_ExecuteTripsPerKey(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	for i := 0; i < 2; i++ {
		_ = reg.Execute("openai", "llm.complete", func() error { return errTest })
	}

	// The failing key is open...
	called := false
	err := reg.Execute("openai", "llm.complete", func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn must not run while the breaker is open")
	}

	// ...while other keys are unaffected.
	err = reg.Execute("openai", "embed.batch", func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error on healthy key: %v", err)
	}
}

func TestRegistry_States(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	_ = reg.Execute("openai", "llm.complete", func() error { return errTest })
	_ = reg.Execute("deepgram", "stt.stream", func() error { return nil })

	states := reg.States()
	if states["openai:llm.complete"] != StateOpen {
		t.Errorf("openai:llm.complete = %v, want open", states["openai:llm.complete"])
	}
	if states["deepgram:stt.stream"] != StateClosed {
		t.Errorf("deepgram:stt.stream = %v, want closed", states["deepgram:stt.stream"])
	}
}

func TestRegistry_ResetAll(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	_ = reg.Execute("openai", "llm.complete", func() error { return errTest })
	if reg.Get("openai", "llm.complete").State() != StateOpen {
		t.Fatal("expected open before reset")
	}

	reg.ResetAll()
	if reg.Get("openai", "llm.complete").State() != StateClosed {
		t.Fatal("expected closed after ResetAll")
	}
}

func TestDo_ReturnsResult(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{})
	calls := 0
	result, err := Do(context.Background(), reg, "openai", "llm.complete", fastRetry(3),
		func(ctx context.Context) (int, error) {
			calls++
			return 42, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("result = %d, want 42", result)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDo_OpenBreakerStopsRetrying(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	calls := 0
	_, err := Do(context.Background(), reg, "openai", "llm.complete", fastRetry(5),
		func(ctx context.Context) (int, error) {
			calls++
			return 0, fault.Transient("openai", "llm.complete", errTest)
		})

	// Two failing attempts trip the breaker; the third attempt is rejected
	// with an open-circuit error, which is not retryable.
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestDo_RetriesTransientWithinClosedBreaker(t *testing.T) {
	reg := NewRegistry(CircuitBreakerConfig{MaxFailures: 5})

	calls := 0
	result, err := Do(context.Background(), reg, "openai", "llm.complete", fastRetry(3),
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", fault.Transient("openai", "llm.complete", errTest)
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %q, want ok", result)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}
