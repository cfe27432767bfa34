package checkpoint_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/review"
)

// signalStore records saves and signals each one on a channel, so tests can
// wait for ticks instead of sleeping.
type signalStore struct {
	mu     sync.Mutex
	saved  []checkpoint.Origin
	Signal chan struct{}
}

var _ checkpoint.Store = (*signalStore)(nil)

func newSignalStore() *signalStore {
	return &signalStore{Signal: make(chan struct{}, 16)}
}

func (s *signalStore) Save(_ context.Context, _ review.State, origin checkpoint.Origin) (string, error) {
	s.mu.Lock()
	s.saved = append(s.saved, origin)
	s.mu.Unlock()
	select {
	case s.Signal <- struct{}{}:
	default:
	}
	return "cp-1", nil
}

func (s *signalStore) Latest(context.Context, string) (*checkpoint.Checkpoint, error) {
	return nil, checkpoint.ErrNotFound
}

func (s *signalStore) ByID(context.Context, string, string) (*checkpoint.Checkpoint, error) {
	return nil, checkpoint.ErrNotFound
}

func (s *signalStore) List(context.Context, string) ([]checkpoint.Metadata, error) {
	return nil, nil
}

func (s *signalStore) Clear(context.Context, string) error { return nil }

func (s *signalStore) origins() []checkpoint.Origin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]checkpoint.Origin(nil), s.saved...)
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no save within 5s")
	}
}

func snapshotter() checkpoint.SnapshotFunc {
	return func() (review.State, string) {
		return sessionState("sess-1", review.PhaseQuestioning), "ask_question"
	}
}

func TestPeriodic_SavesOnInterval(t *testing.T) {
	t.Parallel()

	store := newSignalStore()
	p := checkpoint.NewPeriodic(store, snapshotter(), 10*time.Millisecond)
	p.Start(t.Context())
	defer p.Stop()

	waitSignal(t, store.Signal)
	waitSignal(t, store.Signal)

	for _, origin := range store.origins() {
		if origin.Reason != checkpoint.ReasonPeriodic {
			t.Errorf("Reason=%s, want periodic", origin.Reason)
		}
		if origin.Node != "ask_question" {
			t.Errorf("Node=%q, want the snapshot's node", origin.Node)
		}
	}
}

func TestPeriodic_StopHaltsSaving(t *testing.T) {
	t.Parallel()

	store := newSignalStore()
	p := checkpoint.NewPeriodic(store, snapshotter(), 10*time.Millisecond)
	p.Start(t.Context())

	waitSignal(t, store.Signal)
	p.Stop()

	// Drain anything already in flight, then expect silence.
	deadline := time.After(100 * time.Millisecond)
drain:
	for {
		select {
		case <-store.Signal:
		case <-deadline:
			break drain
		}
	}
	select {
	case <-store.Signal:
		t.Error("save after Stop")
	case <-time.After(100 * time.Millisecond):
	}

	// Stop is idempotent.
	p.Stop()
}

func TestPeriodic_ContextCancelHaltsSaving(t *testing.T) {
	t.Parallel()

	store := newSignalStore()
	ctx, cancel := context.WithCancel(t.Context())
	p := checkpoint.NewPeriodic(store, snapshotter(), 10*time.Millisecond)
	p.Start(ctx)
	defer p.Stop()

	waitSignal(t, store.Signal)
	cancel()

	deadline := time.After(100 * time.Millisecond)
drain:
	for {
		select {
		case <-store.Signal:
		case <-deadline:
			break drain
		}
	}
	select {
	case <-store.Signal:
		t.Error("save after context cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeriodic_SaveNow(t *testing.T) {
	t.Parallel()

	store := newSignalStore()
	p := checkpoint.NewPeriodic(store, snapshotter(), time.Hour)

	if err := p.SaveNow(t.Context()); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	origins := store.origins()
	if len(origins) != 1 {
		t.Fatalf("%d saves, want 1", len(origins))
	}
	if origins[0].Reason != checkpoint.ReasonPeriodic || origins[0].Node != "ask_question" {
		t.Errorf("origin %+v, want periodic at ask_question", origins[0])
	}
}

func TestPeriodic_DefaultInterval(t *testing.T) {
	t.Parallel()

	// A non-positive interval must not panic NewTicker on Start.
	store := newSignalStore()
	p := checkpoint.NewPeriodic(store, snapshotter(), 0)
	p.Start(t.Context())
	p.Stop()
}
