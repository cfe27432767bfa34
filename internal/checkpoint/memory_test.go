package checkpoint_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/review"
)

// sessionState builds a state with enough structure to catch shallow
// copies.
func sessionState(sessionID string, phase review.Phase) review.State {
	return review.State{
		SessionID: sessionID,
		Candidate: review.Candidate{ID: "cand-1", Name: "Alex Doe"},
		Phase:     phase,
		Pool: review.Pool{
			Easy: []review.Question{
				{ID: "e1", Level: review.LevelEasy, Text: "What does the project do?"},
			},
		},
		Transcript: []review.TranscriptEntry{
			{Role: review.RoleReviewer, Text: "Welcome.", Timestamp: time.Now()},
		},
	}
}

func TestMemoryStore_SaveAndLatest(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore(0)

	first, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseUpload), checkpoint.Origin{
		Node:   "initialise",
		Reason: checkpoint.ReasonPhaseTransition,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseParsing), checkpoint.Origin{
		Node:        "parse",
		Reason:      checkpoint.ReasonPhaseTransition,
		Description: "artifact arrived",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first == second || first == "" {
		t.Fatalf("IDs %q and %q, want distinct non-empty", first, second)
	}

	cp, err := store.Latest(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	meta := cp.Metadata
	if meta.ID != second {
		t.Errorf("Latest ID=%q, want the second save %q", meta.ID, second)
	}
	if meta.SessionID != "sess-1" || meta.Node != "parse" || meta.Description != "artifact arrived" {
		t.Errorf("metadata %+v not filled from origin", meta)
	}
	if meta.Phase != review.PhaseParsing {
		t.Errorf("Phase=%s, want PARSING taken from the snapshot", meta.Phase)
	}
	if meta.Reason != checkpoint.ReasonPhaseTransition {
		t.Errorf("Reason=%s, want phase_transition", meta.Reason)
	}
	if meta.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if cp.State.Phase != review.PhaseParsing {
		t.Errorf("snapshot Phase=%s, want PARSING", cp.State.Phase)
	}
}

func TestMemoryStore_RingEvictsOldest(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore(3)

	var ids []string
	for i := 1; i <= 5; i++ {
		id, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseQuestioning), checkpoint.Origin{
			Reason:      checkpoint.ReasonBeforeQuestion,
			Description: fmt.Sprintf("save %d", i),
		})
		if err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	metas, err := store.List(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("len(List)=%d, want ring size 3", len(metas))
	}
	for i, meta := range metas {
		if want := ids[i+2]; meta.ID != want {
			t.Errorf("List[%d].ID=%q, want %q (two oldest evicted)", i, meta.ID, want)
		}
	}

	// Evicted checkpoints are gone.
	if _, err := store.ByID(t.Context(), "sess-1", ids[0]); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("ByID(evicted)=%v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ByID(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore(0)

	state := sessionState("sess-1", review.PhaseQuestioning)
	id, err := store.Save(t.Context(), state, checkpoint.Origin{Reason: checkpoint.ReasonBeforeQuestion})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(t.Context(), state, checkpoint.Origin{Reason: checkpoint.ReasonAfterEvaluation}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := store.ByID(t.Context(), "sess-1", id)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if cp.Metadata.Reason != checkpoint.ReasonBeforeQuestion {
		t.Errorf("Reason=%s, want before_question", cp.Metadata.Reason)
	}

	if _, err := store.ByID(t.Context(), "sess-1", "no-such-id"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("ByID(unknown)=%v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SnapshotsAreIndependent(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore(0)

	state := sessionState("sess-1", review.PhaseQuestioning)
	if _, err := store.Save(t.Context(), state, checkpoint.Origin{Reason: checkpoint.ReasonManual}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating the caller's state after Save must not reach the ring.
	state.Pool.Easy[0].Text = "mutated"
	state.Transcript[0].Text = "mutated"

	cp, err := store.Latest(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if cp.State.Pool.Easy[0].Text == "mutated" || cp.State.Transcript[0].Text == "mutated" {
		t.Fatal("stored snapshot aliases the saved state")
	}

	// Mutating a restored snapshot must not reach the ring either.
	cp.State.Pool.Easy[0].Text = "mutated again"
	again, err := store.Latest(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if again.State.Pool.Easy[0].Text == "mutated again" {
		t.Fatal("restored snapshot aliases the ring entry")
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore(0)
	if _, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseUpload), checkpoint.Origin{
		Reason: checkpoint.ReasonPhaseTransition,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.Clear(t.Context(), "sess-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := store.Latest(t.Context(), "sess-1"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Latest after clear=%v, want ErrNotFound", err)
	}
	metas, err := store.List(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("len(List)=%d after clear, want 0", len(metas))
	}
}

func TestMemoryStore_SessionsAreIsolated(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore(0)
	if _, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseUpload), checkpoint.Origin{
		Reason: checkpoint.ReasonPhaseTransition,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := store.Latest(t.Context(), "sess-2"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Latest(other session)=%v, want ErrNotFound", err)
	}
}

func TestMemoryStore_RejectsMissingSessionID(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewMemoryStore(0)
	_, err := store.Save(t.Context(), review.State{}, checkpoint.Origin{Reason: checkpoint.ReasonManual})
	if !errors.Is(err, checkpoint.ErrNoSession) {
		t.Errorf("err=%v, want ErrNoSession", err)
	}
}
