package checkpoint_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/review"
)

func redisStore(t *testing.T, opts ...checkpoint.RedisOption) (*checkpoint.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return checkpoint.NewRedisStore(client, opts...), mr
}

func TestRedisStore_SaveAndLatest(t *testing.T) {
	t.Parallel()

	store, _ := redisStore(t)

	if _, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseUpload), checkpoint.Origin{
		Node:   "initialise",
		Reason: checkpoint.ReasonPhaseTransition,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseQuestioning), checkpoint.Origin{
		Node:        "ask_question",
		Reason:      checkpoint.ReasonBeforeQuestion,
		Description: "question 4",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := store.Latest(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	meta := cp.Metadata
	if meta.ID != second || meta.Node != "ask_question" || meta.Description != "question 4" {
		t.Errorf("metadata %+v, want the second save's origin", meta)
	}
	if meta.Phase != review.PhaseQuestioning || meta.Reason != checkpoint.ReasonBeforeQuestion {
		t.Errorf("Phase=%s Reason=%s, want QUESTIONING/before_question", meta.Phase, meta.Reason)
	}
	if cp.State.Candidate.Name != "Alex Doe" || len(cp.State.Transcript) != 1 {
		t.Errorf("state did not survive the round trip: %+v", cp.State)
	}
}

func TestRedisStore_RingEvictsOldest(t *testing.T) {
	t.Parallel()

	store, mr := redisStore(t, checkpoint.WithRing(3))

	var ids []string
	for i := 1; i <= 5; i++ {
		id, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseQuestioning), checkpoint.Origin{
			Reason:      checkpoint.ReasonAfterEvaluation,
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
			t.Errorf("List[%d].ID=%q, want %q (oldest trimmed)", i, meta.ID, want)
		}
	}

	// The Redis list itself is bounded, not just the view of it.
	entries, err := mr.List("vivadeck:checkpoints:sess-1")
	if err != nil {
		t.Fatalf("miniredis List: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("redis list holds %d entries, want 3", len(entries))
	}
}

func TestRedisStore_ByID(t *testing.T) {
	t.Parallel()

	store, _ := redisStore(t)

	id, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseParsing), checkpoint.Origin{
		Reason: checkpoint.ReasonPhaseTransition,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseAIDetection), checkpoint.Origin{
		Reason: checkpoint.ReasonPhaseTransition,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := store.ByID(t.Context(), "sess-1", id)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if cp.Metadata.Phase != review.PhaseParsing {
		t.Errorf("Phase=%s, want PARSING", cp.Metadata.Phase)
	}

	if _, err := store.ByID(t.Context(), "sess-1", "no-such-id"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("ByID(unknown)=%v, want ErrNotFound", err)
	}
}

func TestRedisStore_LatestMissingSession(t *testing.T) {
	t.Parallel()

	store, _ := redisStore(t)
	if _, err := store.Latest(t.Context(), "sess-1"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Latest(empty)=%v, want ErrNotFound", err)
	}
}

func TestRedisStore_Clear(t *testing.T) {
	t.Parallel()

	store, mr := redisStore(t)
	if _, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseCompleted), checkpoint.Origin{
		Reason: checkpoint.ReasonManual,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.Clear(t.Context(), "sess-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if mr.Exists("vivadeck:checkpoints:sess-1") {
		t.Error("key survives Clear")
	}
	if _, err := store.Latest(t.Context(), "sess-1"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Latest after clear=%v, want ErrNotFound", err)
	}
}

func TestRedisStore_WithPrefix(t *testing.T) {
	t.Parallel()

	store, mr := redisStore(t, checkpoint.WithPrefix("test"))
	if _, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseUpload), checkpoint.Origin{
		Reason: checkpoint.ReasonManual,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("test:checkpoints:sess-1") {
		t.Errorf("key not under custom prefix; keys: %v", mr.Keys())
	}
}

func TestRedisStore_WithTTL(t *testing.T) {
	t.Parallel()

	store, mr := redisStore(t, checkpoint.WithTTL(time.Hour))
	if _, err := store.Save(t.Context(), sessionState("sess-1", review.PhaseUpload), checkpoint.Origin{
		Reason: checkpoint.ReasonManual,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("vivadeck:checkpoints:sess-1"); ttl != time.Hour {
		t.Errorf("TTL=%v, want 1h", ttl)
	}
}

func TestRedisStore_RejectsMissingSessionID(t *testing.T) {
	t.Parallel()

	store, _ := redisStore(t)
	_, err := store.Save(t.Context(), review.State{}, checkpoint.Origin{Reason: checkpoint.ReasonManual})
	if !errors.Is(err, checkpoint.ErrNoSession) {
		t.Errorf("err=%v, want ErrNoSession", err)
	}
}
