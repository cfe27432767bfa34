package retrieval_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vivadeck/vivadeck/internal/resilience"
	"github.com/vivadeck/vivadeck/internal/retrieval"
	"github.com/vivadeck/vivadeck/pkg/provider/embeddings/mock"
)

// fakeStore is an in-memory ChunkStore for exercising Index without a
// database. Search returns SearchResult verbatim; FirstChunks derives its
// answer from the stored chunks.
type fakeStore struct {
	mu     sync.Mutex
	chunks map[string][]retrieval.Chunk // keyed by session id, ingest order

	SearchResult []retrieval.ScoredChunk
	SearchErr    error
	UpsertErr    error

	UpsertCalls      int
	SearchCalls      int
	FirstChunksCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{chunks: make(map[string][]retrieval.Chunk)}
}

func (s *fakeStore) Upsert(_ context.Context, chunks []retrieval.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	for _, ch := range chunks {
		replaced := false
		for i, existing := range s.chunks[ch.SessionID] {
			if existing.Index == ch.Index {
				s.chunks[ch.SessionID][i] = ch
				replaced = true
				break
			}
		}
		if !replaced {
			s.chunks[ch.SessionID] = append(s.chunks[ch.SessionID], ch)
		}
	}
	return nil
}

func (s *fakeStore) Search(_ context.Context, sessionID string, _ []float32, k int) ([]retrieval.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls++
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if len(s.SearchResult) > k {
		return s.SearchResult[:k], nil
	}
	return s.SearchResult, nil
}

func (s *fakeStore) FirstChunks(_ context.Context, sessionID string, k int) ([]retrieval.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FirstChunksCalls++
	var out []retrieval.ScoredChunk
	for _, ch := range s.chunks[sessionID] {
		if len(out) == k {
			break
		}
		out = append(out, retrieval.ScoredChunk{
			SlideNumber: ch.SlideNumber,
			SlideTitle:  ch.SlideTitle,
			Content:     ch.Content,
		})
	}
	return out, nil
}

func (s *fakeStore) DeleteSession(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.chunks[sessionID]))
	delete(s.chunks, sessionID)
	return n, nil
}

func (s *fakeStore) stored(sessionID string) []retrieval.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]retrieval.Chunk(nil), s.chunks[sessionID]...)
}

// fastRetry keeps embedding retries quick in tests.
func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		Name:           "test.embed",
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func newTestIndex(store retrieval.ChunkStore, embedder *mock.Provider, opts ...retrieval.IndexOption) *retrieval.Index {
	base := []retrieval.IndexOption{retrieval.WithRetry(fastRetry())}
	return retrieval.NewIndex(store, embedder, append(base, opts...)...)
}

const twoSlideDeck = "# Architecture\nProducers push to sharded streams.\n- visibility timeouts\n# Results\nThroughput scales linearly."

// --- Ingest ---

func TestIndex_IngestStoresEmbeddedChunks(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	embedder := &mock.Provider{
		EmbedFunc: func(text string) []float32 {
			return []float32{float32(len(text)), 1, 0}
		},
	}

	idx := newTestIndex(store, embedder)
	n, err := idx.Ingest(t.Context(), "sess-1", twoSlideDeck)
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if n != 2 {
		t.Fatalf("Ingest stored %d chunks, want 2", n)
	}

	chunks := store.stored("sess-1")
	if len(chunks) != 2 {
		t.Fatalf("store holds %d chunks, want 2", len(chunks))
	}
	for i, ch := range chunks {
		if ch.SessionID != "sess-1" {
			t.Errorf("chunk %d SessionID=%q, want sess-1", i, ch.SessionID)
		}
		if ch.Index != i {
			t.Errorf("chunk %d Index=%d, want %d", i, ch.Index, i)
		}
		if len(ch.Embedding) != 3 {
			t.Errorf("chunk %d has no embedding", i)
		}
	}
	if chunks[0].SlideTitle != "Architecture" || chunks[1].SlideTitle != "Results" {
		t.Errorf("titles=%q,%q, want Architecture,Results", chunks[0].SlideTitle, chunks[1].SlideTitle)
	}

	// One batch call suffices; no per-chunk degradation.
	if got := len(embedder.EmbedBatchCalls); got != 1 {
		t.Errorf("EmbedBatch called %d times, want 1", got)
	}
	if got := len(embedder.EmbedCalls); got != 0 {
		t.Errorf("Embed called %d times, want 0", got)
	}
}

func TestIndex_IngestIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	embedder := &mock.Provider{
		EmbedFunc: func(text string) []float32 { return []float32{1, 2} },
	}

	idx := newTestIndex(store, embedder)
	if _, err := idx.Ingest(t.Context(), "sess-1", twoSlideDeck); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	first := store.stored("sess-1")

	if _, err := idx.Ingest(t.Context(), "sess-1", twoSlideDeck); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	second := store.stored("sess-1")

	if len(first) != len(second) {
		t.Fatalf("chunk count changed across ingests: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Index != second[i].Index || first[i].Content != second[i].Content {
			t.Errorf("chunk %d differs across ingests", i)
		}
	}
}

func TestIndex_IngestParseFailure(t *testing.T) {
	t.Parallel()

	idx := newTestIndex(newFakeStore(), &mock.Provider{})
	_, err := idx.Ingest(t.Context(), "sess-1", "   ")
	if !errors.Is(err, retrieval.ErrParse) {
		t.Fatalf("err=%v, want ErrParse", err)
	}
}

func TestIndex_IngestTotalEmbedFailure(t *testing.T) {
	t.Parallel()

	embedErr := errors.New("model offline")
	embedder := &mock.Provider{
		EmbedBatchErr: embedErr,
		EmbedErr:      embedErr,
	}

	idx := newTestIndex(newFakeStore(), embedder)
	_, err := idx.Ingest(t.Context(), "sess-1", twoSlideDeck)
	if !errors.Is(err, retrieval.ErrEmbed) {
		t.Fatalf("err=%v, want ErrEmbed", err)
	}
}

// partialEmbedder fails EmbedBatch outright and Embed for texts containing
// the poison marker, forcing the skip-and-log degradation path.
type partialEmbedder struct {
	mu         sync.Mutex
	embedCalls []string
}

func (p *partialEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.embedCalls = append(p.embedCalls, text)
	p.mu.Unlock()
	if strings.Contains(text, "Results") {
		return nil, errors.New("poison chunk")
	}
	return []float32{1}, nil
}

func (p *partialEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("batch endpoint down")
}

func (p *partialEmbedder) Dimensions() int { return 1 }

func (p *partialEmbedder) ModelID() string { return "partial-test" }

func TestIndex_IngestSkipsChunksThatFailToEmbed(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	idx := retrieval.NewIndex(store, &partialEmbedder{}, retrieval.WithRetry(fastRetry()))

	n, err := idx.Ingest(t.Context(), "sess-1", twoSlideDeck)
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("Ingest stored %d chunks, want 1 (poison chunk skipped)", n)
	}

	chunks := store.stored("sess-1")
	if len(chunks) != 1 || chunks[0].SlideTitle != "Architecture" {
		t.Fatalf("stored=%+v, want only the Architecture chunk", chunks)
	}
	// The surviving chunk keeps its original index.
	if chunks[0].Index != 0 {
		t.Errorf("Index=%d, want 0", chunks[0].Index)
	}
}

func TestIndex_IngestStoreFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.UpsertErr = errors.New("disk full")
	embedder := &mock.Provider{
		EmbedFunc: func(string) []float32 { return []float32{1} },
	}

	idx := newTestIndex(store, embedder)
	_, err := idx.Ingest(t.Context(), "sess-1", twoSlideDeck)
	if !errors.Is(err, retrieval.ErrStore) {
		t.Fatalf("err=%v, want ErrStore", err)
	}
}

// --- Search ---

func TestIndex_SearchReturnsHits(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.SearchResult = []retrieval.ScoredChunk{
		{SlideNumber: 2, SlideTitle: "Design", Content: "hit one", Similarity: 0.91},
		{SlideNumber: 4, Content: "hit two", Similarity: 0.47},
	}
	embedder := &mock.Provider{EmbedResult: []float32{1, 0}}

	idx := newTestIndex(store, embedder)
	hits, err := idx.Search(t.Context(), "sess-1", "how does it scale", 5)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits)=%d, want 2", len(hits))
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("hits are not ordered by descending similarity")
	}
	if store.FirstChunksCalls != 0 {
		t.Errorf("FirstChunks called %d times, want 0 when search has hits", store.FirstChunksCalls)
	}
}

func TestIndex_SearchFallsBackToFirstChunks(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	embedder := &mock.Provider{
		EmbedFunc: func(string) []float32 { return []float32{1} },
	}

	idx := newTestIndex(store, embedder)
	if _, err := idx.Ingest(t.Context(), "sess-1", twoSlideDeck); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// Vector search yields nothing; the first-k fallback must kick in.
	hits, err := idx.Search(t.Context(), "sess-1", "anything", 1)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits)=%d, want 1 from fallback", len(hits))
	}
	if hits[0].SlideNumber != 1 {
		t.Errorf("fallback hit SlideNumber=%d, want 1 (ingest order)", hits[0].SlideNumber)
	}
	if hits[0].Similarity != 0 {
		t.Errorf("fallback hit Similarity=%v, want 0", hits[0].Similarity)
	}
}

func TestIndex_SearchEmptyCorpus(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	embedder := &mock.Provider{EmbedResult: []float32{1}}

	idx := newTestIndex(store, embedder)
	hits, err := idx.Search(t.Context(), "sess-none", "query", 3)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Errorf("hits=%v, want empty non-nil slice", hits)
	}
}

func TestIndex_SearchDegradesWhenQueryEmbedFails(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.chunks["sess-1"] = []retrieval.Chunk{
		{SessionID: "sess-1", SlideNumber: 1, SlideTitle: "Intro", Content: "first", Index: 0},
	}
	embedder := &mock.Provider{EmbedErr: errors.New("embedding service down")}

	idx := newTestIndex(store, embedder)
	hits, err := idx.Search(t.Context(), "sess-1", "query", 2)
	if err != nil {
		t.Fatalf("Search returned error: %v, want degraded success", err)
	}
	if len(hits) != 1 || hits[0].Content != "first" {
		t.Errorf("hits=%+v, want the first chunk via fallback", hits)
	}
	if store.SearchCalls != 0 {
		t.Errorf("vector search ran %d times without a query embedding", store.SearchCalls)
	}
}

func TestIndex_SearchZeroK(t *testing.T) {
	t.Parallel()

	idx := newTestIndex(newFakeStore(), &mock.Provider{})
	hits, err := idx.Search(t.Context(), "sess-1", "query", 0)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("len(hits)=%d, want 0", len(hits))
	}
}

// --- ContextFor ---

func TestIndex_ContextForFormatsHits(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.SearchResult = []retrieval.ScoredChunk{
		{SlideNumber: 3, SlideTitle: "Architecture", Content: "Sharded streams.", Similarity: 0.874},
		{SlideNumber: 5, Content: "Untitled detail.", Similarity: 0.42},
	}
	embedder := &mock.Provider{EmbedResult: []float32{1}}

	idx := newTestIndex(store, embedder)
	got, err := idx.ContextFor(t.Context(), "sess-1", "how is it sharded", 5)
	if err != nil {
		t.Fatalf("ContextFor returned error: %v", err)
	}

	want := "[Slide 3: Architecture] (relevance 87%)\nSharded streams.\n\n[Slide 5] (relevance 42%)\nUntitled detail."
	if got != want {
		t.Errorf("ContextFor=%q, want %q", got, want)
	}
}

func TestIndex_ContextForEmptySession(t *testing.T) {
	t.Parallel()

	idx := newTestIndex(newFakeStore(), &mock.Provider{EmbedResult: []float32{1}})
	got, err := idx.ContextFor(t.Context(), "sess-none", "query", 3)
	if err != nil {
		t.Fatalf("ContextFor returned error: %v", err)
	}
	if got != "" {
		t.Errorf("ContextFor=%q, want empty string for empty session", got)
	}
}

// --- Delete ---

func TestIndex_Delete(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	embedder := &mock.Provider{
		EmbedFunc: func(string) []float32 { return []float32{1} },
	}

	idx := newTestIndex(store, embedder)
	if _, err := idx.Ingest(t.Context(), "sess-1", twoSlideDeck); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	n, err := idx.Delete(t.Context(), "sess-1")
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("Delete removed %d chunks, want 2", n)
	}
	if len(store.stored("sess-1")) != 0 {
		t.Error("chunks remain after Delete")
	}

	// Deleting an absent session is not an error.
	n, err = idx.Delete(t.Context(), "sess-1")
	if err != nil || n != 0 {
		t.Errorf("second Delete=(%d, %v), want (0, nil)", n, err)
	}
}
