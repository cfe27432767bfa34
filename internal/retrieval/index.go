package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/vivadeck/vivadeck/internal/artifact"
	"github.com/vivadeck/vivadeck/internal/resilience"
	"github.com/vivadeck/vivadeck/pkg/provider/embeddings"
)

// IndexOption is a functional option for configuring an [Index].
type IndexOption func(*Index)

// WithParser replaces the artifact parser. Default: [artifact.TextParser].
func WithParser(p artifact.Parser) IndexOption {
	return func(idx *Index) {
		idx.parser = p
	}
}

// WithChunkBudget sets the maximum chunk length in characters.
// Default: [DefaultChunkBudget].
func WithChunkBudget(n int) IndexOption {
	return func(idx *Index) {
		idx.chunker.budget = n
	}
}

// WithChunkOverlap sets the overlap window carried between consecutive
// chunks of one slide. Default: [DefaultChunkOverlap].
func WithChunkOverlap(n int) IndexOption {
	return func(idx *Index) {
		idx.chunker.overlap = n
	}
}

// WithRetry replaces the retry policy applied around embedding calls.
func WithRetry(cfg resilience.RetryConfig) IndexOption {
	return func(idx *Index) {
		idx.retry = cfg
	}
}

// WithBreakers routes embedding calls through the shared circuit-breaker
// registry, keyed by the embedding backend's name and the operation.
func WithBreakers(backend string, reg *resilience.Registry) IndexOption {
	return func(idx *Index) {
		idx.backend = backend
		idx.breakers = reg
	}
}

// Operation labels for the embedding breakers.
const (
	opEmbedBatch = "embeddings.embed_batch"
	opEmbed      = "embeddings.embed"
)

// Index is the session-scoped retrieval layer over a [ChunkStore] and an
// embedding provider. It is safe for concurrent use.
type Index struct {
	store    ChunkStore
	embedder embeddings.Provider
	parser   artifact.Parser
	chunker  chunker
	retry    resilience.RetryConfig
	breakers *resilience.Registry
	backend  string
}

// NewIndex constructs an [Index] with the supplied options.
func NewIndex(store ChunkStore, embedder embeddings.Provider, opts ...IndexOption) *Index {
	idx := &Index{
		store:    store,
		embedder: embedder,
		parser:   &artifact.TextParser{},
		chunker:  chunker{budget: DefaultChunkBudget, overlap: DefaultChunkOverlap},
		retry:    resilience.RetryConfig{Name: "retrieval.embed"},
	}
	for _, o := range opts {
		o(idx)
	}
	return idx
}

// embedCall runs one embedding operation under the index retry policy,
// passing every attempt through the (backend, op) breaker when a registry is
// attached.
func embedCall[R any](ctx context.Context, idx *Index, op string, fn func(ctx context.Context) (R, error)) (R, error) {
	cfg := idx.retry
	cfg.Name = op
	if idx.breakers != nil {
		return resilience.Do(ctx, idx.breakers, idx.backend, op, cfg, fn)
	}
	return resilience.RetryWithResult(ctx, cfg, fn)
}

// Ingest parses text into slides, chunks and embeds them, and upserts the
// result under sessionID. It returns the number of chunks stored.
//
// Re-ingesting the same artifact produces the same (session id, chunk index)
// rows. The returned error wraps [ErrParse], [ErrEmbed], or [ErrStore]
// depending on the stage that failed.
func (idx *Index) Ingest(ctx context.Context, sessionID, text string) (int, error) {
	slides, err := idx.parser.Parse(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrParse, err)
	}

	chunks := idx.chunker.split(slides)

	embedded, err := idx.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}
	for i := range embedded {
		embedded[i].SessionID = sessionID
	}

	if err := idx.store.Upsert(ctx, embedded); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStore, err)
	}

	slog.Info("artifact ingested",
		"session_id", sessionID,
		"slides", len(slides),
		"chunks", len(embedded))
	return len(embedded), nil
}

// embedChunks attaches embedding vectors to chunks. It tries one batch call
// first; when that fails (or returns a mismatched vector count) it degrades
// to per-chunk embedding, skipping chunks that still fail so a flaky
// provider does not sink the whole artifact. Zero successfully embedded
// chunks is a total failure wrapping [ErrEmbed].
func (idx *Index) embedChunks(ctx context.Context, chunks []Chunk) ([]Chunk, error) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	vecs, err := embedCall(ctx, idx, opEmbedBatch, func(ctx context.Context) ([][]float32, error) {
		return idx.embedder.EmbedBatch(ctx, texts)
	})
	if err == nil && len(vecs) == len(chunks) {
		for i := range chunks {
			chunks[i].Embedding = vecs[i]
		}
		return chunks, nil
	}
	if err != nil {
		slog.Warn("batch embedding failed, degrading to per-chunk",
			"chunks", len(chunks), "error", err)
	} else {
		slog.Warn("batch embedding returned mismatched vector count, degrading to per-chunk",
			"want", len(chunks), "got", len(vecs))
	}

	kept := chunks[:0]
	for _, ch := range chunks {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbed, ctx.Err())
		}
		vec, err := embedCall(ctx, idx, opEmbed, func(ctx context.Context) ([]float32, error) {
			return idx.embedder.Embed(ctx, ch.Content)
		})
		if err != nil {
			slog.Warn("chunk embedding failed, skipping",
				"chunk_index", ch.Index,
				"slide_number", ch.SlideNumber,
				"error", err)
			continue
		}
		ch.Embedding = vec
		kept = append(kept, ch)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no chunk could be embedded", ErrEmbed)
	}
	return kept, nil
}

// Search embeds queryText and returns the session's top-k chunks by
// descending similarity. When semantic search yields nothing, or the query
// embedding itself fails, it degrades to the deterministic fallback: the
// first k chunks in ingest order, each with Similarity 0. An empty slice
// with a nil error means the session has no chunks at all.
func (idx *Index) Search(ctx context.Context, sessionID, queryText string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return []ScoredChunk{}, nil
	}

	vec, err := embedCall(ctx, idx, opEmbed, func(ctx context.Context) ([]float32, error) {
		return idx.embedder.Embed(ctx, queryText)
	})
	if err != nil {
		// Grounding context in ingest order still beats none at all.
		slog.Warn("query embedding failed, using first-chunk fallback",
			"session_id", sessionID, "error", err)
		return idx.firstChunks(ctx, sessionID, k)
	}

	hits, err := idx.store.Search(ctx, sessionID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval search: %w", err)
	}
	if len(hits) == 0 {
		return idx.firstChunks(ctx, sessionID, k)
	}
	return hits, nil
}

func (idx *Index) firstChunks(ctx context.Context, sessionID string, k int) ([]ScoredChunk, error) {
	hits, err := idx.store.FirstChunks(ctx, sessionID, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval fallback: %w", err)
	}
	if hits == nil {
		hits = []ScoredChunk{}
	}
	return hits, nil
}

// ContextFor composes [Index.Search] into a prompt-ready grounding block.
// Each hit renders as a "[Slide N: Title] (relevance X%)" header followed
// by the chunk text, blocks separated by blank lines. Returns "" when the
// session has no chunks.
func (idx *Index) ContextFor(ctx context.Context, sessionID, queryText string, maxChunks int) (string, error) {
	hits, err := idx.Search(ctx, sessionID, queryText, maxChunks)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}

	var b strings.Builder
	for i, hit := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(chunkHeader(hit))
		b.WriteString("\n")
		b.WriteString(hit.Content)
	}
	return b.String(), nil
}

// chunkHeader renders the grounding header for one hit, e.g.
// "[Slide 3: Architecture] (relevance 87%)".
func chunkHeader(hit ScoredChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Slide %d", hit.SlideNumber)
	if hit.SlideTitle != "" {
		b.WriteString(": ")
		b.WriteString(hit.SlideTitle)
	}
	fmt.Fprintf(&b, "] (relevance %d%%)", int(math.Round(hit.Similarity*100)))
	return b.String()
}

// Delete removes every indexed chunk of the session and reports how many
// rows were removed.
func (idx *Index) Delete(ctx context.Context, sessionID string) (int64, error) {
	n, err := idx.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("retrieval delete: %w", err)
	}
	if n > 0 {
		slog.Info("retrieval chunks deleted", "session_id", sessionID, "chunks", n)
	}
	return n, nil
}
