// Package retrieval chunks, embeds, and indexes artifact slides so the
// reviewer can ground questions and evaluations in the uploaded presentation.
//
// The entry point is [Index]: Ingest parses artifact text into slides,
// splits them into bounded chunks, embeds each chunk, and upserts the
// result into a [ChunkStore]; Search and ContextFor run semantic queries
// over the stored chunks. [PGStore] is the production store, one pgvector
// row per chunk.
//
// Ingest failures are classified by the sentinel they wrap: [ErrParse],
// [ErrEmbed], or [ErrStore]. The workflow's error routing keys off these.
package retrieval

import (
	"context"
	"errors"
)

// Ingest failure classes. Every error returned by [Index.Ingest] wraps
// exactly one of these.
var (
	// ErrParse marks a failure to turn artifact text into slides.
	ErrParse = errors.New("artifact parse failed")

	// ErrEmbed marks a total embedding failure: not a single chunk of the
	// artifact could be embedded.
	ErrEmbed = errors.New("artifact embedding failed")

	// ErrStore marks a failure to persist the embedded chunks.
	ErrStore = errors.New("artifact chunk storage failed")
)

// Chunk is one bounded slice of artifact text, attributed to its source
// slide and carrying the embedding vector used for semantic search.
type Chunk struct {
	// SessionID scopes the chunk to one review session.
	SessionID string

	// SlideNumber is the 1-based number of the slide this chunk came from.
	SlideNumber int

	// SlideTitle is the source slide's title. May be empty.
	SlideTitle string

	// Content is the chunk text, at most the configured chunk budget long.
	Content string

	// Index is the chunk's position in the session's ingest order,
	// monotonically increasing from 0 across all slides.
	Index int

	// Embedding is the chunk's embedding vector.
	Embedding []float32
}

// ScoredChunk is one semantic-search hit.
type ScoredChunk struct {
	// SlideNumber is the source slide of the matched chunk.
	SlideNumber int

	// SlideTitle is the source slide's title. May be empty.
	SlideTitle string

	// Content is the matched chunk text.
	Content string

	// Similarity is 1 − cosine distance to the query, clamped to [0, 1].
	// Chunks returned by the first-k fallback carry 0.
	Similarity float64
}

// ChunkStore persists embedded chunks and answers nearest-neighbour queries.
// Implementations must be safe for concurrent use.
type ChunkStore interface {
	// Upsert stores chunks, replacing any existing row with the same
	// (session id, chunk index). Re-ingesting an artifact therefore
	// yields the same rows it produced the first time.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Search returns up to k chunks of the session ordered by descending
	// similarity to the query embedding. An empty slice means the session
	// has no chunks.
	Search(ctx context.Context, sessionID string, embedding []float32, k int) ([]ScoredChunk, error)

	// FirstChunks returns up to k chunks of the session in ingest order,
	// each with Similarity 0. It backs the deterministic fallback when
	// semantic search is unavailable.
	FirstChunks(ctx context.Context, sessionID string, k int) ([]ScoredChunk, error)

	// DeleteSession removes every chunk of the session and reports how
	// many rows were removed.
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
}
