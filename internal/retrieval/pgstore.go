package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — review_chunks
// ─────────────────────────────────────────────────────────────────────────────

// ddlReviewChunks returns the chunk-table DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlReviewChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS review_chunks (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL,
    slide_number  INT          NOT NULL,
    slide_title   TEXT         NOT NULL DEFAULT '',
    content       TEXT         NOT NULL,
    chunk_index   INT          NOT NULL,
    embedding     vector(%d),
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (session_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_review_chunks_session_id
    ON review_chunks (session_id);

CREATE INDEX IF NOT EXISTS idx_review_chunks_embedding
    ON review_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the review_chunks table, its indexes, and the
// pgvector extension exist. It is idempotent and safe to call on every
// application start.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g., 1536 for OpenAI text-embedding-3-small). Changing
// it after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlReviewChunks(embeddingDimensions)); err != nil {
		return fmt.Errorf("retrieval migrate: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

// PGStore is the production [ChunkStore], one PostgreSQL row per chunk with
// a pgvector HNSW index for approximate nearest-neighbour search.
//
// All operations are safe for concurrent use.
type PGStore struct {
	pool *pgxpool.Pool
}

// Ensure PGStore satisfies the ChunkStore interface at compile time.
var _ ChunkStore = (*PGStore)(nil)

// NewPGStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and runs [Migrate].
func NewPGStore(ctx context.Context, dsn string, embeddingDimensions int) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg chunk store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg chunk store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg chunk store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg chunk store: %w", err)
	}

	return &PGStore{pool: pool}, nil
}

// Pool exposes the underlying connection pool for health checks.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Upsert implements [ChunkStore]. All chunks are written in a single
// round-trip batch; a conflicting (session_id, chunk_index) row is replaced.
func (s *PGStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO review_chunks
		    (session_id, slide_number, slide_title, content, chunk_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, chunk_index) DO UPDATE SET
		    slide_number = EXCLUDED.slide_number,
		    slide_title  = EXCLUDED.slide_title,
		    content      = EXCLUDED.content,
		    embedding    = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for _, ch := range chunks {
		batch.Queue(q,
			ch.SessionID,
			ch.SlideNumber,
			ch.SlideTitle,
			ch.Content,
			ch.Index,
			pgvector.NewVector(ch.Embedding),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("pg chunk store: upsert: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("pg chunk store: close batch: %w", err)
	}
	return nil
}

// Search implements [ChunkStore]. Similarity is computed as 1 − cosine
// distance, clamped to [0, 1]; results come back most similar first.
func (s *PGStore) Search(ctx context.Context, sessionID string, embedding []float32, k int) ([]ScoredChunk, error) {
	const q = `
		SELECT slide_number, slide_title, content,
		       embedding <=> $2 AS distance
		FROM   review_chunks
		WHERE  session_id = $1
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, sessionID, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("pg chunk store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScoredChunk, error) {
		var (
			sc       ScoredChunk
			distance float64
		)
		if err := row.Scan(&sc.SlideNumber, &sc.SlideTitle, &sc.Content, &distance); err != nil {
			return ScoredChunk{}, err
		}
		sc.Similarity = clampSimilarity(1 - distance)
		return sc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pg chunk store: scan rows: %w", err)
	}
	if results == nil {
		results = []ScoredChunk{}
	}
	return results, nil
}

// FirstChunks implements [ChunkStore], returning chunks in ingest order
// with Similarity 0.
func (s *PGStore) FirstChunks(ctx context.Context, sessionID string, k int) ([]ScoredChunk, error) {
	const q = `
		SELECT slide_number, slide_title, content
		FROM   review_chunks
		WHERE  session_id = $1
		ORDER  BY chunk_index
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, sessionID, k)
	if err != nil {
		return nil, fmt.Errorf("pg chunk store: first chunks: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScoredChunk, error) {
		var sc ScoredChunk
		if err := row.Scan(&sc.SlideNumber, &sc.SlideTitle, &sc.Content); err != nil {
			return ScoredChunk{}, err
		}
		return sc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pg chunk store: scan rows: %w", err)
	}
	if results == nil {
		results = []ScoredChunk{}
	}
	return results, nil
}

// DeleteSession implements [ChunkStore].
func (s *PGStore) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM review_chunks WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("pg chunk store: delete session: %w", err)
	}
	return tag.RowsAffected(), nil
}

// clampSimilarity bounds a similarity score to [0, 1]. Cosine distance can
// exceed 1 for vectors pointing away from each other, which would otherwise
// surface as a negative similarity.
func clampSimilarity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
