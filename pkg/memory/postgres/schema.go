// Package postgres provides a PostgreSQL-backed implementation of the parley
// memory layer: the session transcript store and pgvector long-term memory.
//
// Both layers share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.Open(ctx, dsn, 1536, postgres.WithMaxConns(8))
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.AppendEvents(ctx, sessionID, userID, events)
//
//	archive, err := store.Archive(summariser, embedder)
//	_ = archive.Add(ctx, userID, sessionID, memory.FullText(events))
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Session transcript DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessionEvents = `
CREATE TABLE IF NOT EXISTS session_events (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    user_id     TEXT         NOT NULL,
    seq         INTEGER      NOT NULL,
    kind        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_session_events_user
    ON session_events (user_id, timestamp);

CREATE TABLE IF NOT EXISTS session_summaries (
    session_id  TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    summary     TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_summaries_user
    ON session_summaries (user_id, created_at DESC);
`

// ddlMemoryChunks returns the long-term memory DDL with the embedding
// dimension substituted. The dimension is baked into the column type.
func ddlMemoryChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_chunks (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    session_id  TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_user
    ON memory_chunks (user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_embedding
    ON memory_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the embeddings provider configured for the
// deployment. Changing it after the first migration requires a manual schema
// update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	statements := []string{
		ddlSessionEvents,
		ddlMemoryChunks(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
