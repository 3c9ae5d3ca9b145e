package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/embeddings"
)

// Archive is the long-term memory layer: one summarised, embedded chunk per
// finished session in memory_chunks, searched by cosine distance through an
// HNSW index. Get one from [Store.Archive].
type Archive struct {
	pool       *pgxpool.Pool
	summariser memory.Summariser
	embedder   embeddings.Provider
}

// Add implements [memory.LongTermMemory]. The summary is stored both as the
// session's summary (for [Store.RecentSummary]) and as an embedded chunk.
func (a *Archive) Add(ctx context.Context, userID, sessionID, fullText string) error {
	if strings.TrimSpace(fullText) == "" {
		return errors.New("postgres: archive: add: empty transcript")
	}

	summary, err := a.summariser.Summarise(ctx, fullText)
	if err != nil {
		return fmt.Errorf("postgres: archive: summarise: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return errors.New("postgres: archive: summarise: empty summary")
	}

	vec, err := a.embedder.Embed(ctx, summary)
	if err != nil {
		return fmt.Errorf("postgres: archive: embed: %w", err)
	}

	err = pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_summaries (session_id, user_id, summary)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_id) DO UPDATE SET
			    summary    = EXCLUDED.summary,
			    created_at = now()`,
			sessionID, userID, summary,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO memory_chunks (id, user_id, session_id, content, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), userID, sessionID, summary, pgvector.NewVector(vec),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: archive: store: %w", err)
	}
	return nil
}

// Search implements [memory.LongTermMemory]. Results are ordered by ascending
// cosine distance (most similar first), or newest first for an empty query.
func (a *Archive) Search(ctx context.Context, userID, query string, k int) ([]memory.Snippet, error) {
	if k <= 0 {
		return []memory.Snippet{}, nil
	}

	var (
		rows pgx.Rows
		err  error
	)
	if strings.TrimSpace(query) == "" {
		rows, err = a.pool.Query(ctx, `
			SELECT session_id, content, created_at, 0::float8 AS distance
			FROM   memory_chunks
			WHERE  user_id = $1
			ORDER  BY created_at DESC
			LIMIT  $2`, userID, k)
	} else {
		vec, embedErr := a.embedder.Embed(ctx, query)
		if embedErr != nil {
			return nil, fmt.Errorf("postgres: archive: embed query: %w", embedErr)
		}
		rows, err = a.pool.Query(ctx, `
			SELECT session_id, content, created_at, embedding <=> $1 AS distance
			FROM   memory_chunks
			WHERE  user_id = $2
			ORDER  BY distance
			LIMIT  $3`, pgvector.NewVector(vec), userID, k)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: archive: search: %w", err)
	}

	snippets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Snippet, error) {
		var s memory.Snippet
		if err := row.Scan(&s.SessionID, &s.Content, &s.CreatedAt, &s.Distance); err != nil {
			return memory.Snippet{}, err
		}
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: archive: scan rows: %w", err)
	}
	if snippets == nil {
		snippets = []memory.Snippet{}
	}
	return snippets, nil
}
