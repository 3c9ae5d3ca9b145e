package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/parley/pkg/memory"
)

// AppendEvents implements [memory.SessionStore]. All events are written in
// one transaction; seq continues after any events already stored for the
// session so repeated appends keep their order.
func (s *Store) AppendEvents(ctx context.Context, sessionID, userID string, events []memory.Event) error {
	if len(events) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var next int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM session_events WHERE session_id = $1`,
			sessionID,
		).Scan(&next); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, e := range events {
			batch.Queue(`
				INSERT INTO session_events (session_id, user_id, seq, kind, text, timestamp)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				sessionID, userID, next+i, string(e.Kind), e.Text, e.Timestamp,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("session store: append events: %w", err)
	}
	return nil
}

// RecentSummary implements [memory.SessionStore].
func (s *Store) RecentSummary(ctx context.Context, userID string) (string, error) {
	const q = `
		SELECT summary
		FROM   session_summaries
		WHERE  user_id = $1
		ORDER  BY created_at DESC
		LIMIT  1`

	var summary string
	err := s.pool.QueryRow(ctx, q, userID).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session store: recent summary: %w", err)
	}
	return summary, nil
}

// Events returns the stored transcript of sessionID in order.
func (s *Store) Events(ctx context.Context, sessionID string) ([]memory.Event, error) {
	const q = `
		SELECT kind, text, timestamp
		FROM   session_events
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session store: events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Event, error) {
		var (
			e    memory.Event
			kind string
		)
		if err := row.Scan(&kind, &e.Text, &e.Timestamp); err != nil {
			return memory.Event{}, err
		}
		e.Kind = memory.EventKind(kind)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if events == nil {
		events = []memory.Event{}
	}
	return events, nil
}
