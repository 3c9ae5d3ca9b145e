// Package memory defines the persistence interfaces a live session talks to.
//
// Two layers exist:
//
//   - [SessionStore]: the raw transcript of every finished session plus the
//     most recent summary per user, used to brief the next session.
//   - [LongTermMemory]: summarised sessions indexed for similarity search, so
//     a new session can recall relevant facts from any earlier one.
//
// All interfaces are public so that external packages can supply alternative
// storage backends without depending on parley internals.
//
// Every implementation must be safe for concurrent use.
package memory

import "context"

// SessionStore persists session transcripts.
type SessionStore interface {
	// AppendEvents stores events for sessionID, owned by userID, in order.
	AppendEvents(ctx context.Context, sessionID, userID string, events []Event) error

	// RecentSummary returns the summary of userID's latest summarised session,
	// or "" when none exists.
	RecentSummary(ctx context.Context, userID string) (string, error)
}

// LongTermMemory stores and recalls distilled knowledge about a user.
type LongTermMemory interface {
	// Search returns up to k snippets for userID ranked by similarity to
	// query. An empty query ranks by recency instead.
	Search(ctx context.Context, userID, query string, k int) ([]Snippet, error)

	// Add summarises fullText and indexes the summary for userID.
	Add(ctx context.Context, userID, sessionID, fullText string) error
}

// Summariser condenses a transcript into a short summary.
type Summariser interface {
	Summarise(ctx context.Context, transcript string) (string, error)
}
