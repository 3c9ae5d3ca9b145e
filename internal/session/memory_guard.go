package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/parley/pkg/memory"
)

// MemoryGuard wraps a [memory.SessionStore] and a [memory.LongTermMemory] so
// that reads never fail: on error they log a warning and return empty
// results, letting a session start with its base instruction while the
// database is unavailable. Writes still return their error so the caller can
// account for the persistence failure.
//
// IsDegraded reports whether the most recent operation failed.
//
// All methods are safe for concurrent use.
type MemoryGuard struct {
	store    memory.SessionStore
	longTerm memory.LongTermMemory
	degraded atomic.Bool
}

// Compile-time checks.
var (
	_ memory.SessionStore   = (*MemoryGuard)(nil)
	_ memory.LongTermMemory = (*MemoryGuard)(nil)
)

// NewMemoryGuard creates a new [MemoryGuard] wrapping the given backends.
func NewMemoryGuard(store memory.SessionStore, longTerm memory.LongTermMemory) *MemoryGuard {
	return &MemoryGuard{store: store, longTerm: longTerm}
}

// AppendEvents delegates to the session store, marking the guard degraded
// on failure.
func (mg *MemoryGuard) AppendEvents(ctx context.Context, sessionID, userID string, events []memory.Event) error {
	err := mg.store.AppendEvents(ctx, sessionID, userID, events)
	mg.degraded.Store(err != nil)
	return err
}

// RecentSummary returns "" instead of an error when the store fails.
func (mg *MemoryGuard) RecentSummary(ctx context.Context, userID string) (string, error) {
	s, err := mg.store.RecentSummary(ctx, userID)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: RecentSummary failed, returning empty",
			"user_id", userID,
			"err", err,
		)
		return "", nil
	}
	mg.degraded.Store(false)
	return s, nil
}

// Search returns an empty slice instead of an error when the backend fails.
func (mg *MemoryGuard) Search(ctx context.Context, userID, query string, k int) ([]memory.Snippet, error) {
	snippets, err := mg.longTerm.Search(ctx, userID, query, k)
	if err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Search failed, returning empty",
			"user_id", userID,
			"err", err,
		)
		return []memory.Snippet{}, nil
	}
	mg.degraded.Store(false)
	return snippets, nil
}

// Add delegates to long-term memory, marking the guard degraded on failure.
func (mg *MemoryGuard) Add(ctx context.Context, userID, sessionID, fullText string) error {
	err := mg.longTerm.Add(ctx, userID, sessionID, fullText)
	mg.degraded.Store(err != nil)
	return err
}

// IsDegraded reports whether the most recent operation on either backend
// failed.
func (mg *MemoryGuard) IsDegraded() bool {
	return mg.degraded.Load()
}
