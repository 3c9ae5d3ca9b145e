// Package mock provides in-memory test doubles for the memory layer interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.SessionStore{RecentSummaryResult: "User likes dragons."}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("AppendEvents"); got != 1 {
//	    t.Errorf("expected 1 AppendEvents call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// recorder is the shared call log embedded in every mock.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SessionStore mock
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore is a configurable test double for [memory.SessionStore].
type SessionStore struct {
	recorder

	// AppendEventsErr is returned by [SessionStore.AppendEvents] when non-nil.
	AppendEventsErr error

	// RecentSummaryResult is returned by [SessionStore.RecentSummary].
	RecentSummaryResult string

	// RecentSummaryErr is returned by [SessionStore.RecentSummary] when non-nil.
	RecentSummaryErr error

	// RecentSummaryDelay, when positive, blocks RecentSummary for that long
	// or until ctx is done.
	RecentSummaryDelay time.Duration
}

// AppendEvents implements [memory.SessionStore]. The events slice is copied.
func (m *SessionStore) AppendEvents(_ context.Context, sessionID, userID string, events []memory.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]memory.Event(nil), events...)
	m.record("AppendEvents", sessionID, userID, cp)
	return m.AppendEventsErr
}

// RecentSummary implements [memory.SessionStore].
func (m *SessionStore) RecentSummary(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	m.record("RecentSummary", userID)
	delay := m.RecentSummaryDelay
	result, err := m.RecentSummaryResult, m.RecentSummaryErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return result, err
}

// Ensure SessionStore satisfies the interface at compile time.
var _ memory.SessionStore = (*SessionStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// LongTermMemory mock
// ─────────────────────────────────────────────────────────────────────────────

// LongTermMemory is a configurable test double for [memory.LongTermMemory].
type LongTermMemory struct {
	recorder

	// SearchResult is returned by [LongTermMemory.Search], truncated to k.
	// When nil, Search returns an empty non-nil slice.
	SearchResult []memory.Snippet

	// SearchErr is returned by [LongTermMemory.Search] when non-nil.
	SearchErr error

	// AddErr is returned by [LongTermMemory.Add] when non-nil.
	AddErr error
}

// Search implements [memory.LongTermMemory].
func (m *LongTermMemory) Search(_ context.Context, userID, query string, k int) ([]memory.Snippet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Search", userID, query, k)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	out := append([]memory.Snippet{}, m.SearchResult...)
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Add implements [memory.LongTermMemory].
func (m *LongTermMemory) Add(_ context.Context, userID, sessionID, fullText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Add", userID, sessionID, fullText)
	return m.AddErr
}

// Ensure LongTermMemory satisfies the interface at compile time.
var _ memory.LongTermMemory = (*LongTermMemory)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Summariser mock
// ─────────────────────────────────────────────────────────────────────────────

// Summariser is a configurable test double for [memory.Summariser].
type Summariser struct {
	recorder

	// Result is returned by [Summariser.Summarise].
	Result string

	// Err is returned by [Summariser.Summarise] when non-nil.
	Err error
}

// Summarise implements [memory.Summariser].
func (m *Summariser) Summarise(_ context.Context, transcript string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Summarise", transcript)
	return m.Result, m.Err
}

// Ensure Summariser satisfies the interface at compile time.
var _ memory.Summariser = (*Summariser)(nil)
