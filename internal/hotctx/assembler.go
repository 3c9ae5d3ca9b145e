// Package hotctx assembles the prior-context briefing injected into the
// system instruction of every new live session.
//
// Two components are fetched concurrently:
//
//  1. The summary of the user's most recent session.
//  2. The top-k long-term memory snippets for the user.
//
// Either fetch may fail; the failure is logged and the briefing is built
// from whatever arrived. Use [FormatSystemPrompt] to combine a [HotContext]
// with the base instruction.
package hotctx

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/pkg/memory"
)

// ─────────────────────────────────────────────────────────────────────────────
// Public types
// ─────────────────────────────────────────────────────────────────────────────

// HotContext is the assembled prior context for one user.
// All fields are optional; callers should check for empty values.
type HotContext struct {
	// RecentSummary summarises the user's previous session.
	RecentSummary string

	// Snippets holds relevant long-term memories, best first.
	Snippets []memory.Snippet

	// Degraded is true when at least one fetch failed.
	Degraded bool

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// ─────────────────────────────────────────────────────────────────────────────
// Assembler
// ─────────────────────────────────────────────────────────────────────────────

// Assembler concurrently fetches the hot-context components.
type Assembler struct {
	sessionStore memory.SessionStore
	longTerm     memory.LongTermMemory
	snippets     int
	recallQuery  string
	timeout      time.Duration
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithSnippetCount sets how many long-term snippets are requested.
// Defaults to 3. Zero disables the long-term fetch.
func WithSnippetCount(k int) Option {
	return func(a *Assembler) { a.snippets = k }
}

// WithRecallQuery sets the text the long-term snippets are ranked against.
// An empty query ranks by recency.
func WithRecallQuery(q string) Option {
	return func(a *Assembler) { a.recallQuery = q }
}

// WithTimeout bounds the whole assembly. Defaults to 3 seconds.
func WithTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.timeout = d }
}

// NewAssembler creates an [Assembler] with sensible defaults. Either backend
// may be nil, in which case that component is skipped.
func NewAssembler(sessionStore memory.SessionStore, longTerm memory.LongTermMemory, opts ...Option) *Assembler {
	a := &Assembler{
		sessionStore: sessionStore,
		longTerm:     longTerm,
		snippets:     3,
		recallQuery:  "What matters most to this user?",
		timeout:      3 * time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble fetches both components for userID in parallel and returns the
// combined [HotContext]. It never fails: fetch errors are logged and mark
// the result as degraded.
func (a *Assembler) Assemble(ctx context.Context, userID string) *HotContext {
	start := time.Now()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var (
		hctx       HotContext
		summaryErr error
		searchErr  error
	)

	// Errors are collected per component rather than returned so one failed
	// fetch does not cancel the other.
	var eg errgroup.Group

	// ── goroutine 1: recent session summary ──────────────────────────────────
	if a.sessionStore != nil {
		eg.Go(func() error {
			hctx.RecentSummary, summaryErr = a.sessionStore.RecentSummary(ctx, userID)
			return nil
		})
	}

	// ── goroutine 2: long-term snippets ──────────────────────────────────────
	if a.longTerm != nil && a.snippets > 0 {
		eg.Go(func() error {
			hctx.Snippets, searchErr = a.longTerm.Search(ctx, userID, a.recallQuery, a.snippets)
			return nil
		})
	}

	_ = eg.Wait()

	if summaryErr != nil {
		hctx.Degraded = true
		hctx.RecentSummary = ""
		slog.Warn("hot context: recent summary unavailable", "user_id", userID, "err", summaryErr)
	}
	if searchErr != nil {
		hctx.Degraded = true
		hctx.Snippets = nil
		slog.Warn("hot context: long-term memory unavailable", "user_id", userID, "err", searchErr)
	}
	if len(hctx.Snippets) > a.snippets {
		hctx.Snippets = hctx.Snippets[:a.snippets]
	}
	hctx.AssemblyDuration = time.Since(start)
	return &hctx
}
