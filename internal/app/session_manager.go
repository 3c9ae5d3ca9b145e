package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/live"
)

// shutdownParallelism bounds how many sessions persist concurrently during
// [SessionManager.Shutdown].
const shutdownParallelism = 8

// ErrShuttingDown is returned by [SessionManager.Open] once shutdown began.
var ErrShuttingDown = errors.New("app: session manager is shutting down")

// ErrUnknownSession is returned by [SessionManager.Close] for an ID that is
// not tracked.
var ErrUnknownSession = errors.New("app: unknown session")

// SessionInfo holds metadata about a tracked session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// UserID is empty until the session has started.
	UserID string

	State     live.State
	OpenedAt  time.Time
	Fragments int
}

// SessionFactory builds an idle server session delivering to peer.
type SessionFactory func(peer live.Peer) *live.ServerSession

type trackedSession struct {
	sess     *live.ServerSession
	openedAt time.Time
}

// SessionManager tracks every server session by ID. Any number of sessions
// may run at once. All exported methods are safe for concurrent use.
type SessionManager struct {
	newSession SessionFactory

	mu       sync.Mutex
	sessions map[string]trackedSession
	closing  bool
}

// NewSessionManager creates a SessionManager that builds sessions with factory.
func NewSessionManager(factory SessionFactory) *SessionManager {
	return &SessionManager{
		newSession: factory,
		sessions:   make(map[string]trackedSession),
	}
}

// Open creates and tracks a new idle session. The caller starts it.
func (sm *SessionManager) Open(peer live.Peer) (*live.ServerSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closing {
		return nil, ErrShuttingDown
	}
	sess := sm.newSession(peer)
	sm.sessions[sess.SessionID()] = trackedSession{sess: sess, openedAt: time.Now().UTC()}
	slog.Debug("session opened", "session_id", sess.SessionID(), "active", len(sm.sessions))
	return sess, nil
}

// Close disconnects the session and stops tracking it. Persistence failures
// from the disconnect are returned. Once Shutdown began, closing a session it
// already disconnected is not an error.
func (sm *SessionManager) Close(ctx context.Context, id string) error {
	sm.mu.Lock()
	t, ok := sm.sessions[id]
	delete(sm.sessions, id)
	closing := sm.closing
	sm.mu.Unlock()

	if !ok {
		if closing {
			// Already disconnected by Shutdown.
			return nil
		}
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return t.sess.Disconnect(ctx)
}

// Get returns the tracked session with the given ID.
func (sm *SessionManager) Get(id string) (*live.ServerSession, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	t, ok := sm.sessions[id]
	return t.sess, ok
}

// Count returns the number of tracked sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// List returns metadata for every tracked session, oldest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	tracked := slices.Collect(maps.Values(sm.sessions))
	sm.mu.Unlock()

	infos := make([]SessionInfo, 0, len(tracked))
	for _, t := range tracked {
		infos = append(infos, SessionInfo{
			SessionID: t.sess.SessionID(),
			UserID:    t.sess.UserID(),
			State:     t.sess.State(),
			OpenedAt:  t.openedAt,
			Fragments: t.sess.Record().Len(),
		})
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int { return a.OpenedAt.Compare(b.OpenedAt) })
	return infos
}

// Shutdown refuses new sessions and disconnects every tracked one, persisting
// their transcripts. Errors from individual sessions are joined.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closing = true
	tracked := sm.sessions
	sm.sessions = make(map[string]trackedSession)
	sm.mu.Unlock()

	if len(tracked) == 0 {
		return nil
	}
	slog.Info("disconnecting sessions", "count", len(tracked))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(shutdownParallelism)
	for id, t := range tracked {
		g.Go(func() error {
			if err := t.sess.Disconnect(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("session %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
