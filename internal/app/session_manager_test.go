package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/live"
	memorymock "github.com/MrWong99/parley/pkg/memory/mock"
	"github.com/MrWong99/parley/pkg/provider/s2s"
	s2smock "github.com/MrWong99/parley/pkg/provider/s2s/mock"
)

// nopPeer discards everything a session delivers.
type nopPeer struct{}

func (nopPeer) SendAudio(context.Context, []byte) error                { return nil }
func (nopPeer) SendControl(context.Context, live.ControlMessage) error { return nil }

// newTestSessionManager returns a manager whose sessions connect to a fresh
// mock endpoint each and persist into store.
func newTestSessionManager(store *memorymock.SessionStore) *app.SessionManager {
	return app.NewSessionManager(func(peer live.Peer) *live.ServerSession {
		return live.NewServerSession(&s2smock.Provider{}, peer,
			live.ServerConfig{MinTranscriptChars: 1},
			live.WithMemory(store, nil),
		)
	})
}

func TestSessionManager_OpenAndClose(t *testing.T) {
	t.Parallel()

	sm := newTestSessionManager(&memorymock.SessionStore{})

	sess, err := sm.Open(nopPeer{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.SessionID() == "" {
		t.Fatal("session ID is empty")
	}
	if got, ok := sm.Get(sess.SessionID()); !ok || got != sess {
		t.Errorf("Get(%q) = %v, %v; want the opened session", sess.SessionID(), got, ok)
	}
	if sm.Count() != 1 {
		t.Errorf("Count = %d, want 1", sm.Count())
	}

	if err := sm.Close(t.Context(), sess.SessionID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sm.Count() != 0 {
		t.Errorf("Count after Close = %d, want 0", sm.Count())
	}
	if _, ok := sm.Get(sess.SessionID()); ok {
		t.Error("closed session is still tracked")
	}
	if err := sess.SendAudio([]byte{0}); !errors.Is(err, live.ErrClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
	}
}

func TestSessionManager_CloseUnknown(t *testing.T) {
	t.Parallel()

	sm := newTestSessionManager(&memorymock.SessionStore{})
	if err := sm.Close(t.Context(), "nope"); !errors.Is(err, app.ErrUnknownSession) {
		t.Errorf("Close = %v, want ErrUnknownSession", err)
	}
}

func TestSessionManager_List(t *testing.T) {
	t.Parallel()

	sm := newTestSessionManager(&memorymock.SessionStore{})
	first, _ := sm.Open(nopPeer{})
	second, _ := sm.Open(nopPeer{})

	if err := first.Start(t.Context(), "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = sm.Shutdown(context.Background()) })

	infos := sm.List()
	if len(infos) != 2 {
		t.Fatalf("List returned %d sessions, want 2", len(infos))
	}
	if infos[0].SessionID != first.SessionID() || infos[1].SessionID != second.SessionID() {
		t.Errorf("List order = [%s %s], want [%s %s]",
			infos[0].SessionID, infos[1].SessionID, first.SessionID(), second.SessionID())
	}
	if infos[0].UserID != "alice" || infos[0].State != live.StateActive {
		t.Errorf("first = %+v, want alice/active", infos[0])
	}
	if infos[1].UserID != "" || infos[1].State != live.StateIdle {
		t.Errorf("second = %+v, want idle without user", infos[1])
	}
}

func TestSessionManager_ShutdownPersistsAll(t *testing.T) {
	t.Parallel()

	store := &memorymock.SessionStore{}
	upstreams := []*s2smock.Session{s2smock.NewSession(), s2smock.NewSession()}
	next := 0
	sm := app.NewSessionManager(func(peer live.Peer) *live.ServerSession {
		up := upstreams[next]
		next++
		return live.NewServerSession(&s2smock.Provider{Session: up}, peer,
			live.ServerConfig{MinTranscriptChars: 1},
			live.WithMemory(store, nil),
		)
	})

	for i, up := range upstreams {
		sess, err := sm.Open(nopPeer{})
		if err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
		if err := sess.Start(t.Context(), "user"); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		up.Push(s2s.Event{Type: s2s.EventInputTranscript, Text: "hello"})
		waitFragments(t, sess, 1)
	}

	if err := sm.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := store.CallCount("AppendEvents"); n != 2 {
		t.Errorf("AppendEvents calls = %d, want 2", n)
	}
	for i, up := range upstreams {
		if up.Closes() != 1 {
			t.Errorf("upstream %d closes = %d, want 1", i, up.Closes())
		}
	}
	if _, err := sm.Open(nopPeer{}); !errors.Is(err, app.ErrShuttingDown) {
		t.Errorf("Open after Shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestSessionManager_ShutdownJoinsErrors(t *testing.T) {
	t.Parallel()

	store := &memorymock.SessionStore{AppendEventsErr: errors.New("disk full")}
	up := s2smock.NewSession()
	sm := app.NewSessionManager(func(peer live.Peer) *live.ServerSession {
		return live.NewServerSession(&s2smock.Provider{Session: up}, peer,
			live.ServerConfig{MinTranscriptChars: 1},
			live.WithMemory(store, nil),
		)
	})

	sess, _ := sm.Open(nopPeer{})
	if err := sess.Start(t.Context(), "user"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	up.Push(s2s.Event{Type: s2s.EventOutputTranscript, Text: "goodbye"})
	waitFragments(t, sess, 1)

	err := sm.Shutdown(t.Context())
	if !errors.Is(err, live.ErrPersistenceFailure) {
		t.Errorf("Shutdown = %v, want ErrPersistenceFailure", err)
	}
}
