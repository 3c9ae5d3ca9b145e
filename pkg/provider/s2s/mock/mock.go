// Package mock provides scriptable s2s doubles for pipeline tests.
//
//	up := mock.NewSession()
//	p := &mock.Provider{Session: up}
//	// ... start the session under test, then play the endpoint's side:
//	up.Push(s2s.Event{Type: s2s.EventAudio, Audio: pcm})
//	up.End(nil)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/s2s"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*Session)(nil)
)

// ConnectCall is one recorded Connect.
type ConnectCall struct {
	Ctx context.Context
	Cfg s2s.SessionConfig
}

// Provider hands out Session, or a fresh [NewSession] when Session is nil.
type Provider struct {
	Session s2s.SessionHandle
	Caps    s2s.Capabilities

	// Err fails every Connect.
	Err error

	// Gate, when set, holds Connect until it is closed or ctx ends.
	Gate chan struct{}

	mu    sync.Mutex
	calls []ConnectCall
}

// Connect implements [s2s.Provider].
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.calls = append(p.calls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.Err != nil:
		return nil, p.Err
	case p.Session != nil:
		return p.Session, nil
	default:
		return NewSession(), nil
	}
}

// Capabilities implements [s2s.Provider].
func (p *Provider) Capabilities() s2s.Capabilities { return p.Caps }

// Calls returns the Connect calls so far.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// SetErr changes the Connect error while the provider is in use.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Session is an endpoint the test drives by hand. Its event channel is
// closed by Close or End.
type Session struct {
	// SendErr and InterruptErr fail the matching calls.
	SendErr      error
	InterruptErr error

	events chan s2s.Event
	sent   chan struct{}
	ended  sync.Once

	mu         sync.Mutex
	err        error
	chunks     [][]byte
	interrupts int
	closes     int
}

// NewSession returns a Session with room for 256 pushed events.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 256),
		sent:   make(chan struct{}, 1024),
	}
}

// Push queues ev for the consumer. Pushing after End panics.
func (s *Session) Push(ev s2s.Event) { s.events <- ev }

// End closes the event channel; Err reports err afterwards.
func (s *Session) End(err error) {
	s.ended.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	})
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	s.chunks = append(s.chunks, slices.Clone(chunk))
	s.mu.Unlock()

	select {
	case s.sent <- struct{}{}:
	default:
	}
	return s.SendErr
}

// Sent ticks once per SendAudio call.
func (s *Session) Sent() <-chan struct{} { return s.sent }

// SentChunks returns every chunk passed to SendAudio.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chunks)
}

// Events implements [s2s.SessionHandle].
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err implements [s2s.SessionHandle].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Interrupt counts the call.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts++
	return s.InterruptErr
}

// Interrupts returns how often Interrupt was called.
func (s *Session) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// Close counts the call and ends the session cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// Closes returns how often Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
