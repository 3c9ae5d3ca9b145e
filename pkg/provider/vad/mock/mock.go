// Package mock provides scripted [vad.Engine] and [vad.SessionHandle]
// doubles so utterance capture can be tested without real audio levels.
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine hands out Session, or a fresh empty [Session] when nil.
type Engine struct {
	Session vad.SessionHandle
	Err     error

	mu      sync.Mutex
	configs []vad.Config
}

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Session == nil {
		return &Session{}, nil
	}
	return e.Session, nil
}

// Configs returns the config of every session requested so far.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session replies to each frame with the next Script event. Once the script
// runs out every frame yields a silence event.
type Session struct {
	Script []vad.VADEvent
	Err    error

	mu     sync.Mutex
	frames int
	resets int
	closes int
}

func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.Err != nil {
		return vad.VADEvent{}, s.Err
	}
	if len(s.Script) == 0 {
		return vad.VADEvent{Type: vad.VADSilence}, nil
	}
	ev := s.Script[0]
	s.Script = s.Script[1:]
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Frames, Resets and Closes report how often each method was called.
func (s *Session) Frames() int { s.mu.Lock(); defer s.mu.Unlock(); return s.frames }
func (s *Session) Resets() int { s.mu.Lock(); defer s.mu.Unlock(); return s.resets }
func (s *Session) Closes() int { s.mu.Lock(); defer s.mu.Unlock(); return s.closes }
