// Package energy implements [vad.Engine] with a plain RMS energy gate.
//
// A session ignores the first SettleWindow of audio, starts a segment on the
// first frame whose RMS exceeds SpeechThreshold, and ends it once
// SilenceTimeout of continuous sub-threshold audio has followed. Elapsed time
// is measured in audio samples, not wall-clock, so results are deterministic
// for a given input.
package energy

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy vad: session closed")

// Engine creates energy VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.SpeechThreshold <= 0 {
		return nil, fmt.Errorf("energy vad: speech threshold must be positive, got %v", cfg.SpeechThreshold)
	}
	if cfg.SilenceTimeout <= 0 {
		return nil, fmt.Errorf("energy vad: silence timeout must be positive, got %v", cfg.SilenceTimeout)
	}
	if cfg.SettleWindow < 0 {
		return nil, fmt.Errorf("energy vad: settle window must not be negative, got %v", cfg.SettleWindow)
	}
	return &Session{cfg: cfg}, nil
}

// Session is a single-stream energy detector. Not safe for concurrent use.
type Session struct {
	cfg vad.Config

	elapsed  time.Duration
	speaking bool
	silence  time.Duration
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	d := audio.PCMDuration(len(frame), s.cfg.SampleRate)
	level := audio.RMS(frame)

	start := s.elapsed
	s.elapsed += d
	if start < s.cfg.SettleWindow {
		return vad.VADEvent{Type: vad.VADSettling, Level: level}, nil
	}

	loud := level > s.cfg.SpeechThreshold
	switch {
	case !s.speaking && loud:
		s.speaking = true
		s.silence = 0
		return vad.VADEvent{Type: vad.VADSpeechStart, Level: level}, nil
	case !s.speaking:
		return vad.VADEvent{Type: vad.VADSilence, Level: level}, nil
	case loud:
		s.silence = 0
		return vad.VADEvent{Type: vad.VADSpeechContinue, Level: level}, nil
	}

	s.silence += d
	if s.silence > s.cfg.SilenceTimeout {
		s.speaking = false
		s.silence = 0
		return vad.VADEvent{Type: vad.VADSpeechEnd, Level: level}, nil
	}
	return vad.VADEvent{Type: vad.VADSpeechContinue, Level: level}, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.elapsed = 0
	s.speaking = false
	s.silence = 0
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.closed = true
	return nil
}
