// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service and turns one piece of text
// into a complete RIFF/WAVE container holding mono 16-bit PCM. The turn-based
// voice loop plays the result with a single blocking call, so providers return
// the whole utterance rather than a stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when Synthesize is called without any text.
var ErrEmptyText = errors.New("tts: empty text")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns a WAV file
	// (mono, 16-bit PCM). An empty voice ID selects the provider default.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
