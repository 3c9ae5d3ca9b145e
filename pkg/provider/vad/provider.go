// Package vad defines voice activity detection for the capture loop, which
// uses it to cut microphone audio into utterances.
//
// An [Engine] is shared. Each stream opens its own [SessionHandle], and a
// handle is owned by one goroutine.
package vad

import "time"

// Config parameterises one detection session.
type Config struct {
	// SampleRate of the frames fed to ProcessFrame, in Hz.
	SampleRate int

	// SpeechThreshold is the level a frame must exceed to count as speech,
	// in the engine's own scale (raw int16 RMS for the energy engine).
	SpeechThreshold float64

	// SettleWindow is skipped at stream start so device open clicks are not
	// taken for speech.
	SettleWindow time.Duration

	// SilenceTimeout of trailing quiet ends a segment with [VADSpeechEnd].
	SilenceTimeout time.Duration
}

// SessionHandle tracks detection state for a single stream.
type SessionHandle interface {
	// ProcessFrame classifies one frame of little-endian PCM at the
	// configured rate. It does not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset starts over as if the stream had just opened, settle window
	// included.
	Reset()

	// Close is idempotent. ProcessFrame fails afterwards.
	Close() error
}

// Engine opens detection sessions. It is safe for concurrent use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
