// Package s2s defines the Provider interface for remote speech-to-speech
// endpoints.
//
// An S2S provider wraps a real-time voice model that accepts raw PCM input
// and streams synthesised audio back over a single, stateful connection. The
// central abstraction is SessionHandle: a duplex connection whose inbound side
// is one ordered channel of typed [Event] values. Audio, transcripts,
// interruption notices and errors all arrive on that channel in the order the
// endpoint produced them, so a consumer can handle them in a single loop.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// EventType discriminates the payload of an [Event].
type EventType int

const (
	// EventAudio carries a chunk of synthesised PCM in Event.Audio.
	EventAudio EventType = iota + 1

	// EventInputTranscript carries recognised user speech in Event.Text.
	EventInputTranscript

	// EventOutputTranscript carries the text of the model's spoken reply.
	EventOutputTranscript

	// EventText carries a plain text part of the model's reply.
	EventText

	// EventInterrupted reports that the endpoint detected user speech and
	// abandoned the reply in progress. Buffered output must be discarded.
	EventInterrupted

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventError carries a non-fatal error reported by the endpoint in Event.Err.
	EventError
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventText:
		return "text"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one inbound message from the remote endpoint.
type Event struct {
	Type EventType

	// Audio is set for EventAudio: s16le mono PCM at the provider's output rate.
	Audio []byte

	// Text is set for the transcript and text events.
	Text string

	// Err is set for EventError.
	Err error
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice selects the voice the model uses for synthesised speech.
	Voice tts.VoiceProfile

	// Instructions is the system-level prompt for the session.
	Instructions string

	// InputSampleRate is the rate of the PCM passed to SendAudio. Zero means
	// the provider default (16 kHz).
	InputSampleRate int
}

// Capabilities describes static properties of the S2S provider.
type Capabilities struct {
	// ContextWindow is the maximum token count the model keeps across the session.
	ContextWindow int

	// MaxSessionDurationMs is the provider's hard session lifetime limit.
	// Zero means no documented limit.
	MaxSessionDurationMs int

	// InputSampleRate is the PCM rate the endpoint expects from SendAudio.
	InputSampleRate int

	// OutputSampleRate is the PCM rate of EventAudio payloads.
	OutputSampleRate int

	// Voices lists the voice profiles available for this provider.
	Voices []tts.VoiceProfile
}

// SessionHandle represents an open S2S connection. It is an interface so that
// test code can supply mock implementations without a live endpoint.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers a raw PCM chunk to the endpoint. It returns an error
	// if the session is closed or the write fails.
	SendAudio(chunk []byte) error

	// Events returns the inbound event channel. It is closed when the session
	// ends, after which [SessionHandle.Err] reports why. Consumers must drain it
	// promptly; a full channel stalls the provider's receive loop.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended cleanly.
	Err() error

	// Interrupt asks the endpoint to stop generating the current reply.
	Interrupt() error

	// Close terminates the session and closes the Events channel.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect establishes a new session. The returned SessionHandle accepts
	// audio immediately. The caller owns the handle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
