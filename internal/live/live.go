// Package live runs voice conversations against a remote model.
//
// Three drivers share the same building blocks:
//
//   - [Session] streams the local microphone to a speech-to-speech endpoint
//     and plays the streamed reply on the local speaker. Microphone frames are
//     dropped while the assistant is audible so it does not hear itself.
//   - [TurnLoop] is the turn-based alternative: record one utterance, ask a
//     [converse.Provider] for a text reply, synthesise it, play it, repeat.
//   - [ServerSession] relays a remote peer's audio to the endpoint, buffers
//     frames that arrive before the connection is up, records the transcript
//     and persists it to memory when the peer disconnects.
//
// Every driver consumes the endpoint's events in a single goroutine, so the
// order in which audio and transcripts are handled is the order in which the
// endpoint produced them.
package live

import (
	"context"
	"errors"
)

var (
	// ErrConnectionFailure is returned when the remote endpoint could not be
	// reached at session start. It is never retried.
	ErrConnectionFailure = errors.New("live: connection failure")

	// ErrSynthesisFailure marks a turn whose reply could not be turned into
	// audio. The turn's audio is skipped and the conversation continues.
	ErrSynthesisFailure = errors.New("live: synthesis failure")

	// ErrPersistenceFailure marks a failed transcript or memory write at
	// teardown. It is logged and never blocks disconnect.
	ErrPersistenceFailure = errors.New("live: persistence failure")

	// ErrAlreadyStarted is returned by Start on a session that is not idle.
	ErrAlreadyStarted = errors.New("live: session already started")

	// ErrClosed is returned when audio is sent to a session that is shutting down.
	ErrClosed = errors.New("live: session closed")
)

// ── State ────────────────────────────────────────────────────────────────────

// State is the connection lifecycle of a session:
// idle → connecting → active → closing → idle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ── Events ───────────────────────────────────────────────────────────────────

// EventType classifies an [Event].
type EventType int

const (
	// EventError carries a connection-level error reported by the endpoint.
	// The session keeps running unless EventClosed follows.
	EventError EventType = iota + 1

	// EventClosed is the last event of a session. Err is set when the
	// endpoint ended the session abnormally.
	EventClosed
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a notification surfaced to the owner of a [Session].
type Event struct {
	Type EventType
	Err  error
}

// ── Peer ─────────────────────────────────────────────────────────────────────

// ControlType is the discriminator of a [ControlMessage].
type ControlType string

const (
	// ControlInterrupted tells the peer to discard any audio it has buffered.
	ControlInterrupted ControlType = "interrupted"

	// ControlText carries a transcript or text fragment.
	ControlText ControlType = "text"

	// ControlError carries a human-readable error description.
	ControlError ControlType = "error"
)

// Roles carried by text control messages.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ControlMessage is the JSON control frame delivered to a peer.
type ControlMessage struct {
	Type ControlType `json:"type"`
	Text string      `json:"text,omitempty"`

	// Role is [RoleUser] or [RoleModel] for text messages.
	Role string `json:"role,omitempty"`
}

// Peer is the outbound side of a server session: the remote client that
// receives the model's audio and control messages. Implementations must be
// safe for concurrent use.
type Peer interface {
	// SendAudio delivers a chunk of model PCM exactly as received.
	SendAudio(ctx context.Context, pcm []byte) error

	// SendControl delivers a control message.
	SendControl(ctx context.Context, msg ControlMessage) error
}
