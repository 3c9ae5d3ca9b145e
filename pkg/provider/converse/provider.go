// Package converse defines the turn-based reply interface: one captured
// utterance in, one complete text reply out. It backs the non-streaming
// session mode where speech is synthesised separately by a tts.Provider.
package converse

import (
	"context"
	"errors"
)

// ErrRateLimited marks a reply that the backend refused because of quota or
// rate limits. Callers may retry after a delay.
var ErrRateLimited = errors.New("converse: rate limited")

// Role identifies the speaker of a [Message].
type Role string

const (
	// RoleUser is the human side of the conversation.
	RoleUser Role = "user"

	// RoleModel is the backend's side of the conversation.
	RoleModel Role = "model"
)

// Message is one earlier turn. A spoken user turn carries its utterance in
// Audio since no transcript of it exists; model turns carry Text.
type Message struct {
	Role Role
	Text string

	// Audio is a RIFF/WAVE container, or nil.
	Audio []byte
}

// Request is a single turn sent to the backend.
type Request struct {
	// SystemInstruction steers the persona and style of the reply.
	SystemInstruction string

	// Audio is the user's utterance as a RIFF/WAVE container. May be empty
	// when Text is set.
	Audio []byte

	// Text is an optional typed message sent alongside or instead of Audio.
	Text string

	// History holds earlier turns, oldest first.
	History []Message
}

// Response is the backend's full reply to one [Request].
type Response struct {
	// Text is the reply to be spoken.
	Text string
}

// Provider produces one complete reply per request. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Reply sends req and waits for the whole reply. Quota errors are
	// reported wrapped around [ErrRateLimited].
	Reply(ctx context.Context, req Request) (Response, error)
}
