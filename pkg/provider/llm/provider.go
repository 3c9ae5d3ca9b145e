// Package llm defines the Provider interface for text completion backends.
//
// In parley an LLM is used off the hot path: it condenses a finished
// session's transcript into a summary that is stored as long-term memory.
// Live audio never flows through this package.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Well-known message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat-style prompt.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string

	// Name optionally labels the speaker within a role.
	Name string
}

// Usage reports token consumption for a single request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest holds the prompt and sampling parameters.
type CompletionRequest struct {
	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Messages is the conversation, oldest first.
	Messages []Message

	// Temperature controls randomness. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the backend default.
	MaxTokens int
}

// CompletionResponse is a complete, non-streamed reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat completion backend.
type Provider interface {
	// Complete sends req and blocks until the full reply is available.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
