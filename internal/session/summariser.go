// Package session holds the supporting services a live session uses around
// its audio loop: transcript summarisation for long-term memory
// ([LLMSummariser]) and graceful degradation of the memory backend
// ([MemoryGuard]).
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// summarisationPrompt is the system prompt sent to the LLM when summarising
// a finished session transcript.
const summarisationPrompt = `Summarise the following voice conversation between a user and an AI companion.
Preserve: facts the user shared about themselves, preferences, open questions, promises made,
and the emotional tone. Write in third person about "the user". Be concise; at most five sentences.`

// LLMSummariser uses an LLM provider to summarise transcripts.
type LLMSummariser struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

var _ memory.Summariser = (*LLMSummariser)(nil)

// SummariserOption is a functional option for [NewLLMSummariser].
type SummariserOption func(*LLMSummariser)

// WithMaxTokens caps the summary length. Default: 300.
func WithMaxTokens(n int) SummariserOption {
	return func(s *LLMSummariser) { s.maxTokens = n }
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider, opts ...SummariserOption) *LLMSummariser {
	s := &LLMSummariser{llm: provider, temperature: 0.3, maxTokens: 300}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Summarise sends transcript to the LLM with a summarisation prompt and
// returns the trimmed summary. An empty transcript yields an empty summary
// without calling the LLM.
func (s *LLMSummariser) Summarise(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", nil
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: transcript},
		},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
