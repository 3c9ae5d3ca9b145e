package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] for the transcript summariser. When the
// preferred completion backend is down, summaries come from the next one so
// session memories keep being written.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a fallback whose preferred backend is primary.
// cfg.Kind defaults to "llm".
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

// Backends reports the breaker state of every backend.
func (f *LLMFallback) Backends() []BackendStatus { return f.group.Backends() }

// Healthy returns nil while some backend would accept a call.
func (f *LLMFallback) Healthy() error { return f.group.Healthy() }

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
