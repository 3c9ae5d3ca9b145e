// Package mock provides a scriptable [llm.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider answers every request with Reply, or with Err when set.
type Provider struct {
	Reply string
	Usage llm.Usage
	Err   error

	// Func, when set, replaces Reply and Err.
	Func func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.Func != nil {
		return p.Func(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return &llm.CompletionResponse{Content: p.Reply, Usage: p.Usage}, nil
}

// Requests returns every request received, in call order.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}
