// Package mock provides a test double for the converse.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/converse"
)

// Provider is a mock implementation of converse.Provider. Responses are
// consumed in order from Script; once exhausted, Response and Err are
// returned.
type Provider struct {
	mu sync.Mutex

	// Script holds per-call results consumed front to back.
	Script []Result

	// Response is returned when Script is empty.
	Response converse.Response

	// Err is returned when Script is empty.
	Err error

	// ReplyCalls records every request in order.
	ReplyCalls []converse.Request
}

// Result is one scripted reply.
type Result struct {
	Response converse.Response
	Err      error
}

// Reply records req and returns the next scripted result.
func (p *Provider) Reply(_ context.Context, req converse.Request) (converse.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReplyCalls = append(p.ReplyCalls, req)
	if len(p.Script) > 0 {
		r := p.Script[0]
		p.Script = p.Script[1:]
		return r.Response, r.Err
	}
	return p.Response, p.Err
}

// Calls returns a copy of the recorded requests. Thread-safe.
func (p *Provider) Calls() []converse.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]converse.Request(nil), p.ReplyCalls...)
}

var _ converse.Provider = (*Provider)(nil)
