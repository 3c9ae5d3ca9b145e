// Package mock provides a recording tts.Provider for tests.
//
//	p := &mock.Provider{SynthesizeResult: audio.EncodeWAV(pcm, 24000)}
//	wav, _ := p.Synthesize(ctx, "hello", voice)
//	p.Calls()[0].Text // "hello"
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Call is one recorded Synthesize.
type Call struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceProfile
}

// Provider answers every Synthesize with SynthesizeResult and SynthesizeErr
// and every ListVoices with ListVoicesResult and ListVoicesErr. Set the
// fields before first use.
type Provider struct {
	SynthesizeResult []byte
	SynthesizeErr    error

	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	mu      sync.Mutex
	calls   []Call
	lookups int
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	return slices.Clone(p.SynthesizeResult), nil
}

// ListVoices implements [tts.Provider].
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return slices.Clone(p.ListVoicesResult), nil
}

// Calls returns the Synthesize calls so far.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Lookups returns how often ListVoices was called.
func (p *Provider) Lookups() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookups
}
