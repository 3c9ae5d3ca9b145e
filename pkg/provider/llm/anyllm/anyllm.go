// Package anyllm implements [llm.Provider] on top of
// github.com/mozilla-ai/any-llm-go, which speaks to most hosted and local
// chat-completion services through one interface. parley uses it for the
// transcript summariser.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// ErrEmptyReply is returned when the backend answered without any text.
var ErrEmptyReply = errors.New("anyllm: empty reply")

var _ llm.Provider = (*Provider)(nil)

// backends maps a lower-case backend name to its constructor. Backends that
// need an API key read it from their usual environment variable when no
// [anyllmlib.WithAPIKey] option is given.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// Backends lists the backend names accepted by [New], sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider sends completions to one any-llm-go backend and model.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New connects to the named backend (case-insensitive, see [Backends]).
func New(backendName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	newBackend, ok := backends[strings.ToLower(backendName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q (supported: %s)",
			backendName, strings.Join(Backends(), ", "))
	}
	b, err := newBackend(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", backendName, err)
	}
	return &Provider{backend: b, model: model}, nil
}

// Complete returns the first choice of the backend's reply with surrounding
// whitespace removed.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, toParams(p.model, req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyReply
	}
	content := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if content == "" {
		return nil, ErrEmptyReply
	}

	out := &llm.CompletionResponse{Content: content}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

func toParams(model string, req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: make([]anyllmlib.Message, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}
