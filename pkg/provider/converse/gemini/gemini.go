// Package gemini implements converse.Provider on the Gemini generateContent
// API through the google.golang.org/genai SDK. The utterance is sent as
// inline audio next to the conversation history.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/parley/pkg/provider/converse"
)

// Compile-time interface assertion.
var _ converse.Provider = (*Provider)(nil)

const defaultModel = "gemini-2.0-flash"

// Option is a functional option for [New].
type Option func(*options)

type options struct {
	model       string
	baseURL     string
	httpClient  *http.Client
	temperature *float32
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithBaseURL points the client at a different endpoint. Used in tests.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *options) { o.temperature = &t }
}

// Provider sends one turn per Reply call.
type Provider struct {
	client      *genai.Client
	model       string
	temperature *float32
}

// New creates a Provider for apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("converse/gemini: apiKey must not be empty")
	}
	o := options{model: defaultModel}
	for _, opt := range opts {
		opt(&o)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if o.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("converse/gemini: new client: %w", err)
	}
	return &Provider{client: client, model: o.model, temperature: o.temperature}, nil
}

// Reply implements converse.Provider.
func (p *Provider) Reply(ctx context.Context, req converse.Request) (converse.Response, error) {
	if len(req.Audio) == 0 && strings.TrimSpace(req.Text) == "" {
		return converse.Response{}, errors.New("converse/gemini: request has neither audio nor text")
	}

	cfg := &genai.GenerateContentConfig{Temperature: p.temperature}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, buildContents(req), cfg)
	if err != nil {
		if isRateLimit(err) {
			return converse.Response{}, fmt.Errorf("converse/gemini: reply: %w: %w", converse.ErrRateLimited, err)
		}
		return converse.Response{}, fmt.Errorf("converse/gemini: reply: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return converse.Response{}, errors.New("converse/gemini: reply: no candidates")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return converse.Response{}, fmt.Errorf("converse/gemini: reply: empty text (finish reason %q)", resp.Candidates[0].FinishReason)
	}
	return converse.Response{Text: text}, nil
}

// buildContents turns history plus the current utterance into genai contents.
func buildContents(req converse.Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == converse.RoleModel {
			role = genai.RoleModel
		}
		if parts := turnParts(m.Audio, m.Text); len(parts) > 0 {
			contents = append(contents, genai.NewContentFromParts(parts, role))
		}
	}
	return append(contents, genai.NewContentFromParts(turnParts(req.Audio, req.Text), genai.RoleUser))
}

func turnParts(wav []byte, text string) []*genai.Part {
	var parts []*genai.Part
	if len(wav) > 0 {
		parts = append(parts, genai.NewPartFromBytes(wav, "audio/wav"))
	}
	if t := strings.TrimSpace(text); t != "" {
		parts = append(parts, genai.NewPartFromText(t))
	}
	return parts
}

// isRateLimit reports whether err is a quota rejection from the API. Only
// typed API errors count; message text is never matched.
func isRateLimit(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code == http.StatusTooManyRequests || apiErrPtr.Status == "RESOURCE_EXHAUSTED"
	}
	return false
}
