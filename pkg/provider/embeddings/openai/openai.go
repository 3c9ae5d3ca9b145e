// Package openai embeds text through the OpenAI embeddings endpoint or any
// server that speaks the same /v1/embeddings dialect, such as Ollama, vLLM
// or LocalAI.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/parley/pkg/provider/embeddings"
)

// DefaultModel is used when New is given no model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// ErrEmptyText is returned for blank input; the endpoint rejects it anyway.
var ErrEmptyText = errors.New("openai embeddings: empty text")

var _ embeddings.Provider = (*Provider)(nil)

// modelInfo describes a known embedding model family, matched by substring.
type modelInfo struct {
	match    string
	dims     int
	shortens bool
}

// knownModels is checked in order; unknown models are assumed to produce
// 1536 values like the OpenAI defaults.
var knownModels = []modelInfo{
	{match: "text-embedding-3-large", dims: 3072, shortens: true},
	{match: "text-embedding-3", dims: 1536, shortens: true},
	{match: "nomic-embed-text", dims: 768},
	{match: "mxbai-embed-large", dims: 1024},
}

func lookupModel(model string) modelInfo {
	lower := strings.ToLower(model)
	for _, m := range knownModels {
		if strings.Contains(lower, m.match) {
			return m
		}
	}
	return modelInfo{dims: 1536}
}

// Provider embeds with one model at a fixed vector length.
type Provider struct {
	client oai.Client
	model  string
	dims   int
	// shorten asks the server for dims values instead of the model's native
	// length.
	shorten bool
}

type settings struct {
	baseURL string
	timeout time.Duration
	dims    int
}

// Option configures [New].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible server. Such servers
// may run without an API key.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// WithTimeout bounds every HTTP request.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// WithDimensions requests vectors of length n. text-embedding-3 models
// shorten natively; any other model must already produce n values.
func WithDimensions(n int) Option { return func(s *settings) { s.dims = n } }

// New returns a provider for model, or [DefaultModel] when model is empty.
// An API key is required unless a base URL is given.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if apiKey == "" && s.baseURL == "" {
		return nil, errors.New("openai embeddings: api key required for the hosted API")
	}
	if s.dims < 0 {
		return nil, fmt.Errorf("openai embeddings: invalid dimensions %d", s.dims)
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}

	info := lookupModel(model)
	p := &Provider{client: oai.NewClient(reqOpts...), model: model, dims: info.dims}
	if s.dims > 0 {
		p.dims = s.dims
		p.shorten = info.shortens
	}
	return p, nil
}

// Embed returns the vector for text. A vector of the wrong length is an
// error because the memory store's column is fixed.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	}
	if p.shorten {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %s: %w", p.model, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: %s: no data in response", p.model)
	}
	raw := resp.Data[0].Embedding
	if len(raw) != p.dims {
		return nil, fmt.Errorf("openai embeddings: %s returned %d values, want %d", p.model, len(raw), p.dims)
	}
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (p *Provider) Dimensions() int { return p.dims }

func (p *Provider) ModelID() string { return p.model }
