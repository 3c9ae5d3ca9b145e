// Package coqui synthesises speech on a self-hosted Coqui server. Two server
// flavours are supported, selected with [WithAPIMode]:
//
//   - [APIModeStandard], the stock Coqui TTS server: GET /api/tts with query
//     parameters, voices from GET /details.
//   - [APIModeXTTS], the XTTS v2 API server: POST /tts_to_audio/ with a JSON
//     body, voices from GET /studio_speakers.
//
// Both render one utterance per request, so a reply is cut into sentences
// that are rendered concurrently and stitched back together in order.
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// maxInFlight caps concurrent sentence requests per Synthesize call.
	maxInFlight = 4
)

// APIMode selects the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option configures [New].
type Option func(*Provider)

// WithLanguage sets the language code sent with every request. Default "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithTimeout bounds each HTTP request. Default 30s.
func WithTimeout(d time.Duration) Option { return func(p *Provider) { p.client.Timeout = d } }

// WithAPIMode selects the server flavour. Default [APIModeStandard].
func WithAPIMode(mode APIMode) Option { return func(p *Provider) { p.mode = mode } }

// WithOutputSampleRate resamples the result to rate. Zero keeps the rate of
// the first sentence.
func WithOutputSampleRate(rate int) Option { return func(p *Provider) { p.outputRate = rate } }

// WithHTTPClient replaces the HTTP client, including its timeout.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// Provider talks to one Coqui server.
type Provider struct {
	baseURL    string
	language   string
	mode       APIMode
	outputRate int
	client     *http.Client
	dialect    dialect
}

// New returns a provider for the server at baseURL, e.g.
// "http://localhost:5002".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: server URL must not be empty")
	}
	p := &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		mode:     APIModeStandard,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case APIModeStandard:
		p.dialect = standardDialect{}
	case APIModeXTTS:
		p.dialect = xttsDialect{}
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.mode)
	}
	return p, nil
}

// ── Dialects ──

// dialect is the part of the protocol that differs between server flavours.
type dialect interface {
	// synthesis builds the request rendering one sentence.
	synthesis(ctx context.Context, p *Provider, sentence string, voice tts.VoiceProfile) (*http.Request, error)
	// voicesPath is the catalogue endpoint.
	voicesPath() string
	// voices turns the catalogue body into sorted profiles.
	voices(body []byte) ([]tts.VoiceProfile, error)
	// needsVoice reports whether synthesis fails without a voice ID.
	needsVoice() bool
}

type standardDialect struct{}

const (
	standardTTSPath     = "/api/tts"
	standardDetailsPath = "/details"
)

func (standardDialect) synthesis(ctx context.Context, p *Provider, sentence string, voice tts.VoiceProfile) (*http.Request, error) {
	q := url.Values{"text": {sentence}}
	if voice.ID != "" {
		q.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+standardTTSPath+"?"+q.Encode(), nil)
}

func (standardDialect) voicesPath() string { return standardDetailsPath }

func (standardDialect) voices(body []byte) ([]tts.VoiceProfile, error) {
	// speakers is only present for multi-speaker models.
	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) == 0 {
		name := cmp.Or(details.ModelName, "default")
		return []tts.VoiceProfile{profile(name, "single-speaker", name)}, nil
	}
	speakers := slices.Sorted(slices.Values(details.Speakers))
	out := make([]tts.VoiceProfile, len(speakers))
	for i, s := range speakers {
		out[i] = profile(s, "speaker", details.ModelName)
	}
	return out, nil
}

func (standardDialect) needsVoice() bool { return false }

type xttsDialect struct{}

const (
	xttsTTSPath      = "/tts_to_audio/"
	xttsSpeakersPath = "/studio_speakers"
)

// xttsRequest is the body of POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (xttsDialect) synthesis(ctx context.Context, p *Provider, sentence string, voice tts.VoiceProfile) (*http.Request, error) {
	body, err := json.Marshal(xttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: p.language})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+xttsTTSPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (xttsDialect) voicesPath() string { return xttsSpeakersPath }

func (xttsDialect) voices(body []byte) ([]tts.VoiceProfile, error) {
	// The server returns speaker name to latent embedding; only names matter.
	var speakers map[string]json.RawMessage
	if err := json.Unmarshal(body, &speakers); err != nil {
		return nil, err
	}
	names := slices.Sorted(maps.Keys(speakers))
	out := make([]tts.VoiceProfile, len(names))
	for i, n := range names {
		out[i] = profile(n, "studio", "")
	}
	return out, nil
}

func (xttsDialect) needsVoice() bool { return true }

func profile(id, kind, model string) tts.VoiceProfile {
	meta := map[string]string{"type": kind}
	if model != "" {
		meta["model_name"] = model
	}
	return tts.VoiceProfile{ID: id, Name: id, Provider: "coqui", Metadata: meta}
}

// ── Synthesis ──

// clip is one rendered sentence.
type clip struct {
	pcm  []byte
	rate int
}

// Synthesize renders text and returns a mono 16-bit WAV. Sentences are
// requested concurrently; if any of them fails the call fails.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, tts.ErrEmptyText
	}
	if voice.ID == "" && p.dialect.needsVoice() {
		return nil, fmt.Errorf("coqui: %s mode needs a voice ID", p.mode)
	}

	clips := make([]clip, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for i, s := range sentences {
		g.Go(func() (err error) {
			clips[i], err = p.render(gctx, s, voice)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rate := p.outputRate
	if rate <= 0 {
		rate = clips[0].rate
	}
	var pcm []byte
	for _, c := range clips {
		pcm = append(pcm, audio.ResampleMono16(c.pcm, c.rate, rate)...)
	}
	return audio.EncodeWAV(pcm, rate), nil
}

func (p *Provider) render(ctx context.Context, sentence string, voice tts.VoiceProfile) (clip, error) {
	req, err := p.dialect.synthesis(ctx, p, sentence, voice)
	if err != nil {
		return clip{}, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	body, err := p.do(req)
	if err != nil {
		return clip{}, err
	}
	pcm, rate, err := audio.DecodeWAV(body)
	if err != nil {
		return clip{}, fmt.Errorf("coqui: decode %s response: %w", req.URL.Path, err)
	}
	return clip{pcm: pcm, rate: rate}, nil
}

// ListVoices returns the server's voices sorted by ID. A single-speaker
// model on the standard server yields one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	path := p.dialect.voicesPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := p.do(req)
	if err != nil {
		return nil, err
	}
	voices, err := p.dialect.voices(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: decode %s: %w", path, err)
	}
	return voices, nil
}

// do sends req and returns the body of a 200 response.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s response: %w", req.URL.Path, err)
	}
	return body, nil
}

// splitSentences cuts text after '.', '!' or '?' when whitespace or the end
// of text follows, and at every line break. "3.14" therefore stays whole
// while "Dr. Who" splits.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	cut := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range text {
		switch r {
		case '\n':
			cut(i)
		case '.', '!', '?':
			next, _ := utf8.DecodeRuneInString(text[i+1:])
			if i+1 == len(text) || unicode.IsSpace(next) {
				cut(i + 1)
			}
		}
	}
	cut(len(text))
	return out
}
