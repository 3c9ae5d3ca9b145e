// Package elevenlabs synthesises speech with the ElevenLabs stream-input
// WebSocket API. Each Synthesize call opens one stream, sends the whole
// reply, flushes, and gathers the streamed PCM into a WAV.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultWSBase   = "wss://api.elevenlabs.io"
	defaultHTTPBase = "https://api.elevenlabs.io"
	defaultModel    = "eleven_flash_v2_5"
	defaultFormat   = "pcm_16000"

	voicesPath = "/v1/voices"

	// maxMessage bounds one streamed JSON message.
	maxMessage = 4 << 20
)

// Voice settings used unless the voice's metadata overrides them with
// "stability" or "similarity_boost".
const (
	defaultStability  = 0.5
	defaultSimilarity = 0.75
)

// ErrNoAudio is returned when a stream ended without any audio.
var ErrNoAudio = errors.New("elevenlabs: no audio received")

// Option configures [New].
type Option func(*Provider)

// WithModel selects the synthesis model. Default "eleven_flash_v2_5".
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithOutputFormat selects a raw PCM format such as "pcm_24000".
func WithOutputFormat(format string) Option { return func(p *Provider) { p.format = format } }

// WithBaseURLs points the stream and REST calls at other hosts.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.httpBase = strings.TrimRight(httpBase, "/")
	}
}

// Provider synthesises with one account, model and output format.
type Provider struct {
	apiKey   string
	model    string
	format   string
	rate     int
	wsBase   string
	httpBase string
	client   *http.Client
}

// New returns a provider for apiKey. The output format must be raw PCM
// because the result is wrapped in a WAV header.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		format:   defaultFormat,
		wsBase:   defaultWSBase,
		httpBase: defaultHTTPBase,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := pcmRate(p.format)
	if err != nil {
		return nil, err
	}
	p.rate = rate
	return p, nil
}

// pcmRate parses the sample rate out of a "pcm_<rate>" format.
func pcmRate(format string) (int, error) {
	digits, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	rate, err := strconv.Atoi(digits)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: output format %q has no valid sample rate", format)
	}
	return rate, nil
}

// ── Stream protocol ──

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// streamMessage is every client message. The first carries credentials and
// settings, an empty Text flushes.
type streamMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XIAPIKey      string         `json:"xi_api_key,omitempty"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// streamReply is every server message.
type streamReply struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func settingsFor(voice tts.VoiceProfile) *voiceSettings {
	return &voiceSettings{
		Stability:       metaFloat(voice.Metadata, "stability", defaultStability),
		SimilarityBoost: metaFloat(voice.Metadata, "similarity_boost", defaultSimilarity),
		Speed:           voice.SpeedFactor,
	}
}

func metaFloat(meta map[string]string, key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(meta[key], 64); err == nil {
		return v
	}
	return fallback
}

func (p *Provider) streamURL(voiceID string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s",
		p.wsBase, url.PathEscape(voiceID), url.QueryEscape(p.model))
}

// Synthesize renders text with voice and returns a mono 16-bit WAV.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxMessage)

	// The opening text must not be empty or the server treats it as a flush.
	// Trailing spaces let the server treat the reply as complete words.
	for _, m := range []streamMessage{
		{Text: " ", VoiceSettings: settingsFor(voice), XIAPIKey: p.apiKey, OutputFormat: p.format},
		{Text: text + " "},
		{},
	} {
		if err := wsjson.Write(ctx, conn, m); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	pcm, err := collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	return audio.EncodeWAV(pcm, p.rate), nil
}

// collect reads replies until the final one, or until the server closes a
// stream that already produced audio.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		var reply streamReply
		err := wsjson.Read(ctx, conn, &reply)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		if reply.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s", reply.Error, reply.Message)
		}
		if reply.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(reply.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if reply.IsFinal {
			break
		}
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	return pcm, nil
}

// ── Voices ──

// ListVoices returns every voice the account can use. Labels and category
// end up in the profile metadata.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %d", resp.StatusCode)
	}

	var body struct {
		Voices []struct {
			ID       string            `json:"voice_id"`
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Labels   map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}

	out := make([]tts.VoiceProfile, len(body.Voices))
	for i, v := range body.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out[i] = tts.VoiceProfile{ID: v.ID, Name: v.Name, Provider: "elevenlabs", Metadata: meta}
	}
	return out, nil
}
