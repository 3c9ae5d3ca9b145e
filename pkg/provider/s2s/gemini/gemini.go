// Package gemini connects voice sessions to the Gemini Live
// BidiGenerateContent endpoint.
//
// Input PCM travels as base64 media chunks tagged "audio/pcm;rate=N". The
// endpoint runs its own turn detection, so barge-in arrives as an
// interrupted notice rather than being requested by the client.
package gemini

import (
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/MrWong99/parley/pkg/provider/s2s"
	"github.com/MrWong99/parley/pkg/provider/s2s/wsstream"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*session)(nil)
)

const (
	defaultModel    = "gemini-2.0-flash-live-001"
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws"
	bidiMethod      = "google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	inputRate  = 16000
	outputRate = 24000
)

// prebuiltVoices are the voice names the Live API accepts.
var prebuiltVoices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Live model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL replaces the WebSocket endpoint, e.g. with a local test server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithKeepalive sets the ping interval. Zero disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(p *Provider) { p.keepalive = d }
}

// Provider dials Gemini Live sessions.
type Provider struct {
	apiKey    string
	model     string
	endpoint  string
	keepalive time.Duration
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		endpoint:  defaultEndpoint,
		keepalive: 20 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities implements [s2s.Provider].
func (p *Provider) Capabilities() s2s.Capabilities {
	voices := make([]tts.VoiceProfile, len(prebuiltVoices))
	for i, name := range prebuiltVoices {
		voices[i] = tts.VoiceProfile{ID: name, Name: name, Provider: "gemini"}
	}
	return s2s.Capabilities{
		ContextWindow:        1_000_000,
		MaxSessionDurationMs: int((15 * time.Minute).Milliseconds()),
		InputSampleRate:      inputRate,
		OutputSampleRate:     outputRate,
		Voices:               voices,
	}
}

// Connect dials the endpoint and sends the setup message. The handle accepts
// audio as soon as Connect returns.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	stream, err := wsstream.Dial(ctx, wsstream.Config{
		Name:      "gemini",
		URL:       p.endpoint + "/" + bidiMethod + "?key=" + url.QueryEscape(p.apiKey),
		Keepalive: p.keepalive,
	})
	if err != nil {
		return nil, err
	}

	if err := stream.Send(setupFor(p.model, cfg)); err != nil {
		stream.Abort("setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	stream.Start(decode)

	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = inputRate
	}
	return &session{Stream: stream, mime: fmt.Sprintf("audio/pcm;rate=%d", rate)}, nil
}

// ── Wire format ──────────────────────────────────────────────────────────────

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string     `json:"model"`
	GenerationConfig         generation `json:"generationConfig"`
	SystemInstruction        *content   `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}  `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}  `json:"outputAudioTranscription,omitempty"`
}

type generation struct {
	ResponseModalities []string `json:"responseModalities"`
	SpeechConfig       *speech  `json:"speechConfig,omitempty"`
}

type speech struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob is inline media; Data is base64.
type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		MediaChunks []blob `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type serverMessage struct {
	SetupComplete json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent  `json:"serverContent,omitempty"`
	GoAway        *goAway         `json:"goAway,omitempty"`
	Error         *serverError    `json:"error,omitempty"`
}

// goAway warns that the server will end the session after TimeLeft.
type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type serverContent struct {
	ModelTurn           *content `json:"modelTurn,omitempty"`
	TurnComplete        bool     `json:"turnComplete,omitempty"`
	Interrupted         bool     `json:"interrupted,omitempty"`
	InputTranscription  *caption `json:"inputTranscription,omitempty"`
	OutputTranscription *caption `json:"outputTranscription,omitempty"`
}

type caption struct {
	Text string `json:"text"`
}

func setupFor(model string, cfg s2s.SessionConfig) setupMessage {
	msg := setupMessage{Setup: setup{
		Model:                    "models/" + model,
		GenerationConfig:         generation{ResponseModalities: []string{"audio"}},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice.ID != "" {
		sp := &speech{}
		sp.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice.ID
		msg.Setup.GenerationConfig.SpeechConfig = sp
	}
	return msg
}

// decode maps one server message onto events in the order a listener should
// observe them: what the user said, then the reply, then the turn boundary.
func decode(data []byte) ([]s2s.Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	var evs []s2s.Event
	if msg.Error != nil {
		text := cmp.Or(msg.Error.Message, fmt.Sprintf("error code %d", msg.Error.Code))
		evs = append(evs, s2s.Event{Type: s2s.EventError, Err: errors.New("gemini: " + text)})
	}
	if msg.GoAway != nil {
		slog.Warn("gemini: server is closing the session", "time_left", msg.GoAway.TimeLeft)
	}

	sc := msg.ServerContent
	if sc == nil {
		return evs, nil
	}
	// Audio riding along with an interruption belongs to the abandoned reply.
	if sc.Interrupted {
		return append(evs, s2s.Event{Type: s2s.EventInterrupted}), nil
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		evs = append(evs, s2s.Event{Type: s2s.EventInputTranscript, Text: sc.InputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err == nil && len(pcm) > 0 {
					evs = append(evs, s2s.Event{Type: s2s.EventAudio, Audio: pcm})
				}
			}
			if p.Text != "" {
				evs = append(evs, s2s.Event{Type: s2s.EventText, Text: p.Text})
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		evs = append(evs, s2s.Event{Type: s2s.EventOutputTranscript, Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		evs = append(evs, s2s.Event{Type: s2s.EventTurnComplete})
	}
	return evs, nil
}

// ── Session ──────────────────────────────────────────────────────────────────

type session struct {
	*wsstream.Stream
	mime string
}

// SendAudio forwards one s16le mono chunk.
func (s *session) SendAudio(chunk []byte) error {
	var msg realtimeInputMessage
	msg.RealtimeInput.MediaChunks = []blob{{
		MIMEType: s.mime,
		Data:     base64.StdEncoding.EncodeToString(chunk),
	}}
	return s.Send(msg)
}

// Interrupt is unsupported: Gemini detects barge-in on its own and reports it
// as [s2s.EventInterrupted].
func (s *session) Interrupt() error {
	return fmt.Errorf("gemini: interrupt: %w", errors.ErrUnsupported)
}
