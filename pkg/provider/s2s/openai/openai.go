// Package openai connects voice sessions to the OpenAI Realtime API.
//
// The Realtime API speaks pcm16 at a fixed 24 kHz in both directions, so
// captured audio at any other rate is resampled before it is sent. Server
// VAD is enabled; the endpoint's speech_started notice is how barge-in
// reaches the pipeline.
package openai

import (
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/s2s"
	"github.com/MrWong99/parley/pkg/provider/s2s/wsstream"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*session)(nil)
)

const (
	defaultModel         = "gpt-4o-realtime-preview"
	defaultEndpoint      = "wss://api.openai.com/v1/realtime"
	defaultTranscription = "whisper-1"

	wireRate = 24000
)

var voiceIDs = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Realtime model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL replaces the WebSocket endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithTranscriptionModel picks the model that transcribes user speech. An
// empty name turns input transcripts off.
func WithTranscriptionModel(model string) Option {
	return func(p *Provider) { p.transcription = model }
}

// Provider dials OpenAI Realtime sessions.
type Provider struct {
	apiKey        string
	model         string
	endpoint      string
	transcription string
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:        apiKey,
		model:         defaultModel,
		endpoint:      defaultEndpoint,
		transcription: defaultTranscription,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities implements [s2s.Provider].
func (p *Provider) Capabilities() s2s.Capabilities {
	voices := make([]tts.VoiceProfile, len(voiceIDs))
	for i, id := range voiceIDs {
		voices[i] = tts.VoiceProfile{ID: id, Name: strings.ToUpper(id[:1]) + id[1:], Provider: "openai"}
	}
	return s2s.Capabilities{
		ContextWindow:        128_000,
		MaxSessionDurationMs: 30 * 60 * 1000,
		InputSampleRate:      wireRate,
		OutputSampleRate:     wireRate,
		Voices:               voices,
	}
}

// Connect dials the endpoint and configures the session with session.update.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	stream, err := wsstream.Dial(ctx, wsstream.Config{
		Name: "openai",
		URL:  p.endpoint + "?model=" + url.QueryEscape(p.model),
		Header: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := stream.Send(sessionUpdate(cfg, p.transcription)); err != nil {
		stream.Abort("session update failed")
		return nil, err
	}
	stream.Start(new(decoder).decode)

	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = wireRate
	}
	return &session{Stream: stream, rate: rate}, nil
}

// ── Wire format ──────────────────────────────────────────────────────────────

type clientEvent struct {
	Type    string         `json:"type"`
	Session *sessionConfig `json:"session,omitempty"`
	Audio   string         `json:"audio,omitempty"`
}

type sessionConfig struct {
	Modalities              []string  `json:"modalities"`
	Voice                   string    `json:"voice,omitempty"`
	Instructions            string    `json:"instructions,omitempty"`
	InputAudioFormat        string    `json:"input_audio_format"`
	OutputAudioFormat       string    `json:"output_audio_format"`
	InputAudioTranscription *modelRef `json:"input_audio_transcription,omitempty"`
	TurnDetection           typeOnly  `json:"turn_detection"`
}

type modelRef struct {
	Model string `json:"model"`
}

type typeOnly struct {
	Type string `json:"type"`
}

type serverEvent struct {
	Type       string    `json:"type"`
	Delta      string    `json:"delta,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Error      *apiError `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func sessionUpdate(cfg s2s.SessionConfig, transcription string) clientEvent {
	sc := &sessionConfig{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice.ID,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     typeOnly{Type: "server_vad"},
	}
	if transcription != "" {
		sc.InputAudioTranscription = &modelRef{Model: transcription}
	}
	return clientEvent{Type: "session.update", Session: sc}
}

// decoder assembles the spoken-reply transcript, which arrives as deltas and
// is surfaced once complete.
type decoder struct {
	reply strings.Builder
}

func (d *decoder) decode(data []byte) ([]s2s.Event, error) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}

	switch ev.Type {
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return nil, err
		}
		if len(pcm) > 0 {
			return []s2s.Event{{Type: s2s.EventAudio, Audio: pcm}}, nil
		}

	case "response.audio_transcript.delta":
		d.reply.WriteString(ev.Delta)

	case "response.audio_transcript.done":
		text := cmp.Or(d.reply.String(), ev.Transcript)
		d.reply.Reset()
		if text != "" {
			return []s2s.Event{{Type: s2s.EventOutputTranscript, Text: text}}, nil
		}

	case "response.text.delta":
		if ev.Delta != "" {
			return []s2s.Event{{Type: s2s.EventText, Text: ev.Delta}}, nil
		}

	case "conversation.item.input_audio_transcription.completed":
		if ev.Transcript != "" {
			return []s2s.Event{{Type: s2s.EventInputTranscript, Text: ev.Transcript}}, nil
		}

	case "input_audio_buffer.speech_started":
		d.reply.Reset()
		return []s2s.Event{{Type: s2s.EventInterrupted}}, nil

	case "response.done":
		return []s2s.Event{{Type: s2s.EventTurnComplete}}, nil

	case "error":
		msg := "unknown error"
		if ev.Error != nil {
			msg = cmp.Or(ev.Error.Message, ev.Error.Code, msg)
		}
		return []s2s.Event{{Type: s2s.EventError, Err: errors.New("openai: " + msg)}}, nil
	}
	return nil, nil
}

// ── Session ──────────────────────────────────────────────────────────────────

type session struct {
	*wsstream.Stream
	rate int
}

// SendAudio appends one chunk to the input buffer, resampled to 24 kHz.
func (s *session) SendAudio(chunk []byte) error {
	if s.rate != wireRate {
		chunk = audio.ResampleMono16(chunk, s.rate, wireRate)
	}
	return s.Send(clientEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Interrupt cancels the response in progress.
func (s *session) Interrupt() error {
	return s.Send(clientEvent{Type: "response.cancel"})
}
