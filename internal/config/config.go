// Package config provides the configuration schema, loader, and provider registry
// for the parley voice session server.
package config

import (
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// LogLevel controls log verbosity for the parley process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects which session driver the process runs.
type Mode string

const (
	// ModeLocal streams the local microphone to a remote voice model and
	// plays its audio on the local speaker.
	ModeLocal Mode = "local"

	// ModeTurn records one utterance at a time, asks a request/response model
	// for a reply and speaks it with a TTS provider.
	ModeTurn Mode = "turn"

	// ModeServe accepts WebSocket peers and relays each to its own remote
	// voice model session.
	ModeServe Mode = "serve"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeLocal, ModeTurn, ModeServe:
		return true
	}
	return false
}

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds paths to TLS certificate and key files.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the provider implementation for each external service.
type ProvidersConfig struct {
	// S2S is the bidirectional voice model used by the local and serve modes.
	S2S ProviderEntry `yaml:"s2s"`

	// TTS and TTSFallback synthesise replies in turn mode. The fallback is
	// used while the primary's circuit breaker is open.
	TTS         ProviderEntry `yaml:"tts"`
	TTSFallback ProviderEntry `yaml:"tts_fallback"`

	// Converse answers recorded utterances in turn mode.
	Converse ProviderEntry `yaml:"converse"`

	// LLM and LLMFallback summarise finished sessions for long-term memory.
	LLM         ProviderEntry `yaml:"llm"`
	LLMFallback ProviderEntry `yaml:"llm_fallback"`

	// Embeddings vectorises memory chunks.
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration shape for any provider.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "gemini", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication credential for the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model variant.
	Model string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// SessionConfig holds the behaviour shared by every session driver.
type SessionConfig struct {
	Mode Mode `yaml:"mode"`

	// SystemInstruction is the base instruction sent to the voice model.
	SystemInstruction string `yaml:"system_instruction"`

	Voice tts.VoiceProfile `yaml:"voice"`

	// BacklogCapacity bounds the frames buffered while a server session connects.
	BacklogCapacity int `yaml:"backlog_capacity"`

	// MinTranscriptChars is the transcript length below which a finished
	// server session is not persisted.
	MinTranscriptChars int `yaml:"min_transcript_chars"`

	// MemorySnippets is how many long-term memory entries are recalled at start.
	MemorySnippets int `yaml:"memory_snippets"`

	// SilenceTimeout ends an utterance in turn mode.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// HistoryTurns is how many previous exchanges are sent back in turn mode.
	HistoryTurns int `yaml:"history_turns"`

	// PersistTimeout bounds persistence when a server session disconnects.
	PersistTimeout time.Duration `yaml:"persist_timeout"`
}

// AudioConfig holds the capture and playback tunables.
type AudioConfig struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
}

// CaptureConfig tunes microphone capture.
type CaptureConfig struct {
	FrameDuration   time.Duration `yaml:"frame_duration"`
	RMSThreshold    float64       `yaml:"rms_threshold"`
	SettleWindow    time.Duration `yaml:"settle_window"`
	InputSampleRate int           `yaml:"input_sample_rate"`
}

// PlaybackConfig tunes speaker playback.
type PlaybackConfig struct {
	OutputSampleRate int           `yaml:"output_sample_rate"`
	PrebufferDelay   time.Duration `yaml:"prebuffer_delay"`
	GracePeriod      time.Duration `yaml:"grace_period"`
	EchoTail         time.Duration `yaml:"echo_tail"`
}

// MemoryConfig configures session storage and long-term memory.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string. When empty, sessions
	// are neither persisted nor primed with earlier context.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector size of the memory chunk column.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// MaxConns caps the database connection pool. Zero keeps the driver
	// default.
	MaxConns int32 `yaml:"max_conns"`
}
