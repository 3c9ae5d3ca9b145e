package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/live"
	"github.com/MrWong99/parley/internal/playback"
)

// Defaults applied by [ApplyDefaults] for values the file leaves unset.
const (
	DefaultListenAddr          = ":8080"
	DefaultEmbeddingDimensions = 1536
	DefaultMemorySnippets      = 3
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":        {"gemini-live", "openai-realtime"},
	"tts":        {"elevenlabs", "coqui"},
	"converse":   {"gemini"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills every unset tunable with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	s := &cfg.Session
	if s.Mode == "" {
		s.Mode = ModeServe
	}
	if s.BacklogCapacity <= 0 {
		s.BacklogCapacity = live.DefaultBacklogCapacity
	}
	if s.MinTranscriptChars <= 0 {
		s.MinTranscriptChars = live.DefaultMinTranscriptChars
	}
	if s.MemorySnippets <= 0 {
		s.MemorySnippets = DefaultMemorySnippets
	}
	if s.SilenceTimeout <= 0 {
		s.SilenceTimeout = live.DefaultSilenceTimeout
	}

	c := &cfg.Audio.Capture
	if c.FrameDuration <= 0 {
		c.FrameDuration = capture.DefaultFrameDuration
	}
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = capture.DefaultRMSThreshold
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = capture.DefaultSettleWindow
	}
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = capture.DefaultSampleRate
	}

	p := &cfg.Audio.Playback
	if p.OutputSampleRate <= 0 {
		p.OutputSampleRate = playback.DefaultSampleRate
	}
	if p.PrebufferDelay <= 0 {
		p.PrebufferDelay = playback.DefaultPrebufferDelay
	}
	if p.GracePeriod <= 0 {
		p.GracePeriod = playback.DefaultGracePeriod
	}
	if p.EchoTail <= 0 {
		p.EchoTail = playback.DefaultEchoTail
	}

	if cfg.Memory.EmbeddingDimensions <= 0 {
		cfg.Memory.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("converse", cfg.Providers.Converse.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Mode ↔ provider cross-validation
	mode := cfg.Session.Mode
	if mode != "" && !mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: local, turn, serve", mode))
	}
	switch mode {
	case ModeLocal, ModeServe, "":
		if cfg.Providers.S2S.Name == "" {
			errs = append(errs, fmt.Errorf("session.mode %q requires an S2S provider but providers.s2s is not configured", modeOrDefault(mode)))
		}
	case ModeTurn:
		if cfg.Providers.Converse.Name == "" {
			errs = append(errs, errors.New("session.mode \"turn\" requires a converse provider but providers.converse is not configured"))
		}
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, errors.New("session.mode \"turn\" requires a TTS provider but providers.tts is not configured"))
		}
	}
	if cfg.Providers.TTSFallback.Name != "" && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts_fallback is set but providers.tts is not configured"))
	}
	if cfg.Providers.LLMFallback.Name != "" && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallback is set but providers.llm is not configured"))
	}

	// Session
	s := cfg.Session
	if s.BacklogCapacity < 0 {
		errs = append(errs, fmt.Errorf("session.backlog_capacity %d must not be negative", s.BacklogCapacity))
	}
	if s.MinTranscriptChars < 0 {
		errs = append(errs, fmt.Errorf("session.min_transcript_chars %d must not be negative", s.MinTranscriptChars))
	}
	if s.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("session.history_turns %d must not be negative", s.HistoryTurns))
	}
	if f := s.Voice.SpeedFactor; f != 0 && (f < 0.5 || f > 2.0) {
		errs = append(errs, fmt.Errorf("session.voice.speed_factor %.2f is out of range [0.5, 2.0]", f))
	}
	if s.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && s.Voice.Provider != cfg.Providers.TTS.Name {
		slog.Warn("session voice provider does not match configured TTS provider",
			"voice_provider", s.Voice.Provider,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	// Audio
	c := cfg.Audio.Capture
	if c.FrameDuration < 0 || c.SettleWindow < 0 {
		errs = append(errs, errors.New("audio.capture durations must not be negative"))
	}
	if c.RMSThreshold < 0 || c.RMSThreshold > 32768 {
		errs = append(errs, fmt.Errorf("audio.capture.rms_threshold %.0f is out of range [0, 32768]", c.RMSThreshold))
	}
	if c.InputSampleRate < 0 || cfg.Audio.Playback.OutputSampleRate < 0 {
		errs = append(errs, errors.New("audio sample rates must not be negative"))
	}
	p := cfg.Audio.Playback
	if p.PrebufferDelay < 0 || p.GracePeriod < 0 || p.EchoTail < 0 {
		errs = append(errs, errors.New("audio.playback durations must not be negative"))
	}

	// Memory
	if cfg.Memory.PostgresDSN != "" {
		if cfg.Providers.Embeddings.Name == "" {
			errs = append(errs, errors.New("memory.postgres_dsn is set but providers.embeddings is not configured"))
		}
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, errors.New("memory.postgres_dsn is set but providers.llm is not configured to summarise sessions"))
		}
	} else if mode == ModeServe || mode == "" {
		slog.Warn("memory.postgres_dsn is empty; sessions will not be persisted or primed with earlier context")
	}
	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must not be negative", cfg.Memory.EmbeddingDimensions))
	}
	if cfg.Memory.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("memory.max_conns %d must not be negative", cfg.Memory.MaxConns))
	}

	return errors.Join(errs...)
}

func modeOrDefault(m Mode) Mode {
	if m == "" {
		return ModeServe
	}
	return m
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
