package main

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, 768)

	tests := []struct {
		kind string
		got  []string
		want []string
	}{
		{"s2s", reg.S2S.Names(), []string{"gemini-live", "openai-realtime"}},
		{"tts", reg.TTS.Names(), []string{"coqui", "elevenlabs"}},
		{"converse", reg.Converse.Names(), []string{"gemini"}},
		{"embeddings", reg.Embeddings.Names(), []string{"openai"}},
	}
	for _, tt := range tests {
		if !slices.Equal(tt.got, tt.want) {
			t.Errorf("%s providers = %v, want %v", tt.kind, tt.got, tt.want)
		}
	}
	if llms := reg.LLM.Names(); !slices.Contains(llms, "openai") || !slices.Contains(llms, "ollama") {
		t.Errorf("llm providers = %v, want openai and ollama among them", llms)
	}

	p, err := reg.S2S.Create(config.ProviderEntry{Name: "gemini-live", APIKey: "k", Options: map[string]any{"keepalive": "5s"}})
	if err != nil || p == nil {
		t.Errorf("gemini-live: %v, %v", p, err)
	}
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	for _, name := range []string{"primary", "backup"} {
		reg.TTS.Register(name, func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
		reg.LLM.Register(name, func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	}

	tests := []struct {
		name         string
		providers    config.ProvidersConfig
		wantTTSGroup bool
		wantLLMGroup bool
	}{
		{
			name:      "single providers",
			providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "primary"}, LLM: config.ProviderEntry{Name: "primary"}},
		},
		{
			name: "both fallbacks",
			providers: config.ProvidersConfig{
				TTS: config.ProviderEntry{Name: "primary"}, TTSFallback: config.ProviderEntry{Name: "backup"},
				LLM: config.ProviderEntry{Name: "primary"}, LLMFallback: config.ProviderEntry{Name: "backup"},
			},
			wantTTSGroup: true,
			wantLLMGroup: true,
		},
		{
			name:         "fallback without primary is ignored",
			providers:    config.ProvidersConfig{TTSFallback: config.ProviderEntry{Name: "backup"}},
			wantTTSGroup: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ps, err := buildProviders(&config.Config{Providers: tt.providers}, reg)
			if err != nil {
				t.Fatalf("buildProviders: %v", err)
			}
			if _, ok := ps.TTS.(*resilience.TTSFallback); ok != tt.wantTTSGroup {
				t.Errorf("TTS = %T, fallback group %v", ps.TTS, tt.wantTTSGroup)
			}
			if _, ok := ps.LLM.(*resilience.LLMFallback); ok != tt.wantLLMGroup {
				t.Errorf("LLM = %T, fallback group %v", ps.LLM, tt.wantLLMGroup)
			}
		})
	}
}

func TestBuildProviders_Unregistered(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{S2S: config.ProviderEntry{Name: "nope"}}}
	if _, err := buildProviders(cfg, config.NewRegistry()); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestOptionHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"language": "de", "keepalive": "30s", "bad": "soon", "n": 3}
	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString(language) = %q", got)
	}
	if got := optString(opts, "n"); got != "" {
		t.Errorf("optString(non-string) = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil map) = %q", got)
	}
	if got := optDuration(opts, "keepalive"); got != 30*time.Second {
		t.Errorf("optDuration(keepalive) = %v", got)
	}
	if got := optDuration(opts, "bad"); got != 0 {
		t.Errorf("optDuration(malformed) = %v, want 0", got)
	}
}

func TestTracedClient(t *testing.T) {
	t.Parallel()

	c := tracedClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	if _, ok := c.Transport.(*otelhttp.Transport); !ok {
		t.Errorf("Transport = %T, want *otelhttp.Transport", c.Transport)
	}
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Server:  config.ServerConfig{ListenAddr: ":8080", TLS: &config.TLSConfig{}},
		Session: config.SessionConfig{Mode: config.ModeServe},
		Providers: config.ProvidersConfig{
			S2S: config.ProviderEntry{Name: "gemini-live", Model: "gemini-2.0-flash-live-001"},
		},
	}
	var b strings.Builder
	writeSummary(&b, cfg)
	out := b.String()

	for _, want := range []string{"mode", "serve", "gemini-live (gemini-2.0-flash-live-001)", "memory", "off", "wss://:8080/ws"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "tts") {
		t.Errorf("summary lists an unconfigured provider:\n%s", out)
	}
}
