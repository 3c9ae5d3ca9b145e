package main

import (
	"cmp"
	"context"
	"log/slog"
	"net/http"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/converse"
	geminiconverse "github.com/MrWong99/parley/pkg/provider/converse/gemini"
	"github.com/MrWong99/parley/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/parley/pkg/provider/embeddings/openai"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	"github.com/MrWong99/parley/pkg/provider/s2s"
	geminilive "github.com/MrWong99/parley/pkg/provider/s2s/gemini"
	oais2s "github.com/MrWong99/parley/pkg/provider/s2s/openai"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/coqui"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// embeddingDims is the vector size of the memory store; embedding models that
// support shortening are asked for vectors of that size.
func registerBuiltinProviders(reg *config.Registry, embeddingDims int) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.S2S.Register("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "keepalive"); d > 0 {
			opts = append(opts, geminilive.WithKeepalive(d))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.S2S.Register("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		if m := optString(entry.Options, "transcription_model"); m != "" {
			opts = append(opts, oais2s.WithTranscriptionModel(m))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.TTS.Register("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.TTS.Register("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithHTTPClient(tracedClient(cmp.Or(optDuration(entry.Options, "timeout"), 30*time.Second)))}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Converse ──────────────────────────────────────────────────────────────

	reg.Converse.Register("gemini", func(entry config.ProviderEntry) (converse.Provider, error) {
		// Replies are bounded by the turn's context, not a client timeout.
		opts := []geminiconverse.Option{geminiconverse.WithHTTPClient(tracedClient(0))}
		if entry.Model != "" {
			opts = append(opts, geminiconverse.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminiconverse.WithBaseURL(entry.BaseURL))
		}
		return geminiconverse.New(context.Background(), entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// Local backends such as ollama take only a base URL.
	for _, backend := range anyllm.Backends() {
		reg.LLM.Register(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.Embeddings.Register("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if embeddingDims > 0 {
			opts = append(opts, oaembed.WithDimensions(embeddingDims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	slog.Debug("providers registered",
		"s2s", reg.S2S.Names(),
		"tts", reg.TTS.Names(),
		"converse", reg.Converse.Names(),
		"llm", reg.LLM.Names(),
		"embeddings", reg.Embeddings.Names(),
	)
}

// buildProviders instantiates every provider named in cfg. TTS and LLM are
// wrapped in a circuit-breaking fallback group when a fallback is configured.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers

	var err error
	if ps.S2S, err = reg.S2S.Create(pc.S2S); err != nil {
		return nil, err
	}
	if ps.Converse, err = reg.Converse.Create(pc.Converse); err != nil {
		return nil, err
	}
	if ps.Embeddings, err = reg.Embeddings.Create(pc.Embeddings); err != nil {
		return nil, err
	}

	fbCfg := resilience.FallbackConfig{Metrics: observe.DefaultMetrics()}

	ttsMain, ttsSpare, err := createPair(reg.TTS, pc.TTS, pc.TTSFallback)
	if err != nil {
		return nil, err
	}
	ps.TTS = ttsMain
	if ttsSpare != nil {
		fb := resilience.NewTTSFallback(ttsMain, pc.TTS.Name, fbCfg)
		fb.AddFallback(pc.TTSFallback.Name, ttsSpare)
		ps.TTS = fb
		slog.Info("tts fallback enabled", "primary", pc.TTS.Name, "fallback", pc.TTSFallback.Name)
	}

	llmMain, llmSpare, err := createPair(reg.LLM, pc.LLM, pc.LLMFallback)
	if err != nil {
		return nil, err
	}
	ps.LLM = llmMain
	if llmSpare != nil {
		fb := resilience.NewLLMFallback(llmMain, pc.LLM.Name, fbCfg)
		fb.AddFallback(pc.LLMFallback.Name, llmSpare)
		ps.LLM = fb
		slog.Info("llm fallback enabled", "primary", pc.LLM.Name, "fallback", pc.LLMFallback.Name)
	}

	return ps, nil
}

// createPair builds a primary and its fallback. The fallback is nil unless
// both entries are configured.
func createPair[T comparable](f *config.Factories[T], primary, fallback config.ProviderEntry) (first, spare T, err error) {
	var zero T
	if first, err = f.Create(primary); err != nil || first == zero {
		return first, zero, err
	}
	if spare, err = f.Create(fallback); err != nil {
		return zero, zero, err
	}
	return first, spare, nil
}

// tracedClient propagates the caller's trace to REST backends and records a
// client span per request.
func tracedClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// optString reads a string option; anything else yields "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration reads a duration option such as "30s". Absent or malformed
// values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
