package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/MrWong99/parley/internal/config"
)

// writeSummary prints the effective mode, providers and listeners as an
// aligned table.
func writeSummary(w io.Writer, cfg *config.Config) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(key, value string) { fmt.Fprintf(tw, "  %s\t%s\n", key, value) }

	fmt.Fprintln(tw, "parley", version)
	row("mode", string(cfg.Session.Mode))

	pc := cfg.Providers
	for _, p := range []struct {
		kind  string
		entry config.ProviderEntry
	}{
		{"s2s", pc.S2S},
		{"tts", pc.TTS},
		{"tts fallback", pc.TTSFallback},
		{"converse", pc.Converse},
		{"llm", pc.LLM},
		{"llm fallback", pc.LLMFallback},
		{"embeddings", pc.Embeddings},
	} {
		if p.entry.Name == "" {
			continue
		}
		value := p.entry.Name
		if p.entry.Model != "" {
			value += " (" + p.entry.Model + ")"
		}
		row(p.kind, value)
	}

	if cfg.Memory.PostgresDSN != "" {
		row("memory", fmt.Sprintf("postgres, %d-dim embeddings", cfg.Memory.EmbeddingDimensions))
	} else {
		row("memory", "off")
	}
	if cfg.Session.Mode == config.ModeServe {
		scheme := "ws"
		if cfg.Server.TLS != nil {
			scheme = "wss"
		}
		row("listen", fmt.Sprintf("%s://%s/ws", scheme, cfg.Server.ListenAddr))
	}
	tw.Flush()
}
