package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that speaks the turn-based replies through
// the first healthy synthesis backend.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a fallback whose preferred backend is primary.
// cfg.Kind defaults to "tts".
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	base := cfg.CircuitBreaker.IsFailure
	if base == nil {
		base = DefaultIsFailure
	}
	// Empty text fails identically on every backend.
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return !errors.Is(err, tts.ErrEmptyText) && base(err)
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// Backends reports the breaker state of every backend.
func (f *TTSFallback) Backends() []BackendStatus { return f.group.Backends() }

// Healthy returns nil while some backend would accept a call.
func (f *TTSFallback) Healthy() error { return f.group.Healthy() }

func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
