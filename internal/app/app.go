// Package app wires the parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the memory backends,
// RunLocal and RunTurn drive the microphone-based modes, Sessions serves the
// WebSocket mode, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithDeviceOpener, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/hotctx"
	"github.com/MrWong99/parley/internal/live"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/postgres"
	"github.com/MrWong99/parley/pkg/provider/converse"
	"github.com/MrWong99/parley/pkg/provider/embeddings"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/s2s"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrMemoryDegraded is reported by the readiness check while the memory
// backends are failing.
var ErrMemoryDegraded = errors.New("app: memory backend degraded")

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	S2S        s2s.Provider
	TTS        tts.Provider
	Converse   converse.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers

	opener   audio.DeviceOpener
	metrics  *observe.Metrics
	store    memory.SessionStore
	longTerm memory.LongTermMemory
	guard    *session.MemoryGuard
	pinger   func(context.Context) error
	sessions *SessionManager

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.store = s }
}

// WithLongTermMemory injects long-term memory instead of creating it from config.
func WithLongTermMemory(m memory.LongTermMemory) Option {
	return func(a *App) { a.longTerm = m }
}

// WithDeviceOpener sets the audio devices used by the local and turn modes.
// Both modes fail with [audio.ErrDeviceUnavailable] without one.
func WithDeviceOpener(o audio.DeviceOpener) Option {
	return func(a *App) { a.opener = o }
}

// WithMetrics records on m instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the providers built by main.go.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{providers: providers}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	a.sessions = NewSessionManager(a.newServerSession)
	return a, nil
}

// initMemory connects PostgreSQL when configured and no stores were injected.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil || a.longTerm != nil {
		return nil
	}
	cfg := a.cfg.Load()
	if cfg.Memory.PostgresDSN == "" {
		slog.Info("memory disabled; sessions start from the base instruction")
		return nil
	}
	if a.providers.LLM == nil || a.providers.Embeddings == nil {
		return errors.New("memory requires both an llm and an embeddings provider")
	}

	store, err := postgres.Open(ctx, cfg.Memory.PostgresDSN, cfg.Memory.EmbeddingDimensions,
		postgres.WithMaxConns(cfg.Memory.MaxConns))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})

	longTerm, err := store.Archive(session.NewLLMSummariser(a.providers.LLM), a.providers.Embeddings)
	if err != nil {
		store.Close()
		return err
	}

	a.guard = session.NewMemoryGuard(store, longTerm)
	a.store = a.guard
	a.longTerm = a.guard
	a.pinger = store.Ping
	slog.Info("memory connected", "embedding_dimensions", cfg.Memory.EmbeddingDimensions)
	return nil
}

// ─── Configuration ───────────────────────────────────────────────────────────

// Config returns the configuration new sessions are built from.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Apply swaps in a reloaded configuration. Only sessions created afterwards
// see the new audio tunables and instruction.
func (a *App) Apply(cfg *config.Config, diff config.ConfigDiff) {
	a.cfg.Store(cfg)
	if diff.Changed() {
		slog.Info("configuration applied to new sessions",
			"capture_changed", diff.CaptureChanged,
			"playback_changed", diff.PlaybackChanged,
			"instruction_changed", diff.InstructionChanged,
		)
	}
}

func liveConfig(cfg *config.Config) live.Config {
	return live.Config{
		Instructions:    cfg.Session.SystemInstruction,
		Voice:           cfg.Session.Voice,
		InputSampleRate: cfg.Audio.Capture.InputSampleRate,
	}
}

func (a *App) devices(cfg *config.Config) (*capture.Capturer, *playback.Player, error) {
	if a.opener == nil {
		return nil, nil, fmt.Errorf("app: no audio devices: %w", audio.ErrDeviceUnavailable)
	}
	c := cfg.Audio.Capture
	p := cfg.Audio.Playback
	capturer := capture.New(a.opener, capture.Config{
		FrameDuration: c.FrameDuration,
		RMSThreshold:  c.RMSThreshold,
		SettleWindow:  c.SettleWindow,
	})
	player := playback.New(a.opener, playback.Config{
		SampleRate:     p.OutputSampleRate,
		PrebufferDelay: p.PrebufferDelay,
		GracePeriod:    p.GracePeriod,
		EchoTail:       p.EchoTail,
	}, playback.WithMetrics(a.metrics))
	return capturer, player, nil
}

// ─── Modes ───────────────────────────────────────────────────────────────────

// RunLocal runs one continuous conversation between the local microphone and
// speaker and the speech-to-speech provider. It returns when ctx is done or
// the remote side ends the session.
func (a *App) RunLocal(ctx context.Context) error {
	if a.providers.S2S == nil {
		return errors.New("app: local mode requires an s2s provider")
	}
	cfg := a.Config()
	capturer, player, err := a.devices(cfg)
	if err != nil {
		return err
	}
	defer player.Close()

	sess := live.NewSession(a.providers.S2S, capturer, player, liveConfig(cfg), live.WithMetrics(a.metrics))
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("app: local session: %w", err)
	}
	defer sess.Stop()
	slog.Info("local session active, speak into the microphone")

	transcripts := sess.Transcripts()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			slog.Info("transcript", "speaker", t.Kind.Speaker(), "text", t.Text)
		case ev, ok := <-sess.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case live.EventError:
				slog.Warn("local session error", "err", ev.Err)
			case live.EventClosed:
				if ev.Err != nil {
					return fmt.Errorf("app: local session ended: %w", ev.Err)
				}
				return nil
			}
		}
	}
}

// RunTurn runs the turn-based conversation until ctx is done.
func (a *App) RunTurn(ctx context.Context) error {
	if a.providers.Converse == nil || a.providers.TTS == nil {
		return errors.New("app: turn mode requires converse and tts providers")
	}
	cfg := a.Config()
	capturer, player, err := a.devices(cfg)
	if err != nil {
		return err
	}
	defer player.Close()

	loop := live.NewTurnLoop(capturer, player, a.providers.Converse, a.providers.TTS, live.TurnConfig{
		Config:         liveConfig(cfg),
		SilenceTimeout: cfg.Session.SilenceTimeout,
		HistoryTurns:   cfg.Session.HistoryTurns,
	}, live.WithMetrics(a.metrics))
	defer loop.Stop()

	go func() {
		for t := range loop.Transcripts() {
			slog.Info("transcript", "speaker", t.Kind.Speaker(), "text", t.Text)
		}
	}()

	slog.Info("turn mode active, speak and pause to get a reply")
	return loop.Run(ctx)
}

// Sessions returns the manager of WebSocket-mode sessions.
func (a *App) Sessions() *SessionManager { return a.sessions }

// newServerSession is the [SessionFactory] behind [App.Sessions].
func (a *App) newServerSession(peer live.Peer) *live.ServerSession {
	cfg := a.Config()
	opts := []live.Option{live.WithMetrics(a.metrics)}
	if a.store != nil || a.longTerm != nil {
		opts = append(opts,
			live.WithMemory(a.store, a.longTerm),
			live.WithAssembler(hotctx.NewAssembler(a.store, a.longTerm,
				hotctx.WithSnippetCount(cfg.Session.MemorySnippets))),
		)
	}
	return live.NewServerSession(a.providers.S2S, peer, live.ServerConfig{
		Config:             liveConfig(cfg),
		BacklogCapacity:    cfg.Session.BacklogCapacity,
		MinTranscriptChars: cfg.Session.MinTranscriptChars,
		PersistTimeout:     cfg.Session.PersistTimeout,
	}, opts...)
}

// ─── Health ──────────────────────────────────────────────────────────────────

// healthReporter is implemented by providers that chain several backends.
type healthReporter interface {
	Healthy() error
}

// Checkers returns the readiness checks for the configured subsystems.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "providers",
		Check: func(context.Context) error {
			switch a.Config().Session.Mode {
			case config.ModeTurn:
				if a.providers.Converse == nil || a.providers.TTS == nil {
					return errors.New("converse or tts provider missing")
				}
			default:
				if a.providers.S2S == nil {
					return errors.New("s2s provider missing")
				}
			}
			return nil
		},
	}}
	for _, fb := range []struct {
		name     string
		provider any
	}{{"tts_fallback", a.providers.TTS}, {"llm_fallback", a.providers.LLM}} {
		if h, ok := fb.provider.(healthReporter); ok {
			checks = append(checks, health.Checker{
				Name:  fb.name,
				Check: func(context.Context) error { return h.Healthy() },
			})
		}
	}
	if a.pinger != nil {
		checks = append(checks, health.Checker{Name: "database", Check: a.pinger})
	}
	if a.guard != nil {
		checks = append(checks, health.Checker{
			Name: "memory",
			Check: func(context.Context) error {
				if a.guard.IsDegraded() {
					return ErrMemoryDegraded
				}
				return nil
			},
		})
	}
	return checks
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects every live session, persisting their transcripts,
// then runs the closers. If ctx expires before all closers ran, the
// remaining ones are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))

		var errs []error
		if err := a.sessions.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				shutdownErr = errors.Join(errs...)
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
