package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/converse"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Turn-mode defaults.
const (
	// DefaultSilenceTimeout is how much quiet ends a turn-based utterance.
	DefaultSilenceTimeout = 1500 * time.Millisecond

	DefaultIdlePause    = 100 * time.Millisecond
	DefaultMaxIdlePause = 2 * time.Second
)

// TurnConfig configures a [TurnLoop].
type TurnConfig struct {
	Config

	// SilenceTimeout ends an utterance. Zero means [DefaultSilenceTimeout].
	SilenceTimeout time.Duration

	// HistoryTurns is how many earlier exchanges, each the user's utterance
	// audio plus the reply text, are sent back as context. Zero sends none.
	HistoryTurns int

	// IdlePause is waited after a turn that heard nothing, either an empty
	// utterance or a recording error. It doubles with every further idle turn
	// up to MaxIdlePause. Zero means [DefaultIdlePause].
	IdlePause time.Duration

	// MaxIdlePause caps the idle wait. Zero means [DefaultMaxIdlePause].
	MaxIdlePause time.Duration

	// Retry governs rate-limited replies. Retryable is always replaced so
	// that only [converse.ErrRateLimited] is retried.
	Retry resilience.RetryConfig
}

// TurnLoop is the turn-based conversation driver. Each turn records one
// utterance, asks the reply backend for text, synthesises it and plays it to
// completion before the next recording starts.
type TurnLoop struct {
	capturer *capture.Capturer
	player   *playback.Player
	replier  converse.Provider
	speaker  tts.Provider
	cfg      TurnConfig
	opts     options

	transcripts chan memory.Event

	mu       sync.Mutex
	history  []converse.Message
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTurnLoop creates a TurnLoop. The capturer and player remain owned by the caller.
func NewTurnLoop(capturer *capture.Capturer, player *playback.Player, replier converse.Provider, speaker tts.Provider, cfg TurnConfig, opts ...Option) *TurnLoop {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.IdlePause <= 0 {
		cfg.IdlePause = DefaultIdlePause
	}
	if cfg.MaxIdlePause <= 0 {
		cfg.MaxIdlePause = DefaultMaxIdlePause
	}
	if cfg.Retry.Name == "" {
		cfg.Retry.Name = "converse"
	}
	cfg.Retry.Retryable = func(err error) bool { return errors.Is(err, converse.ErrRateLimited) }

	o := buildOptions(opts)
	return &TurnLoop{
		capturer:    capturer,
		player:      player,
		replier:     replier,
		speaker:     speaker,
		cfg:         cfg,
		opts:        o,
		transcripts: make(chan memory.Event, o.eventBuffer),
		stop:        make(chan struct{}),
	}
}

// Transcripts returns the model's replies as they are spoken. Fragments that
// do not fit the buffer are dropped. The channel is never closed.
func (l *TurnLoop) Transcripts() <-chan memory.Event { return l.transcripts }

// Run plays turns until ctx is cancelled or Stop is called. It returns nil
// after Stop, ctx.Err() after cancellation, and a wrapped
// [audio.ErrDeviceUnavailable] when the microphone or speaker cannot be used.
// Every other turn failure is logged and the loop carries on. Turns that hear
// nothing are spaced out by a growing idle pause.
func (l *TurnLoop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	go l.drainPlayback(ctx)

	l.opts.metrics.ActiveSessions.Add(ctx, 1)
	defer l.opts.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	var idle retry.Backoff
	for {
		heard, err := l.turn(ctx)
		if l.stopped() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case err == nil:
		case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, capture.ErrBusy):
			return fmt.Errorf("live: turn loop: %w", err)
		case errors.Is(err, ErrSynthesisFailure):
			slog.Warn("live: skipping reply audio", "err", err)
		default:
			slog.Warn("live: turn aborted", "err", err)
		}

		if heard {
			idle = nil
			continue
		}
		if idle == nil {
			idle = retry.WithCappedDuration(l.cfg.MaxIdlePause, retry.NewExponential(l.cfg.IdlePause))
		}
		d, _ := idle.Next()
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
}

// drainPlayback consumes speaking transitions, which nothing else reads in
// turn mode, until ctx is done.
func (l *TurnLoop) drainPlayback(ctx context.Context) {
	for {
		select {
		case ev := <-l.player.Events():
			slog.Debug("live: playback", "event", ev.Type.String(), "interrupted", ev.Interrupted)
		case <-ctx.Done():
			return
		}
	}
}

// Turn runs a single turn. An empty utterance ends the turn without a reply.
func (l *TurnLoop) Turn(ctx context.Context) error {
	_, err := l.turn(ctx)
	return err
}

// turn reports whether speech was captured, whatever became of the reply.
func (l *TurnLoop) turn(ctx context.Context) (heard bool, err error) {
	utt, err := l.capturer.RecordUtterance(ctx, l.cfg.SilenceTimeout, l.cfg.inputRate())
	if err != nil {
		return false, fmt.Errorf("live: record: %w", err)
	}
	if utt.Empty() || ctx.Err() != nil || l.stopped() {
		return false, nil
	}
	start := time.Now()
	slog.Debug("live: utterance captured", "duration", utt.Duration())

	req := converse.Request{
		SystemInstruction: l.cfg.Instructions,
		Audio:             utt.WAV(),
		History:           l.recentHistory(),
	}
	resp, err := resilience.RetryLinear(ctx, l.cfg.Retry, func(ctx context.Context) (converse.Response, error) {
		resp, err := l.replier.Reply(ctx, req)
		if err != nil {
			l.opts.metrics.RecordProviderRequest(ctx, "converse", "reply", "error")
			return resp, err
		}
		l.opts.metrics.RecordProviderRequest(ctx, "converse", "reply", "ok")
		return resp, nil
	})
	l.opts.metrics.ReplyDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		l.opts.metrics.RecordProviderError(ctx, "converse", "reply")
		return true, fmt.Errorf("live: reply: %w", err)
	}
	l.remember(req.Audio, resp.Text)
	slog.Info("live: transcript", "speaker", memory.KindModelUtterance.Speaker(), "text", resp.Text)
	select {
	case l.transcripts <- memory.Event{Kind: memory.KindModelUtterance, Text: resp.Text, Timestamp: time.Now()}:
	default:
	}

	ttsStart := time.Now()
	wav, err := l.speaker.Synthesize(ctx, resp.Text, l.cfg.Voice)
	l.opts.metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
	if err != nil {
		l.opts.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return true, fmt.Errorf("live: synthesize: %w: %w", ErrSynthesisFailure, err)
	}

	switch err := l.player.PlayWAV(ctx, wav); {
	case err == nil, errors.Is(err, playback.ErrInterrupted):
	case ctx.Err() != nil:
		return true, nil
	default:
		return true, fmt.Errorf("live: play: %w", err)
	}
	l.opts.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	return true, nil
}

func (l *TurnLoop) recentHistory() []converse.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]converse.Message(nil), l.history...)
}

// remember keeps the exchange as a user/model pair so trimming never splits one.
func (l *TurnLoop) remember(utterance []byte, reply string) {
	if l.cfg.HistoryTurns <= 0 || reply == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history,
		converse.Message{Role: converse.RoleUser, Audio: utterance},
		converse.Message{Role: converse.RoleModel, Text: reply},
	)
	if over := len(l.history) - 2*l.cfg.HistoryTurns; over > 0 {
		l.history = l.history[over:]
	}
}

func (l *TurnLoop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// Stop ends Run after the current step: a recording in progress is finalised
// and playback is interrupted. Safe to call more than once.
func (l *TurnLoop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.capturer.Stop()
		l.player.Interrupt()
	})
}
