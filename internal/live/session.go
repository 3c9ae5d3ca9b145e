package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/hotctx"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/s2s"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// defaultEventBuffer is the depth of the Events and Transcripts channels.
	defaultEventBuffer = 64

	// defaultOutputSampleRate is used when the provider does not report the
	// rate of its audio events.
	defaultOutputSampleRate = 24000
)

// Config holds the settings shared by all session drivers.
type Config struct {
	// Instructions is the system instruction sent when connecting.
	Instructions string

	// Voice selects the model's voice.
	Voice tts.VoiceProfile

	// InputSampleRate is the rate microphone frames are captured and sent at.
	// Zero means [capture.DefaultSampleRate].
	InputSampleRate int
}

func (c Config) inputRate() int {
	if c.InputSampleRate > 0 {
		return c.InputSampleRate
	}
	return capture.DefaultSampleRate
}

func (c Config) sessionConfig(instructions string) s2s.SessionConfig {
	return s2s.SessionConfig{
		Voice:           c.Voice,
		Instructions:    instructions,
		InputSampleRate: c.inputRate(),
	}
}

// Option is a functional option shared by [Session], [TurnLoop] and
// [ServerSession].
type Option func(*options)

type options struct {
	metrics     *observe.Metrics
	eventBuffer int

	// Server sessions only.
	store     memory.SessionStore
	longTerm  memory.LongTermMemory
	assembler *hotctx.Assembler
	sessionID string
}

func buildOptions(opts []Option) options {
	o := options{eventBuffer: defaultEventBuffer}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.eventBuffer <= 0 {
		o.eventBuffer = defaultEventBuffer
	}
	return o
}

// WithMetrics records session metrics on m instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEventBuffer sets the depth of the Events and Transcripts channels.
// Events that do not fit are dropped and logged.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithMemory gives a [ServerSession] the stores it loads prior context from
// and persists the transcript to. Without it the session neither loads nor
// persists anything.
func WithMemory(store memory.SessionStore, longTerm memory.LongTermMemory) Option {
	return func(o *options) {
		o.store = store
		o.longTerm = longTerm
	}
}

// WithAssembler overrides the context assembler a [ServerSession] builds from
// the stores passed to [WithMemory].
func WithAssembler(a *hotctx.Assembler) Option {
	return func(o *options) { o.assembler = a }
}

// WithSessionID fixes the ID of a [ServerSession] instead of generating one.
func WithSessionID(id string) Option {
	return func(o *options) { o.sessionID = id }
}

// Session is a continuous local conversation: microphone frames stream to a
// speech-to-speech endpoint while its reply streams to the speaker.
//
// The capturer and player are owned by the caller; Session stops the capture
// stream and interrupts playback on shutdown but does not close the player.
type Session struct {
	provider s2s.Provider
	capturer *capture.Capturer
	player   *playback.Player
	cfg      Config
	opts     options

	events      chan Event
	transcripts chan memory.Event
	done        chan struct{}

	mu       sync.Mutex
	state    State
	handle   s2s.SessionHandle
	stopping bool
	ended    bool
	stopOnce sync.Once
	endOnce  sync.Once
}

// NewSession creates an idle Session.
func NewSession(provider s2s.Provider, capturer *capture.Capturer, player *playback.Player, cfg Config, opts ...Option) *Session {
	o := buildOptions(opts)
	return &Session{
		provider:    provider,
		capturer:    capturer,
		player:      player,
		cfg:         cfg,
		opts:        o,
		events:      make(chan Event, o.eventBuffer),
		transcripts: make(chan memory.Event, o.eventBuffer),
		done:        make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the session notification channel. It is closed after the
// final [EventClosed].
func (s *Session) Events() <-chan Event { return s.events }

// Transcripts returns the user and model transcript fragments in arrival
// order. It is closed when the session ends.
func (s *Session) Transcripts() <-chan memory.Event { return s.transcripts }

// Done is closed once the session has fully ended: by Stop, because the
// endpoint closed the connection, or because Start failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start opens the microphone, connects to the endpoint and begins streaming.
// A device failure is returned wrapping [audio.ErrDeviceUnavailable]; a
// failed connection wraps [ErrConnectionFailure]. Neither is retried and
// either one ends the session. A session is started at most once.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping || s.ended {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle || s.handle != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateConnecting
	s.mu.Unlock()

	frames, err := s.capturer.Stream(context.WithoutCancel(ctx), s.cfg.inputRate())
	if err != nil {
		err = fmt.Errorf("live: start: %w", err)
		s.finish(err)
		return err
	}

	start := time.Now()
	handle, err := s.provider.Connect(ctx, s.cfg.sessionConfig(s.cfg.Instructions))
	if err != nil {
		s.capturer.Stop()
		for range frames {
		}
		s.opts.metrics.RecordProviderError(ctx, "s2s", "connect")
		err = fmt.Errorf("live: start: %w: %w", ErrConnectionFailure, err)
		s.finish(err)
		return err
	}
	s.opts.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = handle.Close()
		for range frames {
		}
		s.finish(nil)
		return ErrClosed
	}
	s.handle = handle
	s.state = StateActive
	s.mu.Unlock()
	s.opts.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("live: session active", "connect_ms", time.Since(start).Milliseconds())

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		s.forward(frames, handle)
	}()
	go s.run(handle, forwarded)
	return nil
}

// forward sends captured frames upstream in capture order. Frames captured
// while the assistant is audible are dropped. The endpoint was told the input
// rate when connecting, so a microphone slower than that is upsampled to it.
func (s *Session) forward(frames <-chan audio.AudioFrame, handle s2s.SessionHandle) {
	ctx := context.Background()
	rate := s.cfg.inputRate()
	for frame := range frames {
		if s.player.IsSpeaking() {
			s.opts.metrics.FramesMuted.Add(ctx, 1)
			continue
		}
		pcm := frame.Data
		if frame.SampleRate > 0 && frame.SampleRate != rate {
			pcm = audio.ResampleMono16(pcm, frame.SampleRate, rate)
		}
		if err := handle.SendAudio(pcm); err != nil {
			slog.Debug("live: send audio failed", "err", err)
			continue
		}
		s.opts.metrics.RecordFrameForwarded(ctx, "local")
	}
}

// run is the single consumer of endpoint and playback events.
func (s *Session) run(handle s2s.SessionHandle, forwarded <-chan struct{}) {
	rate := s.provider.Capabilities().OutputSampleRate
	if rate <= 0 {
		rate = defaultOutputSampleRate
	}

	inbound := handle.Events()
	speaking := s.player.Events()
	for inbound != nil {
		select {
		case ev, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			s.dispatch(ev, rate)
		case pe := <-speaking:
			slog.Debug("live: playback", "event", pe.Type.String(), "interrupted", pe.Interrupted)
		}
	}

	// The endpoint is gone; nothing more to forward.
	s.capturer.Stop()
	<-forwarded
	s.player.Interrupt()

	err := handle.Err()
	if err != nil {
		slog.Warn("live: session ended with error", "err", err)
	} else {
		slog.Info("live: session ended")
	}
	s.opts.metrics.ActiveSessions.Add(context.Background(), -1)
	s.finish(err)
}

// finish emits the final [EventClosed], closes every channel and returns the
// session to idle. Only the first call has any effect.
func (s *Session) finish(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = StateIdle
		s.ended = true
		s.mu.Unlock()

		s.emit(Event{Type: EventClosed, Err: err})
		close(s.events)
		close(s.transcripts)
		close(s.done)
	})
}

func (s *Session) dispatch(ev s2s.Event, rate int) {
	switch ev.Type {
	case s2s.EventAudio:
		s.player.Enqueue(audio.AudioFrame{Data: ev.Audio, SampleRate: rate})
	case s2s.EventInterrupted:
		slog.Debug("live: endpoint interrupted reply")
		s.player.Interrupt()
	case s2s.EventInputTranscript:
		s.transcript(memory.KindUserUtterance, ev.Text)
	case s2s.EventOutputTranscript, s2s.EventText:
		s.transcript(memory.KindModelUtterance, ev.Text)
	case s2s.EventTurnComplete:
		slog.Debug("live: turn complete")
	case s2s.EventError:
		slog.Warn("live: endpoint error", "err", ev.Err)
		s.emit(Event{Type: EventError, Err: ev.Err})
	}
}

func (s *Session) transcript(kind memory.EventKind, text string) {
	if text == "" {
		return
	}
	slog.Info("live: transcript", "speaker", kind.Speaker(), "text", text)
	select {
	case s.transcripts <- memory.Event{Kind: kind, Text: text, Timestamp: time.Now()}:
	default:
		slog.Warn("live: transcript channel full, dropping fragment")
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("live: event channel full, dropping event", "type", ev.Type.String())
	}
}

// Stop ends the session: capture stops, playback is interrupted and the
// connection is closed. It blocks until the session has wound down and is
// safe to call more than once or before Start.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		handle := s.handle
		neverStarted := handle == nil && s.state == StateIdle
		if handle != nil {
			s.state = StateClosing
		}
		s.mu.Unlock()

		s.capturer.Stop()
		s.player.Interrupt()
		if neverStarted {
			// Start is not running; a connecting Start ends the session itself.
			s.finish(nil)
			return
		}
		if handle == nil {
			<-s.done
			return
		}
		if err := handle.Close(); err != nil {
			slog.Debug("live: close connection", "err", err)
		}
		<-s.done
	})
}
