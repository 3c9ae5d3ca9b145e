// Package playback owns the speaker. A [Player] accepts PCM chunks of any
// length, plays them gaplessly in arrival order through a blocking
// [audio.OutputDevice], and reports whether the assistant is currently
// audible so that capture can mute itself.
//
// Lifecycle of one speaking stretch:
//
//	Enqueue ─▶ open device ─▶ prebuffer ─▶ drain queue (blocking writes)
//	   queue empty ─▶ grace period ─▶ close device (drain) ─▶ echo tail ─▶ stopped
//
// A new Enqueue during the grace period keeps the device open. During the
// drain or the echo tail it reopens the device, after the drain completes,
// without a second start event. [Player.Interrupt] cuts all of it short
// synchronously, the drain included.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
)

// Default tunables.
const (
	DefaultSampleRate     = 24000
	DefaultPrebufferDelay = 300 * time.Millisecond
	DefaultGracePeriod    = 500 * time.Millisecond
	DefaultEchoTail       = 1000 * time.Millisecond
	DefaultBufferDuration = 20 * time.Millisecond

	// wavChunk bounds the size of frames PlayWAV enqueues so that a long
	// clip is still interruptible between device writes.
	wavChunk = 100 * time.Millisecond

	eventBuffer = 64
)

// ErrInterrupted is returned by [Player.PlayWAV] when playback was cut short.
var ErrInterrupted = errors.New("playback: interrupted")

// ErrClosed is returned by [Player.PlayWAV] after [Player.Close].
var ErrClosed = errors.New("playback: player closed")

// Config holds the Player tunables. Zero values fall back to the defaults.
type Config struct {
	// SampleRate of the output device and of frames handed to the device.
	SampleRate int

	// PrebufferDelay is how much audio is accumulated (or how long to wait,
	// whichever comes first) after opening the device before the first write.
	PrebufferDelay time.Duration

	// GracePeriod is how long an empty queue waits for more audio before the
	// device is closed.
	GracePeriod time.Duration

	// EchoTail is how long after the device closes the player still reports
	// speaking, so the microphone does not pick up the room's echo.
	EchoTail time.Duration

	// BufferDuration sets the device's frames-per-buffer.
	BufferDuration time.Duration
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.PrebufferDelay < 0 {
		c.PrebufferDelay = 0
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.EchoTail < 0 {
		c.EchoTail = 0
	}
	if c.BufferDuration <= 0 {
		c.BufferDuration = DefaultBufferDuration
	}
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		SampleRate:     DefaultSampleRate,
		PrebufferDelay: DefaultPrebufferDelay,
		GracePeriod:    DefaultGracePeriod,
		EchoTail:       DefaultEchoTail,
		BufferDuration: DefaultBufferDuration,
	}
}

// EventType classifies speaking transitions emitted on [Player.Events].
type EventType int

const (
	// EventSpeakingStarted is emitted once on the idle → speaking transition.
	EventSpeakingStarted EventType = iota

	// EventSpeakingStopped is emitted when speaking ends, either after the
	// echo tail or immediately on Interrupt.
	EventSpeakingStopped
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventSpeakingStarted:
		return "SPEAKING_STARTED"
	case EventSpeakingStopped:
		return "SPEAKING_STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Event is a speaking transition.
type Event struct {
	Type EventType

	// Interrupted is true when a stop was caused by Interrupt.
	Interrupted bool
}

// Option is a functional option for configuring a Player.
type Option func(*Player)

// WithMetrics records interruptions and device failures on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// WithClock replaces the scheduling clock, mainly for tests.
func WithClock(c *Clock) Option {
	return func(p *Player) { p.clock = c }
}

// outputRun is one open-device stretch. It ends when the grace period closes
// the device, a write fails, or Interrupt aborts it.
type outputRun struct {
	dev     audio.OutputDevice // nil while opening
	aborted bool               // set by Interrupt; guarded by Player.mu
	wake    chan struct{}
	quit    chan struct{}
	drained chan struct{}

	quitOnce    sync.Once
	drainedOnce sync.Once
}

func newRun() *outputRun {
	return &outputRun{
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

func (r *outputRun) stop()   { r.quitOnce.Do(func() { close(r.quit) }) }
func (r *outputRun) finish() { r.drainedOnce.Do(func() { close(r.drained) }) }

func (r *outputRun) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Player plays PCM through an output device. All methods are safe for
// concurrent use.
type Player struct {
	opener  audio.DeviceOpener
	cfg     Config
	clock   *Clock
	metrics *observe.Metrics
	events  chan Event

	speaking atomic.Bool

	mu         sync.Mutex
	queue      []audio.AudioFrame
	queued     time.Duration
	cur        *outputRun
	closing    *outputRun // device draining after the grace period
	graceTimer *time.Timer
	graceEpoch uint64
	tailTimer  *time.Timer
	tailEpoch  uint64
	closed     bool
	warnedRate sync.Once
}

// New creates a Player that opens output devices through opener on demand.
func New(opener audio.DeviceOpener, cfg Config, opts ...Option) *Player {
	cfg.applyDefaults()
	p := &Player{
		opener: opener,
		cfg:    cfg,
		events: make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(p)
	}
	if p.clock == nil {
		p.clock = NewClock(nil)
	}
	return p
}

// Events returns the channel of speaking transitions. It is never closed;
// events are dropped (and logged) if the consumer falls behind.
func (p *Player) Events() <-chan Event { return p.events }

// IsSpeaking reports whether audio is queued, playing, or within the echo tail.
func (p *Player) IsSpeaking() bool { return p.speaking.Load() }

// Scheduled returns the total audio duration scheduled since the last interrupt.
func (p *Player) Scheduled() time.Duration { return p.clock.Scheduled() }

// Enqueue appends frame to the playback queue. It never blocks on the device.
// Frames at a different rate from the device are resampled.
func (p *Player) Enqueue(frame audio.AudioFrame) {
	if len(frame.Data) < audio.BytesPerSample {
		return
	}
	if frame.SampleRate > 0 && frame.SampleRate != p.cfg.SampleRate {
		p.warnedRate.Do(func() {
			slog.Warn("playback: resampling frames to device rate",
				"from", frame.SampleRate, "to", p.cfg.SampleRate)
		})
		frame = audio.AudioFrame{
			Data:       audio.ResampleMono16(frame.Data, frame.SampleRate, p.cfg.SampleRate),
			SampleRate: p.cfg.SampleRate,
			Timestamp:  frame.Timestamp,
		}
	}
	frame.SampleRate = p.cfg.SampleRate

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.enqueueLocked(frame)
}

func (p *Player) enqueueLocked(frame audio.AudioFrame) {
	d := frame.Duration()
	p.clock.Schedule(d)
	p.queue = append(p.queue, frame)
	p.queued += d
	p.cancelTimersLocked()

	if !p.speaking.Swap(true) {
		p.emit(Event{Type: EventSpeakingStarted})
	}
	if p.cur == nil {
		r := newRun()
		p.cur = r
		go p.run(r)
		return
	}
	p.cur.signal()
}

// PlayWAV decodes a mono 16-bit PCM WAV, plays it, and blocks until the
// device has finished playing it (after the grace period closes the device).
// It returns [ErrInterrupted] if Interrupt cut it short, or ctx.Err().
func (p *Player) PlayWAV(ctx context.Context, wav []byte) error {
	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("playback: play wav: %w", err)
	}
	if len(pcm) < audio.BytesPerSample {
		return nil
	}
	if rate != p.cfg.SampleRate {
		pcm = audio.ResampleMono16(pcm, rate, p.cfg.SampleRate)
	}

	chunk := audio.PCMBytes(wavChunk, p.cfg.SampleRate)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	for off := 0; off < len(pcm); off += chunk {
		end := min(off+chunk, len(pcm))
		p.enqueueLocked(audio.AudioFrame{Data: pcm[off:end], SampleRate: p.cfg.SampleRate})
	}
	r := p.cur
	p.mu.Unlock()

	select {
	case <-r.drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Device failures are contained and logged by the run itself.
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.aborted {
		return ErrInterrupted
	}
	return nil
}

// Interrupt discards all queued audio, aborts the device without draining,
// clears speaking and emits [EventSpeakingStopped] before returning. No frame
// queued before the call is written afterwards.
func (p *Player) Interrupt() {
	p.mu.Lock()
	r, closing := p.cur, p.closing
	p.cur, p.closing = nil, nil
	p.queue = nil
	p.queued = 0
	p.cancelTimersLocked()
	p.clock.Reset()
	var dev, closingDev audio.OutputDevice
	if r != nil {
		r.aborted = true
		dev = r.dev
	}
	if closing != nil {
		closing.aborted = true
		closingDev = closing.dev
	}
	was := p.speaking.Swap(false)
	if was {
		p.emit(Event{Type: EventSpeakingStopped, Interrupted: true})
	}
	p.mu.Unlock()

	// The draining device is cut short; onGrace finishes its run.
	abortDevice(closingDev)
	if r != nil {
		r.stop()
		abortDevice(dev)
		r.finish()
	}
	if was && p.metrics != nil {
		p.metrics.Interruptions.Add(context.Background(), 1)
	}
}

func abortDevice(dev audio.OutputDevice) {
	if dev == nil {
		return
	}
	if err := dev.Abort(); err != nil {
		slog.Debug("playback: abort device", "err", err)
	}
}

// Close interrupts playback and rejects further frames. Safe to call more than once.
func (p *Player) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Interrupt()
}

// run owns one open-device stretch. The previous device, if still draining,
// is closed before the next one opens.
func (p *Player) run(r *outputRun) {
	p.mu.Lock()
	prev := p.closing
	p.mu.Unlock()
	if prev != nil {
		select {
		case <-prev.drained:
		case <-r.quit:
			r.finish()
			return
		}
	}

	frames := int(int64(p.cfg.SampleRate) * int64(p.cfg.BufferDuration) / int64(time.Second))
	dev, err := p.opener.OpenOutput(audio.DeviceConfig{
		SampleRate:      p.cfg.SampleRate,
		FramesPerBuffer: frames,
	})

	p.mu.Lock()
	if p.cur != r {
		p.mu.Unlock()
		if dev != nil {
			_ = dev.Abort()
		}
		r.finish()
		return
	}
	if err != nil {
		slog.Warn("playback: open output device", "err", err)
		p.recordDeviceError()
		p.abandonLocked(r)
		p.mu.Unlock()
		r.finish()
		return
	}
	r.dev = dev
	p.mu.Unlock()

	if !p.prebuffer(r) {
		return
	}

	for {
		p.mu.Lock()
		if p.cur != r {
			p.mu.Unlock()
			return
		}
		if len(p.queue) == 0 {
			p.armGraceLocked(r)
			p.mu.Unlock()
			select {
			case <-r.wake:
				continue
			case <-r.quit:
				return
			}
		}
		frame := p.queue[0]
		p.queue[0] = audio.AudioFrame{}
		p.queue = p.queue[1:]
		p.queued -= frame.Duration()
		p.mu.Unlock()

		if err := dev.Write(frame.Data); err != nil {
			p.mu.Lock()
			if p.cur != r {
				// Interrupted mid-write; the abort produced this error.
				p.mu.Unlock()
				return
			}
			slog.Warn("playback: device write failed, closing device", "err", err)
			p.recordDeviceError()
			p.abandonLocked(r)
			p.mu.Unlock()
			_ = dev.Abort()
			r.finish()
			return
		}
	}
}

// prebuffer waits until PrebufferDelay of audio is queued or PrebufferDelay
// has elapsed. It returns false if the run was stopped meanwhile.
func (p *Player) prebuffer(r *outputRun) bool {
	if p.cfg.PrebufferDelay <= 0 {
		return true
	}
	deadline := time.NewTimer(p.cfg.PrebufferDelay)
	defer deadline.Stop()
	for {
		p.mu.Lock()
		if p.cur != r {
			p.mu.Unlock()
			return false
		}
		enough := p.queued >= p.cfg.PrebufferDelay
		p.mu.Unlock()
		if enough {
			return true
		}
		select {
		case <-r.wake:
		case <-deadline.C:
			return true
		case <-r.quit:
			return false
		}
	}
}

// abandonLocked ends r after a device failure. Queued audio is dropped and
// speaking ends after the echo tail, as if the device had closed normally.
func (p *Player) abandonLocked(r *outputRun) {
	p.cur = nil
	p.queue = nil
	p.queued = 0
	r.stop()
	p.armTailLocked()
}

func (p *Player) armGraceLocked(r *outputRun) {
	if p.graceTimer != nil {
		return
	}
	epoch := p.graceEpoch
	p.graceTimer = time.AfterFunc(p.cfg.GracePeriod, func() { p.onGrace(r, epoch) })
}

// onGrace closes the device once the grace period passed without new audio.
func (p *Player) onGrace(r *outputRun, epoch uint64) {
	p.mu.Lock()
	if epoch != p.graceEpoch || p.cur != r || len(p.queue) > 0 {
		p.mu.Unlock()
		return
	}
	p.graceTimer = nil
	p.cur = nil
	p.closing = r
	dev := r.dev
	p.mu.Unlock()

	r.stop()
	if dev != nil {
		if err := dev.Close(); err != nil {
			slog.Debug("playback: close device", "err", err)
		}
	}

	p.mu.Lock()
	if p.closing == r {
		p.closing = nil
	}
	if p.cur == nil && len(p.queue) == 0 && p.speaking.Load() {
		p.armTailLocked()
	}
	p.mu.Unlock()
	r.finish()
}

func (p *Player) armTailLocked() {
	if p.tailTimer != nil {
		p.tailTimer.Stop()
	}
	p.tailEpoch++
	epoch := p.tailEpoch
	p.tailTimer = time.AfterFunc(p.cfg.EchoTail, func() { p.onTail(epoch) })
}

// onTail ends the speaking stretch.
func (p *Player) onTail(epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.tailEpoch || p.cur != nil || len(p.queue) > 0 {
		return
	}
	p.tailTimer = nil
	if p.speaking.Swap(false) {
		p.emit(Event{Type: EventSpeakingStopped})
	}
}

func (p *Player) cancelTimersLocked() {
	p.graceEpoch++
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}
	p.tailEpoch++
	if p.tailTimer != nil {
		p.tailTimer.Stop()
		p.tailTimer = nil
	}
}

func (p *Player) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		slog.Warn("playback: event channel full, dropping event", "type", ev.Type.String())
	}
}

func (p *Player) recordDeviceError() {
	if p.metrics != nil {
		p.metrics.PlaybackWriteErrors.Add(context.Background(), 1)
	}
}
