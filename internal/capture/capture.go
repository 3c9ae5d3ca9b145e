// Package capture owns the microphone. A [Capturer] either streams fixed-size
// PCM frames continuously ([Capturer.Stream]) or records a single utterance
// delimited by voice activity ([Capturer.RecordUtterance]). Only one of the two
// may run at a time; [Capturer.Stop] ends whichever is active.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// Default tunables.
const (
	DefaultSampleRate    = 16000
	DefaultFrameDuration = 20 * time.Millisecond
	DefaultRMSThreshold  = 500
	DefaultSettleWindow  = 500 * time.Millisecond

	streamBuffer = 64
)

// ErrBusy is returned when a capture is started while another is running.
var ErrBusy = errors.New("capture: device already in use")

// Config holds the Capturer tunables. Zero values fall back to the defaults.
type Config struct {
	// FrameDuration is the length of each captured frame.
	FrameDuration time.Duration

	// RMSThreshold is the raw int16 RMS level above which a frame counts as speech.
	RMSThreshold float64

	// SettleWindow is ignored at the start of every utterance recording.
	SettleWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.FrameDuration <= 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = DefaultRMSThreshold
	}
	if c.SettleWindow < 0 {
		c.SettleWindow = 0
	}
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		FrameDuration: DefaultFrameDuration,
		RMSThreshold:  DefaultRMSThreshold,
		SettleWindow:  DefaultSettleWindow,
	}
}

// Utterance is one stretch of speech captured between the VAD start and the
// silence timeout. Trailing silence shorter than the timeout is included.
type Utterance struct {
	PCM        []byte
	SampleRate int

	// Onset is the stream time at which speech was first detected.
	Onset time.Duration
}

// Duration returns the utterance length.
func (u Utterance) Duration() time.Duration {
	return audio.PCMDuration(len(u.PCM), u.SampleRate)
}

// Empty reports whether no speech was captured.
func (u Utterance) Empty() bool { return len(u.PCM) == 0 }

// WAV returns the utterance wrapped in a RIFF/WAVE container.
func (u Utterance) WAV() []byte { return audio.EncodeWAV(u.PCM, u.SampleRate) }

// Option is a functional option for configuring a Capturer.
type Option func(*Capturer)

// WithVAD replaces the default energy VAD engine.
func WithVAD(e vad.Engine) Option {
	return func(c *Capturer) { c.vad = e }
}

// Capturer captures microphone audio. All methods are safe for concurrent use.
type Capturer struct {
	opener audio.DeviceOpener
	vad    vad.Engine
	cfg    Config

	mu     sync.Mutex
	dev    audio.InputDevice
	stopCh chan struct{}
}

// New creates a Capturer that opens input devices through opener.
func New(opener audio.DeviceOpener, cfg Config, opts ...Option) *Capturer {
	cfg.applyDefaults()
	c := &Capturer{opener: opener, cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.vad == nil {
		c.vad = energy.New()
	}
	return c
}

// open acquires the device for one capture. The returned channel is closed by Stop.
func (c *Capturer) open(sampleRate int) (audio.InputDevice, chan struct{}, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev != nil {
		return nil, nil, ErrBusy
	}
	frames := int(int64(sampleRate) * int64(c.cfg.FrameDuration) / int64(time.Second))
	dev, err := c.opener.OpenInput(audio.DeviceConfig{SampleRate: sampleRate, FramesPerBuffer: frames})
	if err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return nil, nil, fmt.Errorf("capture: open input: %w", err)
		}
		return nil, nil, fmt.Errorf("capture: open input: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	c.dev = dev
	c.stopCh = make(chan struct{})
	return dev, c.stopCh, nil
}

// release closes dev if it is still the active device.
func (c *Capturer) release(dev audio.InputDevice) {
	c.mu.Lock()
	if c.dev == dev {
		c.dev = nil
		c.stopCh = nil
	}
	c.mu.Unlock()
	if err := dev.Close(); err != nil {
		slog.Debug("capture: close input", "err", err)
	}
}

// Stop ends the active Stream or RecordUtterance and releases the device.
// It is idempotent and safe to call when nothing is running.
func (c *Capturer) Stop() {
	c.mu.Lock()
	dev, stop := c.dev, c.stopCh
	c.dev = nil
	c.stopCh = nil
	c.mu.Unlock()
	if dev == nil {
		return
	}
	close(stop)
	// Closing the device unblocks a pending Read.
	if err := dev.Close(); err != nil {
		slog.Debug("capture: close input", "err", err)
	}
}

// Stream opens the microphone and emits frames at sampleRate until Stop or
// ctx cancellation, then closes the channel. A device that runs faster than
// sampleRate is downsampled; a slower one is passed through at its own rate.
// It returns [audio.ErrDeviceUnavailable] (wrapped) if the device cannot open.
func (c *Capturer) Stream(ctx context.Context, sampleRate int) (<-chan audio.AudioFrame, error) {
	dev, stop, err := c.open(sampleRate)
	if err != nil {
		return nil, err
	}
	out := make(chan audio.AudioFrame, streamBuffer)
	go func() {
		defer close(out)
		defer c.release(dev)

		conv := audio.Downsampler{Target: sampleRate}
		var ts time.Duration
		for {
			pcm, err := dev.Read()
			if err != nil {
				if !isStopped(stop) && ctx.Err() == nil && !errors.Is(err, io.EOF) {
					slog.Warn("capture: read failed, ending stream", "err", err)
				}
				return
			}
			raw := audio.AudioFrame{Data: pcm, SampleRate: dev.SampleRate(), Timestamp: ts}
			ts += raw.Duration()
			frame := conv.Convert(raw)
			if len(frame.Data) == 0 {
				continue
			}
			select {
			case out <- frame:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RecordUtterance opens the microphone and blocks until one utterance has
// been captured: speech must rise above the RMS threshold after the settle
// window, and the call returns once silenceTimeout of continuous quiet has
// followed. Stop finalizes immediately with whatever speech was captured
// (empty if speech never started). ctx cancellation does the same but also
// returns ctx.Err().
func (c *Capturer) RecordUtterance(ctx context.Context, silenceTimeout time.Duration, sampleRate int) (Utterance, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	sess, err := c.vad.NewSession(vad.Config{
		SampleRate:      sampleRate,
		SpeechThreshold: c.cfg.RMSThreshold,
		SettleWindow:    c.cfg.SettleWindow,
		SilenceTimeout:  silenceTimeout,
	})
	if err != nil {
		return Utterance{}, fmt.Errorf("capture: vad session: %w", err)
	}
	defer sess.Close()

	dev, stop, err := c.open(sampleRate)
	if err != nil {
		return Utterance{}, err
	}
	defer c.release(dev)

	// ctx cancellation closes the device so a blocked Read returns.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = dev.Close()
		case <-watchDone:
		case <-stop:
		}
	}()

	utt := Utterance{SampleRate: sampleRate}
	conv := audio.Downsampler{Target: sampleRate}
	var ts time.Duration
	speaking := false
	for {
		pcm, err := dev.Read()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return utt, ctx.Err()
			case isStopped(stop), errors.Is(err, io.EOF):
				return utt, nil
			default:
				return utt, fmt.Errorf("capture: read: %w", err)
			}
		}
		raw := audio.AudioFrame{Data: pcm, SampleRate: dev.SampleRate(), Timestamp: ts}
		ts += raw.Duration()
		frame := conv.Convert(raw)
		if len(frame.Data) == 0 {
			continue
		}
		utt.SampleRate = frame.SampleRate

		ev, err := sess.ProcessFrame(frame.Data)
		if err != nil {
			return utt, fmt.Errorf("capture: vad: %w", err)
		}
		switch ev.Type {
		case vad.VADSpeechStart:
			speaking = true
			utt.Onset = frame.Timestamp
			utt.PCM = append(utt.PCM, frame.Data...)
			slog.Debug("capture: speech started", "onset", utt.Onset, "rms", ev.Level)
		case vad.VADSpeechContinue:
			if speaking {
				utt.PCM = append(utt.PCM, frame.Data...)
			}
		case vad.VADSpeechEnd:
			slog.Debug("capture: utterance complete", "duration", utt.Duration())
			return utt, nil
		}
	}
}

func isStopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
