// Package portaudio implements [audio.DeviceOpener] on top of the PortAudio
// host API using blocking streams. A blocking Write only returns once the
// host has room for the buffer, which gives playback natural backpressure.
//
// PortAudio's global Initialize/Terminate pair is reference counted per open
// device, so every session may own its own [Opener] without coordinating.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
)

var _ audio.DeviceOpener = (*Opener)(nil)

var (
	initMu   sync.Mutex
	initRefs int
)

func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return err
		}
	}
	initRefs++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	initRefs--
	if initRefs == 0 {
		if err := pa.Terminate(); err != nil {
			slog.Debug("portaudio: terminate", "err", err)
		}
	}
}

// Opener opens the host's default input and output devices.
type Opener struct {
	// NativeInputRate, when true, opens the microphone at the device's default
	// rate instead of the requested one; callers then downsample.
	NativeInputRate bool
}

// OpenInput implements [audio.DeviceOpener].
func (o *Opener) OpenInput(cfg audio.DeviceConfig) (audio.InputDevice, error) {
	if err := acquire(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	dev, err := pa.DefaultInputDevice()
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: default input: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	rate := cfg.SampleRate
	frames := cfg.FramesPerBuffer
	if o.NativeInputRate && int(dev.DefaultSampleRate) > rate {
		native := int(dev.DefaultSampleRate)
		frames = frames * native / rate
		rate = native
	}

	buf := make([]int16, frames)
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: frames,
	}
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open input %q: %w: %w", dev.Name, audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start input %q: %w: %w", dev.Name, audio.ErrDeviceUnavailable, err)
	}
	slog.Debug("portaudio: input opened", "device", dev.Name, "rate", rate, "frames", frames)
	return &inputStream{stream: stream, buf: buf, rate: rate}, nil
}

// OpenOutput implements [audio.DeviceOpener].
func (o *Opener) OpenOutput(cfg audio.DeviceConfig) (audio.OutputDevice, error) {
	if err := acquire(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	dev, err := pa.DefaultOutputDevice()
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: default output: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	buf := make([]int16, cfg.FramesPerBuffer)
	params := pa.StreamParameters{
		Output: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open output %q: %w: %w", dev.Name, audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start output %q: %w: %w", dev.Name, audio.ErrDeviceUnavailable, err)
	}
	slog.Debug("portaudio: output opened", "device", dev.Name, "rate", cfg.SampleRate)
	return &outputStream{stream: stream, buf: buf}, nil
}

// ─── input ───────────────────────────────────────────────────────────────────

type inputStream struct {
	stream *pa.Stream
	buf    []int16
	rate   int

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (s *inputStream) Read() ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("portaudio: input closed")
	}
	s.mu.Unlock()

	if err := s.stream.Read(); err != nil {
		// Overflow means we were late; the buffer still holds fresh samples.
		if !errors.Is(err, pa.InputOverflowed) {
			return nil, fmt.Errorf("portaudio: read: %w", err)
		}
	}
	return audio.Int16ToBytes(s.buf), nil
}

func (s *inputStream) SampleRate() int { return s.rate }

func (s *inputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		// Abort unblocks a Read in progress on another goroutine.
		err = errors.Join(s.stream.Abort(), s.stream.Close())
		release()
	})
	return err
}

// ─── output ──────────────────────────────────────────────────────────────────

type outputStream struct {
	stream *pa.Stream
	buf    []int16

	// mu serialises writes with teardown; buf is shared with the stream.
	mu        sync.Mutex
	closeOnce sync.Once
	done      bool
}

// Write splits pcm into stream-sized buffers and blocks on each.
func (s *outputStream) Write(pcm []byte) error {
	samples := audio.BytesToInt16(pcm)
	for len(samples) > 0 {
		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			return errors.New("portaudio: output closed")
		}
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		s.mu.Unlock()

		if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
		samples = samples[n:]
	}
	return nil
}

func (s *outputStream) Abort() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		err = errors.Join(s.stream.Abort(), s.stream.Close())
		release()
	})
	return err
}

func (s *outputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		// Stop lets PortAudio play out what it already holds.
		err = errors.Join(s.stream.Stop(), s.stream.Close())
		release()
	})
	return err
}
