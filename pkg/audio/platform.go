// Package audio defines the PCM frame type, the device abstractions used by
// capture and playback, and the sample-level helpers (resampling, RMS, WAV
// containers) shared by every voice session.
//
// The two device abstractions are:
//
//   - [InputDevice]: a blocking microphone stream that fills caller buffers.
//   - [OutputDevice]: a blocking speaker stream whose Write applies backpressure.
//
// Both are obtained from a [DeviceOpener]. The production opener lives in the
// audio/portaudio package; audio/mock provides scriptable in-memory devices.
//
// This package lives under pkg/ because external code is expected to supply
// its own [DeviceOpener] implementations.
package audio

import (
	"errors"
)

// ErrDeviceUnavailable is returned (wrapped) when an audio device cannot be
// opened. It is fatal to the session that requested the device.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// DeviceConfig describes the stream a caller wants from a device.
type DeviceConfig struct {
	// SampleRate requested in Hz. The device may run at a different native rate;
	// see [InputDevice.SampleRate].
	SampleRate int

	// FramesPerBuffer is the number of samples delivered or consumed per call.
	FramesPerBuffer int
}

// InputDevice is an open microphone stream.
//
// Read blocks until a buffer of FramesPerBuffer samples has been captured and
// returns it as s16le bytes. Implementations need not be safe for concurrent
// Read calls, but Close must be safe to call concurrently with a blocked Read
// and must make that Read return.
type InputDevice interface {
	// Read returns the next captured buffer.
	Read() ([]byte, error)

	// SampleRate reports the rate the device actually captures at.
	SampleRate() int

	// Close stops the stream and releases the device. Safe to call more than once.
	Close() error
}

// OutputDevice is an open speaker stream.
//
// Write blocks until the device has accepted pcm, which is how playback
// observes device backpressure. Abort drops anything the device still holds
// and makes a blocked Write return; Close drains first.
type OutputDevice interface {
	// Write plays pcm (s16le mono at the opened rate).
	Write(pcm []byte) error

	// Abort stops immediately without draining buffered audio.
	Abort() error

	// Close drains buffered audio, stops the stream and releases the device.
	Close() error
}

// DeviceOpener opens input and output devices. Implementations must be safe
// for concurrent use; every session opens its own devices.
type DeviceOpener interface {
	OpenInput(cfg DeviceConfig) (InputDevice, error)
	OpenOutput(cfg DeviceConfig) (OutputDevice, error)
}
