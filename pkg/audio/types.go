package audio

import "time"

// BytesPerSample is the width of one signed 16-bit little-endian PCM sample.
const BytesPerSample = 2

// AudioFrame is a single chunk of mono s16le PCM flowing through a session.
// Frames are produced by capture devices and remote endpoints and consumed by
// playback or the remote connection. A frame is never mutated after it has
// been handed to a consumer; ownership moves with the value.
type AudioFrame struct {
	// Data holds little-endian int16 samples, one channel.
	Data []byte

	// SampleRate in Hz (16000 for microphone input, 24000 for model output).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples reports the number of whole samples in the frame.
func (f AudioFrame) Samples() int {
	return len(f.Data) / BytesPerSample
}

// Duration reports how long the frame plays at its sample rate.
func (f AudioFrame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate)
}

// PCMDuration converts a byte count of mono s16le PCM at rate into playback time.
// It returns zero for a non-positive rate.
func PCMDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := int64(n / BytesPerSample)
	return time.Duration(samples * int64(time.Second) / int64(rate))
}

// PCMBytes is the inverse of [PCMDuration]: the number of bytes needed to hold
// d of mono s16le PCM at rate, rounded down to a whole sample.
func PCMBytes(d time.Duration, rate int) int {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(d)*int64(rate)/int64(time.Second)) * BytesPerSample
}
