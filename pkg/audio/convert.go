package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Downsampler converts captured frames to a target rate. Only downsampling is
// performed: a source at or below the target rate is passed through unchanged
// and keeps its real rate tag. It logs once per stream on the first mismatch.
// Create one per stream; not designed for shared use across goroutines.
type Downsampler struct {
	Target int

	warnedUpsample sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame at the target rate, or unchanged when the source rate
// is not higher than the target. Frames with an odd byte count are dropped
// (returned with nil Data).
func (d *Downsampler) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%BytesPerSample != 0 {
		d.warnedCorrupt.Do(func() {
			slog.Warn("audio downsampler: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
			)
		})
		return AudioFrame{SampleRate: frame.SampleRate, Timestamp: frame.Timestamp}
	}
	if frame.SampleRate <= d.Target {
		if frame.SampleRate < d.Target {
			d.warnedUpsample.Do(func() {
				slog.Warn("audio downsampler: source rate below target, passing through",
					"source", frame.SampleRate,
					"target", d.Target,
				)
			})
		}
		return frame
	}
	return AudioFrame{
		Data:       Downsample(frame.Data, frame.SampleRate, d.Target),
		SampleRate: d.Target,
		Timestamp:  frame.Timestamp,
	}
}

// Downsample reduces 16-bit mono PCM from srcRate to dstRate with linear
// interpolation. It refuses to upsample: when dstRate >= srcRate the input is
// returned unchanged.
func Downsample(pcm []byte, srcRate, dstRate int) []byte {
	if dstRate >= srcRate {
		return pcm
	}
	return ResampleMono16(pcm, srcRate, dstRate)
}

// ResampleMono16 converts little-endian 16-bit mono PCM between rates by
// linear interpolation. Equal or non-positive rates return pcm as is.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	in := BytesToInt16(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	step := float64(srcRate) / float64(dstRate)
	out := make([]int16, n)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		a, b := float64(in[j]), float64(in[min(j+1, last)])
		out[i] = int16(a + (b-a)*(pos-float64(j)))
	}
	return Int16ToBytes(out)
}

// Int16ToBytes encodes samples as little-endian PCM.
func Int16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToInt16 decodes little-endian PCM into samples. A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Float32ToInt16 converts normalised float samples in [-1, 1] to int16 PCM
// bytes, clamping out-of-range values.
func Float32ToInt16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(f*32767)))
	}
	return buf
}
