package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square amplitude of s16le mono PCM, in raw int16
// units (0 to 32768). An empty buffer has an RMS of zero.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
