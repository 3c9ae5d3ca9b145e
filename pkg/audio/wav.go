package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
)

// ErrInvalidWAV is returned (wrapped) when a buffer is not a RIFF/WAVE
// container holding mono 16-bit PCM.
var ErrInvalidWAV = errors.New("audio: invalid WAV")

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	DataOffset    int // byte offset of the first PCM sample
	DataSize      int // length of the data chunk in bytes
	SampleRate    int
	Channels      int
	BitsPerSample int
	Format        int // 1 = integer PCM
}

// EncodeWAV wraps mono s16le pcm in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const channels = 1
	const bits = 16
	byteRate := sampleRate * channels * bits / 8
	blockAlign := channels * bits / 8

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bits)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// ParseWAV scans the RIFF/WAVE container in wav and returns the data offset
// and audio format from the "fmt " sub-chunk. The fmt chunk size may vary and
// extra chunks (LIST, fact) are skipped.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, fmt.Errorf("%w: too short to be a RIFF file", ErrInvalidWAV)
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("%w: missing WAVE identifier", ErrInvalidWAV)
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return WAVInfo{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			fmtData := wav[offset+8:]
			info.Format = int(binary.LittleEndian.Uint16(fmtData[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			info.DataOffset = offset + 8
			// Streamed WAVs often carry a placeholder size; clamp to what is present.
			info.DataSize = min(chunkSize, len(wav)-info.DataOffset)
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// DecodeWAV returns the PCM payload and sample rate of a mono 16-bit PCM WAV.
// Any other encoding is rejected with [ErrInvalidWAV].
func DecodeWAV(wav []byte) ([]byte, int, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, 0, err
	}
	if info.Format != wavFormatPCM || info.Channels != 1 || info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("%w: want mono 16-bit PCM, got format=%d channels=%d bits=%d",
			ErrInvalidWAV, info.Format, info.Channels, info.BitsPerSample)
	}
	pcm := wav[info.DataOffset : info.DataOffset+info.DataSize]
	return pcm[:len(pcm)-len(pcm)%BytesPerSample], info.SampleRate, nil
}
