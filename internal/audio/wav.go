package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// WAV holds a decoded RIFF/WAVE file with 16-bit PCM payload.
type WAV struct {
	Channels   int
	SampleRate int
	Data       []byte // interleaved little-endian PCM16
}

// ParseWAV decodes a RIFF/WAVE container with a PCM16 data chunk. Unknown
// chunks are skipped.
func ParseWAV(raw []byte) (*WAV, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: not a RIFF/WAVE container")
	}

	w := &WAV{}
	haveFmt := false
	pos := 12
	for pos+8 <= len(raw) {
		chunkID := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(raw) {
			size = len(raw) - body
		}

		switch chunkID {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(raw[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("wav: unsupported format %d, want PCM", format)
			}
			w.Channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(raw[body+14 : body+16])
			if bits != 16 {
				return nil, fmt.Errorf("wav: unsupported bit depth %d", bits)
			}
			haveFmt = true
		case "data":
			w.Data = raw[body : body+size]
		}

		pos = body + size
		if size%2 == 1 {
			pos++ // chunk bodies are word-aligned
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("wav: missing fmt chunk")
	}
	if w.Data == nil {
		return nil, fmt.Errorf("wav: missing data chunk")
	}
	if w.Channels < 1 || w.SampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid fmt (channels=%d rate=%d)", w.Channels, w.SampleRate)
	}
	return w, nil
}

// Duration reports the playback length of the audio payload.
func (w *WAV) Duration() time.Duration {
	bytesPerSecond := w.SampleRate * w.Channels * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(len(w.Data)) * time.Second / time.Duration(bytesPerSecond)
}

// SplitStereo separates a two-channel recording into two mono WAV files,
// one per call party.
func (w *WAV) SplitStereo() (left, right []byte, err error) {
	if w.Channels != 2 {
		return nil, nil, fmt.Errorf("wav: split requires 2 channels, have %d", w.Channels)
	}

	frames := len(w.Data) / 4
	leftData := make([]byte, 0, frames*2)
	rightData := make([]byte, 0, frames*2)
	for i := 0; i < frames; i++ {
		base := i * 4
		leftData = append(leftData, w.Data[base], w.Data[base+1])
		rightData = append(rightData, w.Data[base+2], w.Data[base+3])
	}

	return EncodeWAV(leftData, 1, w.SampleRate), EncodeWAV(rightData, 1, w.SampleRate), nil
}

// EncodeWAV wraps PCM16 data in a RIFF/WAVE container.
func EncodeWAV(data []byte, channels, sampleRate int) []byte {
	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	out := make([]byte, 0, 44+len(data))
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(data)))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1) // PCM
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(byteRate))
	out = binary.LittleEndian.AppendUint16(out, uint16(blockAlign))
	out = binary.LittleEndian.AppendUint16(out, 16) // bits per sample
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, data...)
	return out
}
