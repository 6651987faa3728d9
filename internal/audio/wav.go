package audio

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV serializes float samples into a 16-bit linear-PCM WAV byte
// stream. Samples are clamped to [-1, 1] before scaling. An empty sample
// slice produces a valid container with a zero-length data section.
// Nothing partial is ever returned: any write or finalize failure yields
// an error and no bytes.
func EncodeWAV(samples []float32, sampleRate, channels uint32) ([]byte, error) {
	buf := &seekBuffer{}
	enc := wav.NewEncoder(buf, int(sampleRate), 16, int(channels), 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		data[i] = int(int16(s * 32767.0))
	}

	if err := enc.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: int(channels),
			SampleRate:  int(sampleRate),
		},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		return nil, fmt.Errorf("failed to write WAV samples: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV data: %w", err)
	}

	return buf.Bytes(), nil
}

// seekBuffer is a minimal in-memory io.WriteSeeker. The WAV encoder needs
// to seek back and patch the RIFF header sizes on Close, which rules out
// bytes.Buffer.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		if need > cap(b.data) {
			grown := make([]byte, need, need*2)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:need]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position: %d", next)
	}
	b.pos = int(next)
	return next, nil
}

func (b *seekBuffer) Bytes() []byte {
	return b.data
}
