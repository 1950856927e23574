package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV wraps mono PCM16 samples in a WAV container
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	out := &memoryFile{}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: bitDepth,
	}
	for i, sample := range samples {
		buf.Data[i] = int(sample)
	}

	if err := enc.Write(buf); err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize wav: %w", err)
	}
	return out.data, nil
}

// memoryFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type memoryFile struct {
	data []byte
	pos  int
}

func (m *memoryFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.data) {
		if end > cap(m.data) {
			grown := make([]byte, len(m.data), 2*end)
			copy(grown, m.data)
			m.data = grown
		}
		m.data = m.data[:end]
	}
	copy(m.data[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	var base int
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = len(m.data)
	default:
		return 0, errors.New("invalid whence")
	}
	pos := base + int(offset)
	if pos < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = pos
	return int64(pos), nil
}
