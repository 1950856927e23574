package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
)

const (
	// DefaultSampleRate is the capture rate used by every backend
	DefaultSampleRate = 16000
	channels          = 1
	bitDepth          = 16
)

// ErrRecordingClosed is returned by Finish after the recording was released
var ErrRecordingClosed = errors.New("recording already closed")

// RMS returns the root mean square of PCM16 samples normalized to [0, 1]
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	return math.Sqrt(energy/float64(len(samples))) / 32768.0
}

// decodePCM16 converts little-endian PCM16 bytes to samples
func decodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

// pcmRecording collects captured frames for one Recording. Backends push
// frames from their capture callback; release stops and frees the device
// exactly once.
type pcmRecording struct {
	sampleRate int
	release    func() error

	mu      sync.Mutex
	samples []int16
	level   float64
	closed  bool
	once    sync.Once
	relErr  error
}

func newPCMRecording(sampleRate int, release func() error) *pcmRecording {
	return &pcmRecording{
		sampleRate: sampleRate,
		release:    release,
		samples:    make([]int16, 0, sampleRate*10),
	}
}

// push appends one captured frame and updates the live level
func (r *pcmRecording) push(frame []int16) {
	if len(frame) == 0 {
		return
	}
	level := RMS(frame)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.samples = append(r.samples, frame...)
	r.level = level
}

// Level returns the amplitude of the last captured frame
func (r *pcmRecording) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Finish releases the device and encodes the captured audio as WAV
func (r *pcmRecording) Finish() ([]byte, error) {
	if err := r.releaseDevice(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRecordingClosed
	}
	r.closed = true
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	return EncodeWAV(samples, r.sampleRate)
}

// Close releases the device and drops the audio
func (r *pcmRecording) Close() error {
	err := r.releaseDevice()

	r.mu.Lock()
	r.closed = true
	r.samples = nil
	r.mu.Unlock()
	return err
}

func (r *pcmRecording) releaseDevice() error {
	r.once.Do(func() {
		if r.release != nil {
			r.relErr = r.release()
		}
	})
	return r.relErr
}
