package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/repositories"
)

const portAudioFrames = 1024

// PortAudioMicrophone captures from the default input device through PortAudio
type PortAudioMicrophone struct {
	sampleRate int
	logger     *zap.Logger
}

// NewPortAudioMicrophone creates a PortAudio backed microphone
func NewPortAudioMicrophone(sampleRate int, logger *zap.Logger) *PortAudioMicrophone {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &PortAudioMicrophone{sampleRate: sampleRate, logger: logger}
}

// Available reports whether PortAudio sees a default input device
func (m *PortAudioMicrophone) Available() bool {
	if err := portaudio.Initialize(); err != nil {
		return false
	}
	defer portaudio.Terminate()
	device, err := portaudio.DefaultInputDevice()
	return err == nil && device != nil
}

// Open starts a blocking-read stream drained by a reader goroutine
func (m *PortAudioMicrophone) Open(ctx context.Context) (repositories.Recording, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", classifyOpenError(err))
	}

	in := make([]int16, portAudioFrames)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(m.sampleRate), len(in), in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", classifyOpenError(err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", classifyOpenError(err))
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup

	rec := newPCMRecording(m.sampleRate, func() error {
		close(stop)
		wg.Wait()
		stopErr := stream.Stop()
		stream.Close()
		portaudio.Terminate()
		if stopErr != nil {
			return fmt.Errorf("failed to stop input stream: %w", stopErr)
		}
		return nil
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := stream.Read(); err != nil {
				m.logger.Warn("Failed to read from input stream", zap.Error(err))
				continue
			}
			frame := make([]int16, len(in))
			copy(frame, in)
			rec.push(frame)
		}
	}()

	m.logger.Info("Microphone opened", zap.String("backend", "portaudio"), zap.Int("sampleRate", m.sampleRate))
	return rec, nil
}
