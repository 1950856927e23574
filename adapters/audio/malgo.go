package audio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/repositories"
)

// MalgoMicrophone captures from the default input device through miniaudio
type MalgoMicrophone struct {
	sampleRate int
	logger     *zap.Logger
}

// NewMalgoMicrophone creates a miniaudio backed microphone
func NewMalgoMicrophone(sampleRate int, logger *zap.Logger) *MalgoMicrophone {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &MalgoMicrophone{sampleRate: sampleRate, logger: logger}
}

// Available reports whether a miniaudio context can be created
func (m *MalgoMicrophone) Available() bool {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return false
	}
	_ = audioCtx.Uninit()
	audioCtx.Free()
	return true
}

// Open initializes and starts a mono PCM16 capture device
func (m *MalgoMicrophone) Open(ctx context.Context) (repositories.Recording, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.logger.Debug("malgo", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", classifyOpenError(err))
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(m.sampleRate)
	config.Capture.Format = format
	config.Capture.Channels = channels
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency

	var rec *pcmRecording
	device, err := malgo.InitDevice(audioCtx.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			rec.push(decodePCM16(pInput[:n]))
		},
	})
	if err != nil {
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return nil, fmt.Errorf("failed to initialize capture device: %w", classifyOpenError(err))
	}

	rec = newPCMRecording(m.sampleRate, func() error {
		var stopErr error
		if device.IsStarted() {
			stopErr = device.Stop()
		}
		device.Uninit()
		_ = audioCtx.Uninit()
		audioCtx.Free()
		if stopErr != nil {
			return fmt.Errorf("failed to stop capture device: %w", stopErr)
		}
		return nil
	})

	if err := device.Start(); err != nil {
		_ = rec.Close()
		return nil, fmt.Errorf("failed to start capture device: %w", classifyOpenError(err))
	}

	m.logger.Info("Microphone opened", zap.String("backend", "malgo"), zap.Int("sampleRate", m.sampleRate))
	return rec, nil
}
