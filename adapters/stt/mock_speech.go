package stt

import (
	"context"

	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
)

// MockSpeechToText is a placeholder implementation for speech recognition
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// TranscribeAudio returns a canned transcript that depends on the recording size
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	s.logger.Info("Processing mock recording",
		zap.Int("size", len(audioData)),
		zap.String("encoding", config.Encoding))

	// Mock different responses based on recording size
	switch {
	case len(audioData) == 0:
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorInput, Detail: "empty recording"}
	case len(audioData) > 64000:
		return "医生您好，我最近耳鸣很厉害，晚上睡不好。", nil
	case len(audioData) > 16000:
		return "鼻子总是不通气。", nil
	case len(audioData) > 1000:
		return "您好", nil
	default:
		// Too short to contain speech
		return "", nil
	}
}
