package usecase

import (
	"context"
	"mime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
	"github.com/wenzhen/server/internal/metrics"
)

// SpeechService transcribes one uploaded recording per call
type SpeechService struct {
	speechToText repositories.SpeechToText
	language     string
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// SpeechOption configures a SpeechService
type SpeechOption func(*SpeechService)

// WithSpeechMetrics records transcription outcomes
func WithSpeechMetrics(m *metrics.Metrics) SpeechOption {
	return func(s *SpeechService) {
		s.metrics = m
	}
}

// NewSpeechService creates a new speech service
func NewSpeechService(stt repositories.SpeechToText, language string, logger *zap.Logger, opts ...SpeechOption) *SpeechService {
	s := &SpeechService{speechToText: stt, language: language, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcribe returns the transcript of the recording. An empty transcript
// with a nil error means no speech was detected.
func (s *SpeechService) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorInput, Detail: "empty recording"}
	}

	config := repositories.AudioConfig{
		Encoding:    encodingForContentType(contentType),
		Language:    s.language,
		ContentType: contentType,
	}

	s.logger.Info("Transcribing recording",
		zap.Int("size", len(audio)),
		zap.String("contentType", contentType),
		zap.String("encoding", config.Encoding))

	start := time.Now()
	text, err := s.speechToText.TranscribeAudio(ctx, audio, config)
	if err != nil {
		s.metrics.RecordTranscription(metrics.TranscriptionFailed, time.Since(start))
		s.logger.Error("Transcription failed", zap.Error(err))
		return "", err
	}
	if text == "" {
		s.metrics.RecordTranscription(metrics.TranscriptionEmpty, time.Since(start))
		s.logger.Info("No speech detected")
		return "", nil
	}
	s.metrics.RecordTranscription(metrics.TranscriptionText, time.Since(start))
	return text, nil
}

// encodingForContentType maps upload content types to recognizer encodings
func encodingForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(contentType)
	}

	switch mediaType {
	case "audio/webm":
		return "WEBM_OPUS"
	case "audio/ogg", "audio/opus":
		return "OGG_OPUS"
	case "audio/flac", "audio/x-flac":
		return "FLAC"
	default:
		return "WAV"
	}
}
