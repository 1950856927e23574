package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
)

const defaultGoogleLanguage = "cmn-Hans-CN"

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	logger   *zap.Logger
	language string
}

// NewGoogleSpeechToText creates a recognizer using application default credentials
func NewGoogleSpeechToText(language string, logger *zap.Logger) *GoogleSpeechToText {
	if language == "" {
		language = defaultGoogleLanguage
		logger.Info("Using default recognition language", zap.String("language", language))
	}
	return &GoogleSpeechToText{logger: logger, language: language}
}

// TranscribeAudio converts audio data to text using Google Cloud Speech-to-Text (non-streaming)
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorInput, Detail: "empty recording"}
	}

	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorInput, Detail: err.Error()}
	}

	language := config.Language
	if language == "" {
		language = g.language
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorTransport, Detail: "failed to create speech client", Err: err}
	}
	defer client.Close()

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:     encoding,
		LanguageCode: language,
	}
	// WAV carries its own header; only raw encodings need an explicit rate
	if config.SampleRate > 0 && encoding != speechpb.RecognitionConfig_ENCODING_UNSPECIFIED {
		recognitionConfig.SampleRateHertz = int32(config.SampleRate)
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorTransport, Detail: "recognize failed", Err: err}
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			// Take the best alternative
			parts = append(parts, result.Alternatives[0].Transcript)
		}
	}

	text := strings.TrimSpace(strings.Join(parts, ""))
	g.logger.Info("Transcription completed",
		zap.Int("results", len(resp.Results)),
		zap.Int("length", len([]rune(text))))
	return text, nil
}

// getAudioEncoding converts string encoding to Google Speech API enum.
// WAV maps to unspecified so the service reads the container header.
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "", "WAV":
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, nil
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
