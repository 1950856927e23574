package repositories

import "context"

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts one finished recording to text. An empty
	// transcript with a nil error means no speech was detected; failures are
	// reported as *entities.TranscriptionError.
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (string, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate  int    `json:"sample_rate"`
	Encoding    string `json:"encoding"`
	Language    string `json:"language"`
	ContentType string `json:"content_type,omitempty"`
}
