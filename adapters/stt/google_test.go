package stt_test

import (
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/wenzhen/server/adapters/stt"
	"github.com/wenzhen/server/domain/repositories"
)

var (
	_ repositories.SpeechToText = &stt.GoogleSpeechToText{}
	_ repositories.SpeechToText = &stt.VolcengineSpeechToText{}
	_ repositories.SpeechToText = &stt.MockSpeechToText{}
)

func TestGetAudioEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    speechpb.RecognitionConfig_AudioEncoding
		wantErr bool
	}{
		{"WAV", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, false},
		{"", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, false},
		{"linear16", speechpb.RecognitionConfig_LINEAR16, false},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS, false},
		{"MP3", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, true},
	}

	for _, tt := range tests {
		got, err := stt.GetAudioEncoding(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("GetAudioEncoding(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("GetAudioEncoding(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
