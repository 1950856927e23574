package entities

import (
	"fmt"
	"time"
)

// TranscriptResult is the normalized outcome of one transcription call.
// An empty Text with no Error means no speech was detected.
type TranscriptResult struct {
	Text   string `json:"text"`
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Failed reports whether the result carries an error
func (r TranscriptResult) Failed() bool {
	return r.Error != ""
}

// TranscriptionError describes a transport or parse failure of the speech
// provider. It is never coerced into an empty transcript.
type TranscriptionError struct {
	Kind   string
	Status int
	Detail string
	Err    error
}

// Transcription error kinds
const (
	TranscriptionErrorTransport = "transport"
	TranscriptionErrorStatus    = "status"
	TranscriptionErrorParse     = "parse"
	TranscriptionErrorInput     = "input"
)

func (e *TranscriptionError) Error() string {
	msg := "transcription failed (" + e.Kind + ")"
	if e.Status != 0 {
		msg += fmt.Sprintf(" status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// AmplitudeSample is one live amplitude reading. T is the offset from the
// start of the recording, Level is normalized to [0, 1].
type AmplitudeSample struct {
	T     time.Duration
	Level float64
}
