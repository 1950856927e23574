package repositories

import (
	"context"
	"errors"
)

// Microphone acquires exclusive capture devices
type Microphone interface {
	// Open acquires the device and starts capturing. A denied or missing
	// device is reported as an error and nothing is held.
	Open(ctx context.Context) (Recording, error)
	// Available reports whether the backend can be used on this host
	Available() bool
}

// Recording is a live capture held by exactly one owner
type Recording interface {
	// Level returns the amplitude of the most recent audio, normalized to [0, 1]
	Level() float64
	// Finish stops capturing, releases the device and returns the recording
	// as a WAV container.
	Finish() ([]byte, error)
	// Close stops capturing and discards the audio. Safe to call after Finish.
	Close() error
}

// ErrPermissionDenied is returned by Open when access to the microphone is refused
var ErrPermissionDenied = errors.New("microphone permission denied")

// ErrNoMicrophone is returned when no capture backend can be used
var ErrNoMicrophone = errors.New("no microphone available")
