package capture

import (
	"time"

	"github.com/wenzhen/server/domain/entities"
)

// SilenceDetector tracks when a recording has been quiet for a full window.
// It is armed at the start of the recording; every sample louder than the
// threshold pushes the deadline to the sample time plus the window.
type SilenceDetector struct {
	threshold float64
	window    time.Duration
	deadline  time.Duration
}

// NewSilenceDetector creates a detector armed at t=0
func NewSilenceDetector(threshold float64, window time.Duration) *SilenceDetector {
	return &SilenceDetector{
		threshold: threshold,
		window:    window,
		deadline:  window,
	}
}

// Observe records one sample and reports whether it re-armed the deadline
func (d *SilenceDetector) Observe(sample entities.AmplitudeSample) bool {
	if sample.Level <= d.threshold {
		return false
	}
	d.deadline = sample.T + d.window
	return true
}

// Deadline is the recording offset at which silence ends the recording
func (d *SilenceDetector) Deadline() time.Duration {
	return d.deadline
}

// Expired reports whether the window has fully elapsed at offset t
func (d *SilenceDetector) Expired(t time.Duration) bool {
	return t >= d.deadline
}
