package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"WARN", zap.WarnLevel},
		{"warning", zap.WarnLevel},
		{"error", zap.ErrorLevel},
		{"", zap.InfoLevel},
		{"verbose", zap.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, level := range []string{"debug", "info", "error"} {
		logger, err := New(level)
		if err != nil {
			t.Fatalf("New(%q) returned error: %v", level, err)
		}
		if logger == nil {
			t.Fatalf("New(%q) returned nil logger", level)
		}
	}

	logger, _ := New("error")
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Error("Error level logger should not enable info")
	}
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")

	logger, err := NewFile("info", path)
	if err != nil {
		t.Fatalf("NewFile returned error: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("recording started")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "recording started") {
		t.Errorf("Expected info line in log file, got %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("Debug line should be filtered at info level")
	}
}
