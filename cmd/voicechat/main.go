package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wenzhen/server/adapters/audio"
	"github.com/wenzhen/server/internal/capture"
	"github.com/wenzhen/server/internal/config"
	"github.com/wenzhen/server/internal/logging"
	"github.com/wenzhen/server/internal/relayclient"
	"github.com/wenzhen/server/internal/tui"
	"github.com/wenzhen/server/internal/voice"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewFile(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := relayclient.New(relayclient.Config{
		BaseURL: cfg.RelayURL,
		Token:   cfg.RelayToken,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create relay client: %w", err)
	}

	conversationID := cfg.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	// Voice input is optional; without a microphone the client is text only
	var recognizer voice.Recognizer
	captureRecognizer, err := voice.NewCaptureRecognizer(audio.Open(logger), client, capture.Config{
		Threshold:     cfg.VADThreshold,
		SilenceWindow: cfg.VADSilence,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}
	if selected, err := voice.Select(logger, captureRecognizer); err == nil {
		recognizer = selected
	} else {
		logger.Warn("Voice input disabled", zap.Error(err))
	}

	logger.Info("Starting voice chat",
		zap.String("relay", cfg.RelayURL),
		zap.String("conversationID", conversationID),
		zap.Bool("voice", recognizer != nil))

	p := tea.NewProgram(tui.New(client, recognizer, conversationID), tea.WithAltScreen())
	tui.Bind(p, recognizer)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run terminal ui: %w", err)
	}
	captureRecognizer.Close()
	return nil
}
