package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/wenzhen/server/adapters/llm"
	"github.com/wenzhen/server/adapters/mongo"
	"github.com/wenzhen/server/adapters/storage"
	"github.com/wenzhen/server/adapters/stt"
	"github.com/wenzhen/server/domain/repositories"
	"github.com/wenzhen/server/internal/api"
	"github.com/wenzhen/server/internal/auth"
	"github.com/wenzhen/server/internal/config"
	"github.com/wenzhen/server/internal/logging"
	"github.com/wenzhen/server/internal/metrics"
	"github.com/wenzhen/server/internal/websocket"
	"github.com/wenzhen/server/usecase"
)

const (
	bodyLimit = "12M"
	tokenTTL  = 30 * 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// token <client-id> prints a bearer token for the voice chat client
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(cfg, os.Args[2:]); err != nil {
			logger.Fatal("Failed to generate token", zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	chatModel, err := newLLM(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM provider", zap.Error(err))
	}
	speechToText, err := newSpeechToText(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize speech provider", zap.Error(err))
	}
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer closeStore()

	// Initialize usecase services
	m := metrics.New()
	historyService := usecase.NewHistoryService(store, logger)
	chatService := usecase.NewChatService(chatModel, historyService, logger, usecase.WithChatMetrics(m))
	speechService := usecase.NewSpeechService(speechToText, cfg.STTLanguage, logger, usecase.WithSpeechMetrics(m))

	hub := websocket.NewHub(chatService, logger)
	go hub.Run(ctx)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(bodyLimit))

	// Initialize API routes
	api.InitRoutes(e, api.Services{
		Chat:      chatService,
		Speech:    speechService,
		History:   historyService,
		Hub:       hub,
		Metrics:   m,
		JWTSecret: []byte(cfg.JWTSecret),
	}, logger)
	if cfg.JWTSecret == "" {
		logger.Warn("RELAY_JWT_SECRET is not set, relay endpoints are unauthenticated")
	}

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay started",
		zap.String("port", cfg.Port),
		zap.String("llm", cfg.LLMProvider),
		zap.String("stt", cfg.STTProvider),
		zap.String("storage", cfg.StorageDriver))

	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLLM(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch cfg.LLMProvider {
	case config.LLMProviderGemini:
		return llm.NewGeminiLLM(ctx, cfg.Gemini, logger)
	case config.LLMProviderMock:
		return llm.NewMockLLM(logger, 50*time.Millisecond), nil
	default:
		return llm.NewArkClient(cfg.Ark, logger)
	}
}

func newSpeechToText(cfg config.Config, logger *zap.Logger) (repositories.SpeechToText, error) {
	switch cfg.STTProvider {
	case config.STTProviderGoogle:
		return stt.NewGoogleSpeechToText(cfg.STTLanguage, logger), nil
	case config.STTProviderMock:
		return stt.NewMockSpeechToText(logger), nil
	default:
		return stt.NewVolcengineSpeechToText(cfg.Volcengine, logger)
	}
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.KeyValueStore, func(), error) {
	if cfg.StorageDriver != config.StorageMongo {
		return storage.NewMemoryStore(), func() {}, nil
	}

	client, err := mongo.NewClient(ctx, cfg.Mongo, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}
	return mongo.NewKeyValueStore(client.Database), closeFn, nil
}

func printToken(cfg config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: token <client-id>")
	}
	token, err := auth.GenerateClientToken([]byte(cfg.JWTSecret), args[0], tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
