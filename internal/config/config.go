package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wenzhen/server/adapters/llm"
	"github.com/wenzhen/server/adapters/mongo"
	"github.com/wenzhen/server/adapters/stt"
)

// Provider and driver names accepted in the environment
const (
	LLMProviderArk    = "ark"
	LLMProviderGemini = "gemini"
	LLMProviderMock   = "mock"

	STTProviderVolcengine = "volcengine"
	STTProviderGoogle     = "google"
	STTProviderMock       = "mock"

	StorageMemory = "memory"
	StorageMongo  = "mongo"
)

// Config is the relay server configuration
type Config struct {
	Port     string
	LogLevel string

	LLMProvider string
	Ark         llm.ArkConfig
	Gemini      llm.GeminiConfig

	STTProvider string
	Volcengine  stt.VolcengineConfig
	STTLanguage string

	StorageDriver string
	Mongo         mongo.Config

	JWTSecret string
}

// ClientConfig is the voice chat client configuration
type ClientConfig struct {
	RelayURL       string
	RelayToken     string
	ConversationID string
	LogLevel       string
	LogFile        string
	VADThreshold float64
	VADSilence   time.Duration
}

// Load reads an optional .env file and then the relay configuration from the
// environment. Unset optional values stay empty and are defaulted by the
// adapters that consume them.
func Load() (Config, error) {
	loadDotEnv()

	upstreamTimeout, err := envDuration("UPSTREAM_TIMEOUT", 0)
	if err != nil {
		return Config{}, err
	}
	persona := os.Getenv("PERSONA_PROMPT")

	cfg := Config{
		Port:        envOrDefault("PORT", "8080"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LLMProvider: strings.ToLower(envOrDefault("LLM_PROVIDER", LLMProviderArk)),
		Ark: llm.ArkConfig{
			APIKey:        strings.TrimSpace(os.Getenv("DOUBAO_API_KEY")),
			Model:         strings.TrimSpace(os.Getenv("DOUBAO_MODEL_ID")),
			URL:           strings.TrimSpace(os.Getenv("DOUBAO_CHAT_URL")),
			PersonaPrompt: persona,
			HeaderTimeout: upstreamTimeout,
		},
		Gemini: llm.GeminiConfig{
			APIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			Model:         strings.TrimSpace(os.Getenv("GEMINI_MODEL")),
			PersonaPrompt: persona,
		},
		STTProvider: strings.ToLower(envOrDefault("STT_PROVIDER", STTProviderVolcengine)),
		Volcengine: stt.VolcengineConfig{
			AppID:       strings.TrimSpace(os.Getenv("DOUBAO_SPEECH_APP_ID")),
			AccessToken: strings.TrimSpace(os.Getenv("DOUBAO_SPEECH_ACCESS_TOKEN")),
			ResourceID:  strings.TrimSpace(os.Getenv("DOUBAO_SPEECH_RESOURCE_ID")),
			URL:         strings.TrimSpace(os.Getenv("DOUBAO_SPEECH_URL")),
			Timeout:     upstreamTimeout,
		},
		STTLanguage:   strings.TrimSpace(os.Getenv("STT_LANGUAGE")),
		StorageDriver: strings.ToLower(envOrDefault("STORAGE_DRIVER", StorageMemory)),
		Mongo: mongo.Config{
			URI:      strings.TrimSpace(os.Getenv("MONGODB_URI")),
			Database: strings.TrimSpace(os.Getenv("MONGODB_DATABASE")),
		},
		JWTSecret: os.Getenv("RELAY_JWT_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks provider choices and the credentials the chosen providers need
func (c Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case LLMProviderArk:
		if err := llm.ValidateArkConfig(c.Ark); err != nil {
			errs = append(errs, fmt.Errorf("invalid ark config: %w", err))
		}
	case LLMProviderGemini:
		if err := llm.ValidateGeminiConfig(c.Gemini); err != nil {
			errs = append(errs, fmt.Errorf("invalid gemini config: %w", err))
		}
	case LLMProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.STTProvider {
	case STTProviderVolcengine:
		if err := stt.ValidateVolcengineConfig(c.Volcengine); err != nil {
			errs = append(errs, fmt.Errorf("invalid volcengine config: %w", err))
		}
	case STTProviderGoogle, STTProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider))
	}

	switch c.StorageDriver {
	case StorageMemory, StorageMongo:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	return errors.Join(errs...)
}

// LoadClient reads the voice chat client configuration
func LoadClient() (ClientConfig, error) {
	loadDotEnv()

	silence, err := envDuration("VAD_SILENCE", 0)
	if err != nil {
		return ClientConfig{}, err
	}

	cfg := ClientConfig{
		RelayURL:       strings.TrimRight(envOrDefault("RELAY_URL", "http://localhost:8080"), "/"),
		RelayToken:     strings.TrimSpace(os.Getenv("RELAY_TOKEN")),
		ConversationID: strings.TrimSpace(os.Getenv("CONVERSATION_ID")),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		LogFile:        envOrDefault("LOG_FILE", "voicechat.log"),
		VADSilence:     silence,
	}

	if raw := strings.TrimSpace(os.Getenv("VAD_THRESHOLD")); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold < 0 || threshold > 1 {
			return ClientConfig{}, fmt.Errorf("VAD_THRESHOLD must be a number between 0 and 1, got %q", raw)
		}
		cfg.VADThreshold = threshold
	}

	return cfg, nil
}

// loadDotEnv loads .env when present; a missing file is not an error
func loadDotEnv() {
	_ = godotenv.Load()
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

// envDuration accepts a Go duration ("30s") or a whole number of seconds
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, value)
	}
	return d, nil
}
