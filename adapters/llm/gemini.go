package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/wenzhen/server/domain/entities"
)

const (
	defaultGeminiModel     = "gemini-2.0-flash"
	defaultTemperature     = 0.7
	defaultTopP            = 0.9
	defaultMaxOutputTokens = 512
)

// GeminiConfig holds the configuration for the Gemini provider
type GeminiConfig struct {
	APIKey          string
	Model           string
	PersonaPrompt   string
	Temperature     float32
	TopP            float32
	MaxOutputTokens int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}

	// Validate temperature is in the valid range
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}

	// Validate topP is in the valid range
	if config.TopP < 0 || config.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	if config.MaxOutputTokens < 0 {
		return fmt.Errorf("maxOutputTokens must be positive, got %d", config.MaxOutputTokens)
	}

	return nil
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client *genai.Client
	logger *zap.Logger
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newGeminiLLM(client, config, logger), nil
}

func newGeminiLLM(client *genai.Client, config GeminiConfig, logger *zap.Logger) *GeminiLLM {
	model := config.Model
	if model == "" {
		model = defaultGeminiModel
		logger.Info("Using default model", zap.String("model", model))
	}

	persona := config.PersonaPrompt
	if persona == "" {
		persona = DefaultPersonaPrompt
		logger.Info("Using default persona prompt")
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
		logger.Info("Using default temperature", zap.Float32("temperature", temperature))
	}

	topP := config.TopP
	if topP == 0 {
		topP = defaultTopP
		logger.Info("Using default topP", zap.Float32("topP", topP))
	}

	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxOutputTokens
		logger.Info("Using default maxOutputTokens", zap.Int("maxOutputTokens", maxOutputTokens))
	}

	return &GeminiLLM{
		client: client,
		logger: logger,
		model:  model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(persona, genai.RoleUser),
			Temperature:       genai.Ptr(temperature),
			TopP:              genai.Ptr(topP),
			MaxOutputTokens:   int32(maxOutputTokens),
		},
	}
}

// StreamChat implements repositories.LargeLanguageModel. The first response
// is awaited before returning so that a failed open is reported as an error
// instead of an empty stream.
func (g *GeminiLLM) StreamChat(ctx context.Context, history []entities.Turn) (*entities.ReplyStream, error) {
	ctx, span := tracer.Start(ctx, "open gemini stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.model", g.model),
		attribute.Int("request.turns", len(history)),
	)

	contents, err := toGeminiContents(history)
	if err != nil {
		return nil, fmt.Errorf("failed to convert history: %w", err)
	}

	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, g.model, contents, g.config))
	first, err, ok := next()
	if err != nil {
		stop()
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed to open")
		g.logger.Error("Failed to open Gemini stream", zap.Error(err))
		return nil, &UpstreamError{Err: err}
	}

	reply := entities.NewReplyStream()
	go func() {
		var streamErr error
		defer func() { reply.Close(streamErr) }()
		defer stop()

		send := func(resp *genai.GenerateContentResponse) bool {
			text := resp.Text()
			if text == "" {
				return true
			}
			if !reply.Send(ctx, text) {
				streamErr = ctx.Err()
				return false
			}
			return true
		}

		if !ok || !send(first) {
			return
		}
		for {
			resp, err, ok := next()
			if !ok {
				return
			}
			if err != nil {
				g.logger.Error("Gemini stream ended with error", zap.Error(err))
				streamErr = fmt.Errorf("gemini stream failed: %w", err)
				return
			}
			if !send(resp) {
				return
			}
		}
	}()

	return reply, nil
}

// toGeminiContents converts turns to Gemini contents. Assistant turns map to
// the model role and image references become inline or URI parts.
func toGeminiContents(history []entities.Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == entities.RoleAssistant {
			role = genai.RoleModel
		}

		parts := []*genai.Part{genai.NewPartFromText(turn.Content)}
		for _, img := range turn.Images {
			part, err := imagePart(img)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

// imagePart turns a data URL into inline bytes and anything else into a URI reference
func imagePart(ref string) (*genai.Part, error) {
	if !strings.HasPrefix(ref, "data:") {
		return genai.NewPartFromURI(ref, "image/jpeg"), nil
	}

	header, payload, found := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !found {
		return nil, fmt.Errorf("malformed data URL")
	}
	mimeType, encoding, _ := strings.Cut(header, ";")
	if encoding != "base64" {
		return nil, fmt.Errorf("unsupported data URL encoding %q", encoding)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return genai.NewPartFromBytes(data, mimeType), nil
}
