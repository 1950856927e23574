package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
	"github.com/wenzhen/server/internal/sse"
)

const (
	defaultArkURL            = "https://ark.cn-beijing.volces.com/api/v3/chat/completions"
	defaultArkHeaderTimeout  = 30 * time.Second
	maxUpstreamErrorBodySize = 4096
)

// ArkConfig holds the configuration for the Volcengine Ark chat-completions API
type ArkConfig struct {
	APIKey        string
	Model         string
	URL           string
	PersonaPrompt string
	// HeaderTimeout bounds the wait for response headers. The streamed body
	// itself is only bounded by the request context.
	HeaderTimeout time.Duration
}

// ValidateArkConfig validates the ArkConfig
func ValidateArkConfig(config ArkConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Ark API key is required")
	}
	if config.Model == "" {
		return fmt.Errorf("Ark model id is required")
	}
	if config.HeaderTimeout < 0 {
		return fmt.Errorf("header timeout must be positive, got %s", config.HeaderTimeout)
	}
	return nil
}

// UpstreamError reports a chat stream that could not be opened
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("chat upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap makes errors.Is(err, repositories.ErrUpstreamUnavailable) hold
func (e *UpstreamError) Unwrap() []error {
	if e.Err != nil {
		return []error{repositories.ErrUpstreamUnavailable, e.Err}
	}
	return []error{repositories.ErrUpstreamUnavailable}
}

// ArkClient implements LargeLanguageModel against an OpenAI compatible
// streaming chat-completions endpoint.
type ArkClient struct {
	httpClient *http.Client
	logger     *zap.Logger
	apiKey     string
	model      string
	url        string
	persona    string
}

type arkRequestBody struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

// NewArkClient creates a new Ark streaming client
func NewArkClient(config ArkConfig, logger *zap.Logger) (*ArkClient, error) {
	if err := ValidateArkConfig(config); err != nil {
		return nil, err
	}

	url := config.URL
	if url == "" {
		url = defaultArkURL
		logger.Info("Using default Ark URL", zap.String("url", url))
	}

	persona := config.PersonaPrompt
	if persona == "" {
		persona = DefaultPersonaPrompt
		logger.Info("Using default persona prompt")
	}

	headerTimeout := config.HeaderTimeout
	if headerTimeout == 0 {
		headerTimeout = defaultArkHeaderTimeout
		logger.Info("Using default header timeout", zap.Duration("headerTimeout", headerTimeout))
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout

	return &ArkClient{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(transport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return operation + " " + r.URL.Path
			}),
		)},
		logger:  logger,
		apiKey:  config.APIKey,
		model:   config.Model,
		url:     url,
		persona: persona,
	}, nil
}

// StreamChat implements repositories.LargeLanguageModel. The request is sent
// exactly once; a failure to open the stream is returned as *UpstreamError.
func (a *ArkClient) StreamChat(ctx context.Context, history []entities.Turn) (*entities.ReplyStream, error) {
	ctx, span := tracer.Start(ctx, "open chat stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.model", a.model),
		attribute.Int("request.turns", len(history)),
	)

	body, err := json.Marshal(arkRequestBody{
		Model:    a.model,
		Stream:   true,
		Messages: toChatMessages(a.persona, history),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		a.logger.Error("Failed to reach chat upstream", zap.Error(err))
		return nil, &UpstreamError{Err: err}
	}

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamErrorBodySize))
		resp.Body.Close()
		upstreamErr := &UpstreamError{StatusCode: resp.StatusCode, Body: string(errorBody)}
		span.RecordError(upstreamErr)
		span.SetStatus(codes.Error, resp.Status)
		a.logger.Error("Chat upstream returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(errorBody)))
		return nil, upstreamErr
	}

	a.logger.Debug("Chat stream opened",
		zap.String("model", a.model),
		zap.Int("turns", len(history)))

	// The request context owns the body from here on
	return sse.Stream(ctx, resp.Body, a.logger), nil
}
