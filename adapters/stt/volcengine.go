package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
)

const (
	defaultVolcengineURL        = "https://openspeech.bytedance.com/api/v3/auc/bigmodel/recognize/flash"
	defaultVolcengineResourceID = "volc.bigasr.auc_turbo"
	defaultVolcengineModel      = "bigmodel"
	defaultVolcengineTimeout    = 30 * time.Second

	// Values of the X-Api-Status-Code response header
	volcStatusOK      = "20000000"
	volcStatusSilence = "20000003"

	maxResponseBodySize = 1 << 20
)

// transcriptPaths lists where the transcript may live in a recognition
// response, in priority order.
var transcriptPaths = [][]string{
	{"result", "text"},
	{"text"},
	{"data", "text"},
	{"resp", "result", "text"},
}

// VolcengineConfig holds the configuration for the Volcengine flash recognizer
type VolcengineConfig struct {
	AppID       string
	AccessToken string
	ResourceID  string
	URL         string
	ModelName   string
	Timeout     time.Duration
}

// ValidateVolcengineConfig validates the VolcengineConfig
func ValidateVolcengineConfig(config VolcengineConfig) error {
	if config.AppID == "" {
		return fmt.Errorf("Volcengine speech app id is required")
	}
	if config.AccessToken == "" {
		return fmt.Errorf("Volcengine speech access token is required")
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}
	return nil
}

// VolcengineSpeechToText implements SpeechToText with the Volcengine
// (Doubao) big-model flash recognition API. One recording per call.
type VolcengineSpeechToText struct {
	httpClient  *http.Client
	logger      *zap.Logger
	appID       string
	accessToken string
	resourceID  string
	url         string
	modelName   string
}

type volcRequestBody struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		Data string `json:"data"`
	} `json:"audio"`
	Request struct {
		ModelName string `json:"model_name"`
	} `json:"request"`
}

// NewVolcengineSpeechToText creates a new Volcengine recognizer
func NewVolcengineSpeechToText(config VolcengineConfig, logger *zap.Logger) (*VolcengineSpeechToText, error) {
	if err := ValidateVolcengineConfig(config); err != nil {
		return nil, err
	}

	url := config.URL
	if url == "" {
		url = defaultVolcengineURL
		logger.Info("Using default speech URL", zap.String("url", url))
	}

	resourceID := config.ResourceID
	if resourceID == "" {
		resourceID = defaultVolcengineResourceID
		logger.Info("Using default speech resource id", zap.String("resourceID", resourceID))
	}

	modelName := config.ModelName
	if modelName == "" {
		modelName = defaultVolcengineModel
		logger.Info("Using default speech model", zap.String("model", modelName))
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultVolcengineTimeout
		logger.Info("Using default speech timeout", zap.Duration("timeout", timeout))
	}

	return &VolcengineSpeechToText{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:      logger,
		appID:       config.AppID,
		accessToken: config.AccessToken,
		resourceID:  resourceID,
		url:         url,
		modelName:   modelName,
	}, nil
}

// TranscribeAudio implements repositories.SpeechToText. The recording is
// sent base64 encoded in a single request; nothing is retried.
func (v *VolcengineSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, _ repositories.AudioConfig) (string, error) {
	ctx, span := tracer.Start(ctx, "volcengine recognize")
	defer span.End()

	if len(audioData) == 0 {
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorInput, Detail: "empty recording"}
	}

	var reqBody volcRequestBody
	reqBody.User.UID = v.appID
	reqBody.Audio.Data = base64.StdEncoding.EncodeToString(audioData)
	reqBody.Request.ModelName = v.modelName

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal recognition request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create recognition request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-App-Key", v.appID)
	req.Header.Set("X-Api-Access-Key", v.accessToken)
	req.Header.Set("X-Api-Resource-Id", v.resourceID)
	req.Header.Set("X-Api-Request-Id", requestID)
	req.Header.Set("X-Api-Sequence", "-1")
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.Int("request.audio_bytes", len(audioData)),
	)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorTransport, Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorTransport, Status: resp.StatusCode, Detail: "failed to read response", Err: err}
	}

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	v.logger.Debug("Speech API response",
		zap.String("requestID", requestID),
		zap.Int("status", resp.StatusCode),
		zap.String("apiStatus", resp.Header.Get("X-Api-Status-Code")),
		zap.Int("length", len(respBody)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return "", &entities.TranscriptionError{
			Kind:   entities.TranscriptionErrorStatus,
			Status: resp.StatusCode,
			Detail: string(respBody),
		}
	}

	// Only the silence code is acted on; the body decides everything else
	switch apiStatus := resp.Header.Get("X-Api-Status-Code"); apiStatus {
	case "", volcStatusOK:
	case volcStatusSilence:
		v.logger.Info("No speech detected", zap.String("requestID", requestID))
		return "", nil
	default:
		v.logger.Warn("Unrecognized speech API status, reading body",
			zap.String("requestID", requestID),
			zap.String("apiStatus", apiStatus),
			zap.String("apiMessage", resp.Header.Get("X-Api-Message")))
	}

	text, err := ExtractTranscript(respBody)
	if err != nil {
		span.RecordError(err)
		return "", &entities.TranscriptionError{
			Kind:   entities.TranscriptionErrorParse,
			Status: resp.StatusCode,
			Detail: string(respBody),
			Err:    err,
		}
	}

	v.logger.Info("Transcription completed",
		zap.String("requestID", requestID),
		zap.Int("length", len([]rune(text))))
	return text, nil
}

// ExtractTranscript reads the transcript from a recognition response. The
// first non-empty candidate path wins; a valid document without any of them
// yields an empty transcript.
func ExtractTranscript(body []byte) (string, error) {
	if !json.Valid(body) {
		return "", fmt.Errorf("response is not valid JSON")
	}

	for _, path := range transcriptPaths {
		value, dataType, _, err := jsonparser.Get(body, path...)
		if err != nil || dataType != jsonparser.String {
			continue
		}
		text, err := jsonparser.ParseString(value)
		if err != nil {
			return "", fmt.Errorf("failed to decode %v: %w", path, err)
		}
		if text != "" {
			return text, nil
		}
	}
	return "", nil
}
