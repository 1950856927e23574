package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/wenzhen/server/domain/entities"
)

// ErrBusy is returned when the relay is still streaming a reply for the conversation
var ErrBusy = errors.New("a reply is still streaming")

// RelayError is a failed chat send. Message is the text the relay wants
// shown in place of the reply.
type RelayError struct {
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay returned status %d: %s", e.StatusCode, e.Message)
}

// Config configures the relay client
type Config struct {
	BaseURL string
	Token   string
	// Timeout bounds transcription calls; chat streams are bounded by ctx only
	Timeout time.Duration
}

// Client talks to the relay's /chat and /speech endpoints
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a relay client
func New(config Config, logger *zap.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("relay base url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
		logger.Info("Using default transcription timeout", zap.Duration("timeout", config.Timeout))
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		timeout: config.Timeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}, nil
}

type chatRequest struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	Messages       []entities.Turn `json:"messages"`
}

// Chat sends the history and returns the reply fragments as they arrive.
// The channel is closed when the reply ends or ctx is cancelled; the
// response body is released on every path.
func (c *Client) Chat(ctx context.Context, conversationID string, turns []entities.Turn) (<-chan string, error) {
	body, err := json.Marshal(chatRequest{ConversationID: conversationID, Messages: turns})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusConflict {
			return nil, ErrBusy
		}
		return nil, &RelayError{StatusCode: resp.StatusCode, Message: errorText(raw)}
	}

	fragments := make(chan string)
	go c.forward(ctx, resp.Body, fragments)
	return fragments, nil
}

// forward decodes the chunked body incrementally; a multi-byte character
// split across reads is held until its remaining bytes arrive.
func (c *Client) forward(ctx context.Context, body io.ReadCloser, out chan<- string) {
	defer close(out)
	defer body.Close()

	reader := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			select {
			case out <- string(buf[:n]):
			case <-ctx.Done():
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Reply stream interrupted", zap.Error(err))
			}
			return
		}
	}
}

// Transcribe uploads one WAV recording. An empty string with a nil error
// means no speech was detected.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="recording.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/speech", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create speech request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &entities.TranscriptionError{Kind: entities.TranscriptionErrorTransport, Status: resp.StatusCode, Err: err}
	}

	var result entities.TranscriptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &entities.TranscriptionError{
			Kind:   entities.TranscriptionErrorParse,
			Status: resp.StatusCode,
			Detail: string(raw),
			Err:    err,
		}
	}

	if resp.StatusCode != http.StatusOK || result.Failed() {
		detail := result.Error
		if result.Detail != "" {
			detail += ": " + result.Detail
		}
		return "", &entities.TranscriptionError{
			Kind:   entities.TranscriptionErrorStatus,
			Status: resp.StatusCode,
			Detail: detail,
		}
	}

	return result.Text, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// errorText pulls a message out of a plain-text or ErrorResponse body
func errorText(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
