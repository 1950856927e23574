package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/wenzhen/server/domain/entities"
	"github.com/wenzhen/server/domain/repositories"
	"github.com/wenzhen/server/internal/metrics"
	"github.com/wenzhen/server/internal/websocket"
	"github.com/wenzhen/server/usecase"
)

const (
	// UpstreamUnavailableText is written in place of the reply when the
	// chat stream cannot be opened.
	UpstreamUnavailableText = websocket.UpstreamUnavailableText

	maxAudioSize = 10 << 20
)

// Services bundles what the routes need
type Services struct {
	Chat      *usecase.ChatService
	Speech    *usecase.SpeechService
	History   *usecase.HistoryService
	Hub       *websocket.Hub
	Metrics   *metrics.Metrics
	JWTSecret []byte
}

type handler struct {
	Services
	logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, services Services, logger *zap.Logger) {
	h := &handler{Services: services, logger: logger}
	authed := requireToken(services.JWTSecret, logger)

	// Health check
	e.GET("/health", h.health)

	if services.Metrics != nil {
		e.Use(services.Metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(services.Metrics.Handler()))
	}

	e.POST("/chat", h.chat, authed)
	e.POST("/speech", h.speech, authed)

	// WebSocket endpoint carrying the same chat stream
	e.GET("/ws/chat", func(c echo.Context) error {
		return websocket.HandleWebSocket(h.Hub, c, clientID(c), logger)
	}, authed)

	// History APIs
	v1 := e.Group("/api/v1", authed)
	v1.GET("/sessions", h.listSessions)
	v1.POST("/sessions", h.archiveSession)
	v1.GET("/sessions/:id", h.getSession)
	v1.GET("/conversations/:id", h.getConversation)
}

func (h *handler) health(c echo.Context) error {
	clients := 0
	if h.Hub != nil {
		clients = h.Hub.ClientCount()
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "wenzhen-relay",
		Clients:   clients,
		Timestamp: time.Now(),
	})
}

// chat relays one streamed reply as a chunked plain-text body. Each fragment
// is flushed as soon as it arrives; the body ends when the reply is complete.
func (h *handler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("Failed to bind chat request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = clientID(c)
	}

	fragments, err := h.Chat.Send(c.Request().Context(), conversationID, req.Messages)
	switch {
	case err == nil:
	case errors.Is(err, usecase.ErrInvalidHistory):
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_messages",
			Message: err.Error(),
		})
	case errors.Is(err, usecase.ErrStreamInFlight):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "stream_in_flight",
			Message: "A reply is still streaming for this conversation",
		})
	default:
		h.logger.Error("Failed to open chat stream",
			zap.String("conversationID", conversationID),
			zap.Error(err))
		return c.String(http.StatusInternalServerError, UpstreamUnavailableText)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	writeFailed := false
	for fragment := range fragments {
		if writeFailed {
			continue
		}
		if _, err := io.WriteString(resp, fragment); err != nil {
			// Keep draining; the request context stops the stream
			h.logger.Info("Client went away mid-reply", zap.Error(err))
			writeFailed = true
			continue
		}
		resp.Flush()
	}
	return nil
}

// speech transcribes the uploaded "file" field
func (h *handler) speech(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, entities.TranscriptResult{Error: "缺少音频文件"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, entities.TranscriptResult{Error: "无法读取音频文件", Detail: err.Error()})
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioSize+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, entities.TranscriptResult{Error: "无法读取音频文件", Detail: err.Error()})
	}
	if len(audio) > maxAudioSize {
		return c.JSON(http.StatusRequestEntityTooLarge, entities.TranscriptResult{Error: "音频文件过大"})
	}

	text, err := h.Speech.Transcribe(c.Request().Context(), audio, fileHeader.Header.Get(echo.HeaderContentType))
	if err != nil {
		var terr *entities.TranscriptionError
		if errors.As(err, &terr) && terr.Kind == entities.TranscriptionErrorInput {
			return c.JSON(http.StatusBadRequest, entities.TranscriptResult{Error: "音频文件无效", Detail: terr.Detail})
		}
		result := entities.TranscriptResult{Error: "语音识别失败", Detail: err.Error()}
		if terr != nil {
			result.Detail = terr.Error()
		}
		return c.JSON(http.StatusBadGateway, result)
	}

	return c.JSON(http.StatusOK, entities.TranscriptResult{Text: text})
}

func (h *handler) listSessions(c echo.Context) error {
	sessions, err := h.History.ListSessions(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
	return c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions})
}

func (h *handler) getSession(c echo.Context) error {
	session, err := h.History.GetSession(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repositories.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Session not found"})
	}
	if err != nil {
		h.logger.Error("Failed to get session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
	return c.JSON(http.StatusOK, session)
}

func (h *handler) archiveSession(c echo.Context) error {
	var req ArchiveRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
		}
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = clientID(c)
	}

	session, err := h.History.Archive(c.Request().Context(), conversationID)
	if errors.Is(err, usecase.ErrNothingToArchive) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty_conversation", Message: err.Error()})
	}
	if err != nil {
		h.logger.Error("Failed to archive session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
	return c.JSON(http.StatusCreated, session)
}

func (h *handler) getConversation(c echo.Context) error {
	conv, err := h.History.Current(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to load conversation", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
	return c.JSON(http.StatusOK, conv)
}
