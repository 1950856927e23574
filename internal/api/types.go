package api

import (
	"time"

	"github.com/wenzhen/server/domain/entities"
)

// ChatRequest is the body of POST /chat. The bare {messages} body is accepted.
type ChatRequest struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	Messages       []entities.Turn `json:"messages"`
}

// ArchiveRequest is the body of POST /api/v1/sessions
type ArchiveRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

// SessionListResponse lists archived sessions
type SessionListResponse struct {
	Sessions []*entities.Session `json:"sessions"`
}

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Clients   int       `json:"ws_clients"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
