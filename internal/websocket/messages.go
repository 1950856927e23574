package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wenzhen/server/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeChat  MessageType = "chat"
	MessageTypeDelta MessageType = "delta"
	MessageTypeDone  MessageType = "done"
	MessageTypeError MessageType = "error"
	MessageTypePing  MessageType = "ping"
	MessageTypePong  MessageType = "pong"
)

// Error codes sent in ErrorMessage
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeStreamInFlight = "stream_in_flight"
	ErrorCodeUpstream       = "upstream_unavailable"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// ChatMessage asks for one streamed reply to the given history
type ChatMessage struct {
	BaseMessage
	ConversationID string          `json:"conversation_id,omitempty"`
	Messages       []entities.Turn `json:"messages"`
}

// DeltaMessage carries one reply fragment
type DeltaMessage struct {
	BaseMessage
	Content string `json:"content"`
}

// DoneMessage marks the end of a reply
type DoneMessage struct {
	BaseMessage
	Content   string `json:"content"`
	Fragments int    `json:"fragments"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message and returns the typed value
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeChat:
		var msg ChatMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid chat message: %w", err)
		}
		if len(msg.Messages) == 0 {
			return nil, fmt.Errorf("messages are required")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func newBase(t MessageType, messageID string) BaseMessage {
	return BaseMessage{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
		MessageID: messageID,
	}
}

// CreateDeltaMessage creates a reply fragment message
func CreateDeltaMessage(messageID, content string) *DeltaMessage {
	return &DeltaMessage{BaseMessage: newBase(MessageTypeDelta, messageID), Content: content}
}

// CreateDoneMessage creates the end-of-reply message
func CreateDoneMessage(messageID, content string, fragments int) *DoneMessage {
	return &DoneMessage{BaseMessage: newBase(MessageTypeDone, messageID), Content: content, Fragments: fragments}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(messageID, code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError, messageID),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(messageID, data string) *PongMessage {
	return &PongMessage{BaseMessage: newBase(MessageTypePong, messageID), Data: data}
}
