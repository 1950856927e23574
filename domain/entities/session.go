package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Conversation is the in-progress chat of one client (the "current chat").
// Turns are only ever appended.
type Conversation struct {
	ID           string    `json:"id" bson:"_id"`
	Turns        []Turn    `json:"turns" bson:"turns"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	LastActiveAt time.Time `json:"last_active_at" bson:"last_active_at"`
}

// NewConversation creates an empty conversation
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:           id,
		Turns:        make([]Turn, 0),
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Append adds turns to the end of the conversation
func (c *Conversation) Append(turns ...Turn) {
	c.Turns = append(c.Turns, turns...)
	c.LastActiveAt = time.Now()
}

// Validate validates the conversation data
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return errors.New("conversation id is required")
	}
	return nil
}

// Session is an archived conversation, listed in the history view
type Session struct {
	ID             string    `json:"id" bson:"_id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	Turns          []Turn    `json:"messages" bson:"turns"`
	Date           string    `json:"date" bson:"date"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// sessionDateLayout matches the zh-CN short date shown in the history list
const sessionDateLayout = "2006/1/2"

// NewSession archives a snapshot of the given conversation
func NewSession(conv *Conversation) *Session {
	now := time.Now()
	turns := make([]Turn, len(conv.Turns))
	copy(turns, conv.Turns)
	return &Session{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Turns:          turns,
		Date:           now.Format(sessionDateLayout),
		CreatedAt:      now,
	}
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if len(s.Turns) == 0 {
		return errors.New("session must contain at least one turn")
	}
	return nil
}
