package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Part types used by multimodal chat content
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// Turn is a single, immutable entry of a conversation.
// Images holds ordered image references (data URLs or remote URLs).
type Turn struct {
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	Images    []string  `json:"images,omitempty" bson:"images,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" bson:"created_at"`
}

// ContentPart is one element of a multimodal content array
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URL
type ImageURL struct {
	URL string `json:"url"`
}

// NewTurn creates a turn stamped with the current time
func NewTurn(role Role, content string, images ...string) Turn {
	return Turn{
		Role:      role,
		Content:   content,
		Images:    images,
		CreatedAt: time.Now(),
	}
}

// HasImages reports whether the turn carries image references
func (t Turn) HasImages() bool {
	return len(t.Images) > 0
}

// Parts returns the multimodal representation of the turn: the text first,
// followed by the images in their original order.
func (t Turn) Parts() []ContentPart {
	parts := make([]ContentPart, 0, len(t.Images)+1)
	parts = append(parts, ContentPart{Type: PartTypeText, Text: t.Content})
	for _, img := range t.Images {
		parts = append(parts, ContentPart{Type: PartTypeImageURL, ImageURL: &ImageURL{URL: img}})
	}
	return parts
}

// Validate validates the turn data
func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid role %q", t.Role)
	}
	if strings.TrimSpace(t.Content) == "" && len(t.Images) == 0 && t.Role == RoleUser {
		return errors.New("user turn must have text or images")
	}
	return nil
}

// UnmarshalJSON accepts content either as a plain string or as an array of
// text/image_url parts, which is how multimodal turns are posted by clients.
func (t *Turn) UnmarshalJSON(data []byte) error {
	type plain Turn
	var raw struct {
		plain
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Turn(raw.plain)
	t.Content = ""

	content := json.RawMessage(strings.TrimSpace(string(raw.Content)))
	if len(content) == 0 || string(content) == "null" {
		return nil
	}

	if content[0] == '"' {
		return json.Unmarshal(content, &t.Content)
	}

	var parts []ContentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts: %w", err)
	}

	var texts []string
	for _, part := range parts {
		switch part.Type {
		case PartTypeText:
			texts = append(texts, part.Text)
		case PartTypeImageURL:
			if part.ImageURL != nil && part.ImageURL.URL != "" {
				t.Images = append(t.Images, part.ImageURL.URL)
			}
		}
	}
	t.Content = strings.Join(texts, "\n")
	return nil
}
