package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of a structured content part.
type PartType string

const (
	PartText     PartType = "text"
	PartImage    PartType = "image"
	PartDocument PartType = "document"
	PartVideo    PartType = "video"
)

// Part is one element of structured message content.
// Text parts use Text; media and document parts reference a URL or object key.
type Part struct {
	Type   PartType `json:"type"`
	Text   string   `json:"text,omitempty"`
	URL    string   `json:"url,omitempty"`
	Name   string   `json:"name,omitempty"`
	Format string   `json:"format,omitempty"`
}

// Content is either plain text or an ordered list of parts.
// On the wire plain text is a JSON string and structured content is an array.
type Content struct {
	Text  string
	Parts []Part
}

// NewTextContent returns plain text content.
func NewTextContent(text string) Content {
	return Content{Text: text}
}

// NewMediaContent returns structured content holding a single media reference.
func NewMediaContent(kind PartType, url string) Content {
	return Content{Parts: []Part{{Type: kind, URL: url}}}
}

// IsStructured reports whether the content is a part list.
func (c Content) IsStructured() bool {
	return len(c.Parts) > 0
}

// String returns the text projection of the content.
// Media parts render as their URL.
func (c Content) String() string {
	if !c.IsStructured() {
		return c.Text
	}
	var sb strings.Builder
	for i, p := range c.Parts {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch p.Type {
		case PartText:
			sb.WriteString(p.Text)
		default:
			label := p.Name
			if label == "" {
				label = p.URL
			}
			fmt.Fprintf(&sb, "[%s] %s", p.Type, label)
		}
	}
	return sb.String()
}

// Append concatenates text onto the content.
// For structured content the text goes into the trailing text part, created if needed.
func (c Content) Append(text string) Content {
	if !c.IsStructured() {
		c.Text += text
		return c
	}
	parts := append([]Part(nil), c.Parts...)
	if last := len(parts) - 1; parts[last].Type == PartText {
		parts[last].Text += text
	} else {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	return Content{Parts: parts}
}

// MarshalJSON encodes plain text as a string and structured content as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode text content: %w", err)
		}
		*c = Content{Text: s}
		return nil
	case data[0] == '[':
		var parts []Part
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("decode content parts: %w", err)
		}
		*c = Content{Parts: parts}
		return nil
	default:
		return fmt.Errorf("unsupported content encoding: %.20s", data)
	}
}

// Message is one entry of a transcript.
type Message struct {
	Role             Role            `json:"role"`
	Content          Content         `json:"content"`
	MessageID        string          `json:"message_id,omitempty"`
	Timestamp        *string         `json:"timestamp"`
	IsStreaming      bool            `json:"is_streaming"`
	IsVideoStreaming bool            `json:"is_video_streaming,omitempty"`
	Model            string          `json:"model,omitempty"`
	InputTokenCount  int             `json:"input_token_count"`
	OutputTokenCount int             `json:"output_token_count"`
	Error            *string         `json:"error,omitempty"`
	RawEvent         json.RawMessage `json:"raw_event,omitempty"`
}

// HasError reports whether the message carries an error marker.
func (m Message) HasError() bool {
	return m.Error != nil
}

// TokenTotals is a cumulative input/output token count.
type TokenTotals struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
