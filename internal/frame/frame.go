// Package frame decodes and classifies inbound socket frames and builds the
// outbound frames sent to the chat backend.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/raphaelgruber/chatsync/internal/models"
)

// ErrMalformed indicates a frame that is not a JSON object.
var ErrMalformed = errors.New("malformed frame")

// Kind is the semantic event kind of an inbound frame.
type Kind int

const (
	Unrecognized Kind = iota
	MessageStart
	ContentDelta
	MessageStop
	Error
	VideoGenerated
	ImageGenerated
	ConversationHistoryChunk
	ConversationListLoaded
	ConfigLoadResponse
	ModelScanComplete
	ConnectionEstablished
	NoConversationToLoad
	SessionExpired
)

var kindNames = map[Kind]string{
	Unrecognized:             "unrecognized",
	MessageStart:             "message_start",
	ContentDelta:             "content_delta",
	MessageStop:              "message_stop",
	Error:                    "error",
	VideoGenerated:           "video_generated",
	ImageGenerated:           "image_generated",
	ConversationHistoryChunk: "conversation_history_chunk",
	ConversationListLoaded:   "conversation_list_loaded",
	ConfigLoadResponse:       "config_load_response",
	ModelScanComplete:        "model_scan_complete",
	ConnectionEstablished:    "connection_established",
	NoConversationToLoad:     "no_conversation_to_load",
	SessionExpired:           "session_expired",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Frame is a decoded inbound JSON object.
type Frame struct {
	raw    json.RawMessage
	fields map[string]json.RawMessage
}

// Decode parses raw bytes into a Frame. Non-object payloads are ErrMalformed.
func Decode(raw []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Frame{}, fmt.Errorf("%w: null frame", ErrMalformed)
	}
	return Frame{raw: append(json.RawMessage(nil), raw...), fields: fields}, nil
}

// Raw returns the frame's original bytes.
func (f Frame) Raw() json.RawMessage {
	return f.raw
}

// Type returns the frame's "type" field, or "" when absent or not a string.
func (f Frame) Type() string {
	var s string
	if v, ok := f.fields["type"]; ok {
		_ = json.Unmarshal(v, &s)
	}
	return s
}

// Has reports whether key is present and not null.
func (f Frame) Has(key string) bool {
	v, ok := f.fields[key]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// Event is a classified frame with its decoded payload.
// Exactly one payload pointer is set for kinds that carry one.
type Event struct {
	Kind Kind
	// Type is the wire "type" field, empty for legacy frames.
	Type string
	Raw  json.RawMessage

	Start   *StartPayload
	Delta   *DeltaPayload
	Stop    *StopPayload
	Err     *ErrorPayload
	Media   *MediaPayload
	History *HistoryPayload
	List    *ListPayload
	Config  *ConfigPayload

	ConnectionID string
}

// StartPayload is the body of a message_start frame.
type StartPayload struct {
	Model       string
	KBSessionID string
	// MessageID is the backend id of the response, when sent.
	MessageID string
}

// DeltaPayload is the body of a content_block_delta frame.
type DeltaPayload struct {
	Text       string
	StopReason string
	Metrics    *InvocationMetrics
}

// StopPayload is the body of a message_stop frame.
type StopPayload struct {
	Metrics         *InvocationMetrics
	StopReason      string
	NewConversation bool
	SessionID       string
	KBSessionID     string
	MessageID       string
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Message string
}

// MediaPayload is the body of an image_generated or video_generated frame.
type MediaPayload struct {
	Kind      models.PartType
	URL       string
	Prompt    string
	MessageID string
	ModelID   string
	Timestamp string
}

// HistoryItem is one message of a history chunk with its recorded stop reason.
type HistoryItem struct {
	Message    models.Message
	StopReason string
}

// HistoryPayload is the body of a conversation_history frame.
type HistoryPayload struct {
	Items        []HistoryItem
	CurrentChunk int
	LastMessage  bool
	SessionID    string
}

// ListPayload is the body of a load_conversation_list frame.
// Raw holds the listing exactly as received.
type ListPayload struct {
	Raw       json.RawMessage
	Summaries []models.ConversationSummary
}

// ConfigPayload is the body of a load_response frame.
type ConfigPayload struct {
	Models         json.RawMessage
	KnowledgeBases json.RawMessage
	Agents         json.RawMessage
	PromptFlows    json.RawMessage
	ModelScan      json.RawMessage
}
