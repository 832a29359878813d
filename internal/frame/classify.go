package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphaelgruber/chatsync/internal/models"
)

type decoder func(f Frame, ev *Event) error

// typedDecoders maps a frame's "type" field to its payload decoder.
var typedDecoders = map[string]decoder{
	"message_start":           decodeStart,
	"content_block_delta":     decodeDelta,
	"message_stop":            decodeStop,
	"error":                   decodeError,
	"image_generated":         decodeMedia(models.PartImage, "image_url", ImageGenerated),
	"video_generated":         decodeMedia(models.PartVideo, "video_url", VideoGenerated),
	"conversation_history":    decodeHistory,
	"load_conversation_list":  decodeList,
	"load_response":           decodeConfig,
	"modelscan":               decodeModelScan,
	"pong":                    decodePong,
	"no_conversation_to_load": simple(NoConversationToLoad),
	"session_expired":         simple(SessionExpired),
}

// legacyRules classify frames without a "type" field by substring, first match wins.
var legacyRules = []struct {
	kind    Kind
	needles []string
}{
	{NoConversationToLoad, []string{"no conversation to load"}},
	{SessionExpired, []string{"session expired", "token expired", "token has expired", "unauthorized"}},
	{Error, []string{"internal server error", "endpoint request timed out"}},
	// Gateway error bodies also carry a connectionId, so this rule comes last.
	{ConnectionEstablished, []string{"connectionid", "pong"}},
}

// Classify maps a decoded frame to exactly one event kind.
// It has no side effects; frames that match nothing are Unrecognized.
func Classify(f Frame) Event {
	ev := Event{Type: f.Type(), Raw: f.raw}

	if ev.Type == "" {
		ev.Kind = classifyLegacy(f)
		switch ev.Kind {
		case ConnectionEstablished:
			ev.ConnectionID = f.connectionID()
		case Error:
			ev.Err = &ErrorPayload{Message: f.errorMessage()}
		}
		return ev
	}

	decode, ok := typedDecoders[ev.Type]
	if !ok {
		ev.Kind = Unrecognized
		return ev
	}
	if err := decode(f, &ev); err != nil {
		return Event{Kind: Unrecognized, Type: ev.Type, Raw: f.raw}
	}
	return ev
}

func classifyLegacy(f Frame) Kind {
	body := strings.ToLower(string(f.raw))
	for _, rule := range legacyRules {
		for _, needle := range rule.needles {
			if strings.Contains(body, needle) {
				return rule.kind
			}
		}
	}
	return Unrecognized
}

// decodeInto unmarshals the frame, with metrics keys normalized, into v.
func (f Frame) decodeInto(v any) error {
	data, err := json.Marshal(normalizeMetrics(f.fields))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (f Frame) connectionID() string {
	for _, key := range []string{"connectionId", "connection_id", "connectionID"} {
		var s string
		if v, ok := f.fields[key]; ok && json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

// errorMessage extracts the text of "error" (string or object) or "message".
func (f Frame) errorMessage() string {
	if v, ok := f.fields["error"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(v, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	var s string
	if v, ok := f.fields["message"]; ok && json.Unmarshal(v, &s) == nil && s != "" {
		return s
	}
	return "unknown error"
}

func simple(kind Kind) decoder {
	return func(_ Frame, ev *Event) error {
		ev.Kind = kind
		return nil
	}
}

func decodeStart(f Frame, ev *Event) error {
	var body struct {
		Message struct {
			Model string `json:"model"`
			ID    string `json:"id"`
		} `json:"message"`
		KBSessionID string `json:"kb_session_id"`
		MessageID   string `json:"message_id"`
	}
	if err := f.decodeInto(&body); err != nil {
		return err
	}
	ev.Kind = MessageStart
	ev.Start = &StartPayload{
		Model:       body.Message.Model,
		KBSessionID: body.KBSessionID,
		MessageID:   firstNonEmpty(body.MessageID, body.Message.ID),
	}
	return nil
}

func decodeDelta(f Frame, ev *Event) error {
	var body struct {
		Delta struct {
			Text       string `json:"text"`
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		MessageStopReason string             `json:"message_stop_reason"`
		StopReason        string             `json:"stop_reason"`
		Metrics           *InvocationMetrics `json:"amazon_bedrock_invocation_metrics"`
	}
	if err := f.decodeInto(&body); err != nil {
		return err
	}
	ev.Kind = ContentDelta
	ev.Delta = &DeltaPayload{
		Text:       body.Delta.Text,
		StopReason: firstNonEmpty(body.MessageStopReason, body.StopReason, body.Delta.StopReason),
		Metrics:    body.Metrics,
	}
	return nil
}

func decodeStop(f Frame, ev *Event) error {
	var body struct {
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		MessageStopReason string             `json:"message_stop_reason"`
		StopReason        string             `json:"stop_reason"`
		Metrics           *InvocationMetrics `json:"amazon_bedrock_invocation_metrics"`
		NewConversation   flexBool           `json:"new_conversation"`
		SessionID         string             `json:"session_id"`
		KBSessionID       string             `json:"kb_session_id"`
		MessageID         string             `json:"message_id"`
	}
	if err := f.decodeInto(&body); err != nil {
		return err
	}
	ev.Kind = MessageStop
	ev.Stop = &StopPayload{
		Metrics:         body.Metrics,
		StopReason:      firstNonEmpty(body.MessageStopReason, body.StopReason, body.Delta.StopReason),
		NewConversation: bool(body.NewConversation),
		SessionID:       body.SessionID,
		KBSessionID:     body.KBSessionID,
		MessageID:       body.MessageID,
	}
	return nil
}

func decodeError(f Frame, ev *Event) error {
	ev.Kind = Error
	ev.Err = &ErrorPayload{Message: f.errorMessage()}
	return nil
}

func decodeMedia(kind models.PartType, urlKey string, evKind Kind) decoder {
	return func(f Frame, ev *Event) error {
		var body struct {
			Prompt    string `json:"prompt"`
			MessageID string `json:"message_id"`
			ModelID   string `json:"modelId"`
			Timestamp string `json:"timestamp"`
		}
		if err := f.decodeInto(&body); err != nil {
			return err
		}
		var url string
		if v, ok := f.fields[urlKey]; ok {
			if err := json.Unmarshal(v, &url); err != nil {
				return fmt.Errorf("decode %s: %w", urlKey, err)
			}
		}
		ev.Kind = evKind
		ev.Media = &MediaPayload{
			Kind:      kind,
			URL:       url,
			Prompt:    body.Prompt,
			MessageID: body.MessageID,
			ModelID:   body.ModelID,
			Timestamp: body.Timestamp,
		}
		return nil
	}
}

func decodeHistory(f Frame, ev *Event) error {
	var body struct {
		Chunk        json.RawMessage `json:"chunk"`
		CurrentChunk flexInt         `json:"current_chunk"`
		LastMessage  flexBool        `json:"last_message"`
		SessionID    string          `json:"session_id"`
	}
	if err := f.decodeInto(&body); err != nil {
		return err
	}

	var rawItems []json.RawMessage
	if chunk := unwrapJSONString(body.Chunk); len(chunk) > 0 {
		if err := json.Unmarshal(chunk, &rawItems); err != nil {
			return fmt.Errorf("decode history chunk: %w", err)
		}
	}

	items := make([]HistoryItem, 0, len(rawItems))
	for _, raw := range rawItems {
		item, err := decodeHistoryItem(raw)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	ev.Kind = ConversationHistoryChunk
	ev.History = &HistoryPayload{
		Items:        items,
		CurrentChunk: int(body.CurrentChunk),
		LastMessage:  bool(body.LastMessage),
		SessionID:    body.SessionID,
	}
	return nil
}

func decodeHistoryItem(raw json.RawMessage) (HistoryItem, error) {
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return HistoryItem{}, fmt.Errorf("decode history item: %w", err)
	}
	var reason struct {
		MessageStopReason string `json:"message_stop_reason"`
		StopReason        string `json:"stop_reason"`
	}
	_ = json.Unmarshal(raw, &reason)

	switch strings.ToLower(string(msg.Role)) {
	case "user", "human":
		msg.Role = models.RoleHuman
	case "assistant", "ai", "bot":
		msg.Role = models.RoleAssistant
	}
	msg.IsStreaming = false
	return HistoryItem{Message: msg, StopReason: firstNonEmpty(reason.MessageStopReason, reason.StopReason)}, nil
}

func decodeList(f Frame, ev *Event) error {
	raw := unwrapJSONString(f.fields["conversation_list"])
	var summaries []models.ConversationSummary
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &summaries); err != nil {
			return fmt.Errorf("decode conversation list: %w", err)
		}
	}
	ev.Kind = ConversationListLoaded
	ev.List = &ListPayload{Raw: append(json.RawMessage(nil), raw...), Summaries: summaries}
	return nil
}

func decodeConfig(f Frame, ev *Event) error {
	ev.Config = &ConfigPayload{
		Models:         f.fields["load_models"],
		KnowledgeBases: f.fields["load_knowledge_bases"],
		Agents:         f.fields["load_agents"],
		PromptFlows:    f.fields["load_prompt_flows"],
		ModelScan:      f.fields["modelscan"],
	}
	ev.Kind = ConfigLoadResponse
	if truthy(ev.Config.ModelScan) {
		ev.Kind = ModelScanComplete
	}
	return nil
}

func decodeModelScan(f Frame, ev *Event) error {
	ev.Kind = ModelScanComplete
	ev.Config = &ConfigPayload{ModelScan: f.raw}
	return nil
}

func decodePong(f Frame, ev *Event) error {
	ev.Kind = ConnectionEstablished
	ev.ConnectionID = f.connectionID()
	return nil
}

// unwrapJSONString returns the decoded contents when raw is a JSON string
// holding JSON, and raw itself otherwise. null yields nil.
func unwrapJSONString(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.RawMessage(s)
}

func truthy(raw json.RawMessage) bool {
	switch s := string(bytes.TrimSpace(raw)); s {
	case "", "null", "false", "0", `""`, "[]", "{}":
		return false
	default:
		return true
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
