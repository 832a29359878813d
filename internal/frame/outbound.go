package frame

import (
	"time"

	"github.com/raphaelgruber/chatsync/internal/auth"
	"github.com/raphaelgruber/chatsync/internal/models"
)

// Outbound frame discriminators.
const (
	TypeChat              = "chat"
	TypeLoad              = "load"
	TypeClearConversation = "clear_conversation"

	ActionConfig = "config"

	SubactionLoadModels           = "load_models"
	SubactionLoadConversationList = "load_conversation_list"
	SubactionModelScan            = "modelscan"
)

// Mode is the generation target the user picked: a model, knowledge base,
// agent, or prompt flow.
type Mode struct {
	Category        string `json:"category"`
	ModelID         string `json:"modelId,omitempty"`
	ModelName       string `json:"modelName,omitempty"`
	KnowledgeBaseID string `json:"knowledgebaseId,omitempty"`
	AgentID         string `json:"agentId,omitempty"`
	PromptFlowID    string `json:"promptFlowId,omitempty"`
}

// ConfigRequest asks the backend for configuration data.
type ConfigRequest struct {
	Action      string `json:"action"`
	Subaction   string `json:"subaction"`
	IDToken     string `json:"idToken"`
	AccessToken string `json:"accessToken"`
}

// SessionRequest is the common shape of chat, load, and clear frames.
type SessionRequest struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	KBSessionID  string `json:"kb_session_id"`
	SelectedMode Mode   `json:"selected_mode"`
	IDToken      string `json:"idToken"`
	AccessToken  string `json:"accessToken"`
}

// ChatRequest submits a user prompt.
type ChatRequest struct {
	SessionRequest
	Prompt      string        `json:"prompt"`
	MessageID   string        `json:"message_id"`
	Timestamp   string        `json:"timestamp"`
	Attachments []models.Part `json:"attachments,omitempty"`
}

// LoadRequest asks for a session's history. A non-empty LastMessageID makes
// the fetch incremental: only messages after it are requested.
type LoadRequest struct {
	SessionRequest
	LastMessageID string `json:"last_message_id,omitempty"`
}

// PingRequest is sent after connecting; the backend answers with a pong
// carrying the connection id.
type PingRequest struct {
	Type string `json:"type"`
}

// ConfigFrame builds a config request for subaction.
func ConfigFrame(subaction string, tokens auth.TokenPair) ConfigRequest {
	return ConfigRequest{
		Action:      ActionConfig,
		Subaction:   subaction,
		IDToken:     tokens.IDToken,
		AccessToken: tokens.AccessToken,
	}
}

func sessionRequest(typ string, s models.Session, mode Mode, tokens auth.TokenPair) SessionRequest {
	return SessionRequest{
		Type:         typ,
		SessionID:    s.SessionID,
		KBSessionID:  s.KBSessionID,
		SelectedMode: mode,
		IDToken:      tokens.IDToken,
		AccessToken:  tokens.AccessToken,
	}
}

// ChatFrame builds a chat request for a human message.
func ChatFrame(s models.Session, mode Mode, msg models.Message, attachments []models.Part, tokens auth.TokenPair) ChatRequest {
	ts := ""
	if msg.Timestamp != nil {
		ts = *msg.Timestamp
	}
	return ChatRequest{
		SessionRequest: sessionRequest(TypeChat, s, mode, tokens),
		Prompt:         msg.Content.String(),
		MessageID:      msg.MessageID,
		Timestamp:      ts,
		Attachments:    attachments,
	}
}

// LoadFrame builds a history request; afterMessageID "" requests the full history.
func LoadFrame(s models.Session, mode Mode, afterMessageID string, tokens auth.TokenPair) LoadRequest {
	return LoadRequest{
		SessionRequest: sessionRequest(TypeLoad, s, mode, tokens),
		LastMessageID:  afterMessageID,
	}
}

// ClearConversationFrame asks the backend to drop a session's server-side history.
func ClearConversationFrame(s models.Session, mode Mode, tokens auth.TokenPair) SessionRequest {
	return sessionRequest(TypeClearConversation, s, mode, tokens)
}

// PingFrame builds the post-connect ping.
func PingFrame() PingRequest {
	return PingRequest{Type: "ping"}
}

// Timestamp formats t the way the backend stores message timestamps
// (ISO-8601, UTC, millisecond precision).
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
