package models

// Session identifies the conversation a transcript belongs to.
type Session struct {
	SessionID string `json:"session_id"`
	// KBSessionID is assigned by the backend for knowledge-base grounded
	// conversations. Once set it only clears on a session reset.
	KBSessionID string `json:"kb_session_id,omitempty"`
}

// ConversationSummary is one entry of the backend's conversation listing.
type ConversationSummary struct {
	SessionID         string `json:"session_id"`
	Title             string `json:"title"`
	LastModifiedDate  string `json:"last_modified_date"`
	LastMessageID     string `json:"last_message_id"`
	Category          string `json:"category,omitempty"`
	ModelOrResourceID string `json:"model_or_resource_id,omitempty"`
}
