// Package reconciler folds classified socket events and local commands into
// a single ordered, de-duplicated transcript.
//
// Reconciler.Step is a reducer: it returns the next State and the side
// effects the caller must perform, and never mutates its input state.
package reconciler

import (
	"encoding/json"

	"github.com/raphaelgruber/chatsync/internal/frame"
	"github.com/raphaelgruber/chatsync/internal/history"
	"github.com/raphaelgruber/chatsync/internal/models"
)

// Phase is the generation state of the active session.
type Phase int

const (
	Idle Phase = iota
	Streaming
)

func (p Phase) String() string {
	if p == Streaming {
		return "streaming"
	}
	return "idle"
}

// State is the reconciler's view of the active session.
// Transcript is shared between states and must be treated as read-only.
type State struct {
	Session    models.Session
	Phase      Phase
	Transcript []models.Message

	// Model is the model reported by the last message_start.
	Model string
	// LastTokenID is the token identifier of the last accounted finalize.
	LastTokenID string
	// LastSend is the most recent user submission, replayed by Retry.
	LastSend *UserSend
	// Loading is set while a history fetch for the session is pending.
	Loading *Loading

	Conversations []models.ConversationSummary
	Config        *frame.ConfigPayload
	ConnectionID  string
	// Connections counts ConnectionEstablished events.
	Connections int

	// truncated is set once the max-tokens notice was appended to the
	// streaming message.
	truncated bool
}

// Loading describes a pending history fetch.
type Loading struct {
	Strategy history.Strategy
	// Cached is the transcript shown while an incremental fetch is pending.
	Cached []models.Message
}

// Streaming reports whether a generation is in progress.
func (s State) Streaming() bool {
	return s.Phase == Streaming
}

// Input is a classified frame or a local command.
type Input interface {
	isInput()
}

// Inbound wraps a classified frame event.
type Inbound struct {
	Event frame.Event
}

// UserSend submits a human message. Message carries its id and timestamp.
type UserSend struct {
	Message     models.Message
	Attachments []models.Part
}

// Retry replays the last user submission after an error or a hung generation.
type Retry struct{}

// Discard drops the pending streaming placeholder.
type Discard struct{}

// SendFailed finalizes the pending placeholder with an error when the
// outbound frame could not be delivered.
type SendFailed struct {
	Reason string
}

// BeginLoad resets the state to a newly selected session.
// Cached is the locally stored transcript, Strategy the merger's decision.
type BeginLoad struct {
	Session  models.Session
	Cached   []models.Message
	Strategy history.Strategy
}

func (Inbound) isInput()    {}
func (UserSend) isInput()   {}
func (Retry) isInput()      {}
func (Discard) isInput()    {}
func (SendFailed) isInput() {}
func (BeginLoad) isInput()  {}

// Effect is a side effect requested by Step.
type Effect interface {
	isEffect()
}

// SaveTranscript replaces the durable snapshot of a session.
type SaveTranscript struct {
	SessionID string
	Messages  []models.Message
}

// SaveTokenIdentifier records the identifier of an accounted finalize.
type SaveTokenIdentifier struct {
	ID string
}

// AddTokens adds usage to the ledger entry for Date.
type AddTokens struct {
	Date   string
	Input  int
	Output int
}

// SaveConversationList caches a listing verbatim.
type SaveConversationList struct {
	Raw json.RawMessage
}

// RefreshConversationList asks the backend for a fresh listing.
type RefreshConversationList struct{}

// InvalidateAuth drops cached credentials.
type InvalidateAuth struct{}

// SendChat sends a chat frame for a human message.
type SendChat struct {
	Message     models.Message
	Attachments []models.Part
}

// Notice is informational text for the renderer.
type Notice struct {
	Text string
}

// Finalized reports a completed generation.
type Finalized struct {
	Model  string
	Input  int
	Output int
}

// Ignored reports an input that left the state unchanged.
type Ignored struct {
	Reason string
	// Type is the wire type of an ignored frame.
	Type string
}

func (SaveTranscript) isEffect()          {}
func (SaveTokenIdentifier) isEffect()     {}
func (AddTokens) isEffect()               {}
func (SaveConversationList) isEffect()    {}
func (RefreshConversationList) isEffect() {}
func (InvalidateAuth) isEffect()          {}
func (SendChat) isEffect()                {}
func (Notice) isEffect()                  {}
func (Finalized) isEffect()               {}
func (Ignored) isEffect()                 {}

// Reasons carried by Ignored.
const (
	ReasonDuplicate    = "duplicate finalize"
	ReasonNotStreaming = "no generation in progress"
	ReasonBusy         = "generation in progress"
	ReasonUnrecognized = "unrecognized frame"
	ReasonStaleSession = "history for another session"
	ReasonNoRetry      = "nothing to retry"
)
