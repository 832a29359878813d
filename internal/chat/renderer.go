package chat

import (
	"math/rand/v2"
	"strconv"

	"github.com/raphaelgruber/chatsync/internal/models"
)

// Snapshot is a read-only copy of the engine state handed to renderers.
type Snapshot struct {
	Session       models.Session
	Streaming     bool
	Loading       bool
	Transcript    []models.Message
	Conversations []models.ConversationSummary
	// Totals is today's token ledger entry.
	Totals models.TokenTotals
	// Notice is set on the snapshot that carried a reconciler notice.
	Notice       string
	ConnectionID string
}

// Last returns the final transcript message.
func (s Snapshot) Last() (models.Message, bool) {
	if len(s.Transcript) == 0 {
		return models.Message{}, false
	}
	return s.Transcript[len(s.Transcript)-1], true
}

// Renderer displays snapshots. Render is called on the engine goroutine
// after every state change and must not block.
type Renderer interface {
	Render(Snapshot)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Snapshot)

func (f RendererFunc) Render(s Snapshot) { f(s) }

// NewSessionID returns "session-" followed by two base-36 random fragments.
func NewSessionID() string {
	return "session-" + strconv.FormatUint(rand.Uint64(), 36) + strconv.FormatUint(rand.Uint64(), 36)
}
