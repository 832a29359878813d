// Package history decides how a session's transcript is loaded: from the
// local cache, from the backend, or from the cache followed by an
// incremental backend fetch.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/chatsync/internal/models"
)

// Kind is a load strategy.
type Kind int

const (
	// LoadFull requests the entire history from the backend.
	LoadFull Kind = iota
	// UseCache treats the cached transcript as authoritative.
	UseCache
	// LoadIncremental displays the cache, then requests messages after AfterMessageID.
	LoadIncremental
)

func (k Kind) String() string {
	switch k {
	case LoadFull:
		return "full"
	case UseCache:
		return "cache"
	case LoadIncremental:
		return "incremental"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Strategy is the outcome of Plan.
type Strategy struct {
	Kind           Kind
	AfterMessageID string
}

// NeedsFetch reports whether the strategy sends a load request.
func (s Strategy) NeedsFetch() bool {
	return s.Kind != UseCache
}

// Plan picks the load strategy for a session from its cached transcript and
// its listing entry. summary may be nil when the session is not listed yet.
// The anchor is the last cached message carrying an id; an assistant reply
// finalized from a text stream may have none.
func Plan(cached []models.Message, summary *models.ConversationSummary) Strategy {
	if len(cached) == 0 {
		return Strategy{Kind: LoadFull}
	}
	i := Anchor(cached)
	if i < 0 {
		return Strategy{Kind: LoadFull}
	}
	last := cached[i].MessageID
	if summary != nil && summary.LastMessageID == last {
		return Strategy{Kind: UseCache}
	}
	return Strategy{Kind: LoadIncremental, AfterMessageID: last}
}

// Anchor returns the index of the last message with a non-empty id, or -1.
func Anchor(msgs []models.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].MessageID != "" {
			return i
		}
	}
	return -1
}

// TrimAfter returns msgs up to and including the last message with id.
// When no message has id, msgs is returned unchanged.
func TrimAfter(msgs []models.Message, id string) []models.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if id != "" && msgs[i].MessageID == id {
			return msgs[: i+1 : i+1]
		}
	}
	return msgs
}

// FindSummary returns the listing entry of sessionID.
func FindSummary(list []models.ConversationSummary, sessionID string) (*models.ConversationSummary, bool) {
	for i := range list {
		if list[i].SessionID == sessionID {
			return &list[i], true
		}
	}
	return nil, false
}

// ParseConversationList decodes a cached or received listing. The backend
// sends either an array or a JSON string holding one; empty input and null
// yield an empty list.
func ParseConversationList(raw json.RawMessage) ([]models.ConversationSummary, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode conversation list: %w", err)
		}
		return ParseConversationList(json.RawMessage(s))
	}
	var list []models.ConversationSummary
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode conversation list: %w", err)
	}
	return list, nil
}

// MergeMissing appends the items whose message id is not already present in
// base. Items without an id are always appended. base is not modified.
func MergeMissing(base, items []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(base))
	for _, m := range base {
		if m.MessageID != "" {
			seen[m.MessageID] = struct{}{}
		}
	}
	out := models.CloneTranscript(base)
	for _, m := range items {
		if m.MessageID != "" {
			if _, ok := seen[m.MessageID]; ok {
				continue
			}
			seen[m.MessageID] = struct{}{}
		}
		out = append(out, m)
	}
	return out
}
