package reconciler

import (
	"strings"

	"github.com/raphaelgruber/chatsync/internal/models"
)

// PersistableSnapshot returns the part of a transcript that is written to
// durable storage. It drops error-marked messages, the human prompt
// directly before an errored assistant message, the message directly after
// an error-marked message, and any still-streaming message.
func PersistableSnapshot(msgs []models.Message) []models.Message {
	drop := make([]bool, len(msgs))
	for i, m := range msgs {
		if m.IsStreaming {
			drop[i] = true
		}
		if !m.HasError() {
			continue
		}
		drop[i] = true
		if i > 0 && m.Role == models.RoleAssistant && msgs[i-1].Role == models.RoleHuman {
			drop[i-1] = true
		}
		if i+1 < len(msgs) {
			drop[i+1] = true
		}
	}

	out := make([]models.Message, 0, len(msgs))
	for i, m := range msgs {
		if !drop[i] {
			out = append(out, m)
		}
	}
	return out
}

var (
	quotaPatterns = []string{
		"throttl", "too many requests", "rate limit", "rate exceeded",
		"quota", "limit exceeded", "servicequotaexceeded",
	}
	policyPatterns = []string{
		"content policy", "content filter", "guardrail", "blocked by",
		"violat", "inappropriate", "safety",
	}
)

const (
	quotaCopy  = "The model is handling too many requests right now or your usage quota was reached. Wait a moment, then retry."
	policyCopy = "This request was blocked by a content policy. Rephrase the message and retry."
)

// FriendlyError returns user-facing text for a backend error message.
// Quota and content-policy errors get explanatory copy followed by the
// original message; anything else is returned unchanged.
func FriendlyError(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, quotaPatterns):
		return quotaCopy + "\n\n" + msg
	case containsAny(lower, policyPatterns):
		return policyCopy + "\n\n" + msg
	case strings.TrimSpace(msg) == "":
		return "Something went wrong while generating the response. Retry to send the message again."
	default:
		return msg
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
