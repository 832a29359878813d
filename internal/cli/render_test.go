package cli

import (
	"bytes"
	"testing"

	"github.com/raphaelgruber/chatsync/internal/chat"
	"github.com/raphaelgruber/chatsync/internal/models"
	"github.com/stretchr/testify/assert"
)

func human(id, text string) models.Message {
	return models.Message{Role: models.RoleHuman, Content: models.NewTextContent(text), MessageID: id}
}

func assistant(text string, streaming bool) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: models.NewTextContent(text), IsStreaming: streaming}
}

func snapshot(msgs ...models.Message) chat.Snapshot {
	return chat.Snapshot{Session: models.Session{SessionID: "s1"}, Transcript: msgs}
}

func TestTerminalRendererStreams(t *testing.T) {
	var out bytes.Buffer
	r := newTerminalRenderer(&out, false)

	r.Render(snapshot())
	r.Render(snapshot(human("h1", "Hello"), assistant("", true)))
	r.Render(snapshot(human("h1", "Hello"), assistant("Hi", true)))
	r.Render(snapshot(human("h1", "Hello"), assistant("Hi there", true)))
	r.Render(snapshot(human("h1", "Hello"), assistant("Hi there", false)))

	assert.Equal(t, "── s1 ──\nyou › Hello\nassistant › Hi there\n", out.String())
}

func TestTerminalRendererError(t *testing.T) {
	var out bytes.Buffer
	r := newTerminalRenderer(&out, false)

	failed := assistant("", false)
	failed.Error = models.StringPtr("Endpoint request timed out")
	r.Render(snapshot(human("h1", "Hello"), assistant("", true)))
	r.Render(snapshot(human("h1", "Hello"), failed))

	assert.Contains(t, out.String(), "✗ Endpoint request timed out")
	assert.Contains(t, out.String(), "/retry")
}

func TestTerminalRendererReprintsChangedTail(t *testing.T) {
	var out bytes.Buffer
	r := newTerminalRenderer(&out, false)

	r.Render(snapshot(human("h1", "one"), assistant("first", false)))
	out.Reset()

	// Same prefix, replaced tail: only the new messages are printed.
	r.Render(snapshot(human("h1", "one"), assistant("second", false)))
	assert.Equal(t, "assistant › second\n", out.String())

	out.Reset()
	r.Render(chat.Snapshot{Session: models.Session{SessionID: "s2"}, Loading: true})
	assert.Equal(t, "── s2 ──\nloading history...\n", out.String())
}

func TestTerminalRendererNotice(t *testing.T) {
	var out bytes.Buffer
	r := newTerminalRenderer(&out, false)

	s := snapshot()
	s.Notice = "Session expired. Sign in again."
	r.Render(s)
	assert.Contains(t, out.String(), "Session expired. Sign in again.\n")
}
