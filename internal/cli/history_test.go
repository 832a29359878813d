package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/raphaelgruber/chatsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleTranscript() []models.Message {
	return []models.Message{
		{Role: models.RoleHuman, Content: models.NewTextContent("Hello"), MessageID: "h1", Timestamp: models.StringPtr("2026-10-14T09:00:00.000Z")},
		{Role: models.RoleAssistant, Content: models.NewTextContent("Hi"), MessageID: "a1", Model: "claude", InputTokenCount: 5, OutputTokenCount: 2},
	}
}

func TestWriteTranscript(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeTranscript(&buf, formatText, sampleTranscript()))
		assert.Equal(t, "human [2026-10-14T09:00:00.000Z]:\nHello\n\nassistant:\nHi\n\n", buf.String())
	})

	t.Run("json keeps stored shape", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeTranscript(&buf, formatJSON, sampleTranscript()))
		var got []models.Message
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, sampleTranscript(), got)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeTranscript(&buf, formatYAML, sampleTranscript()))
		var got []exportMessage
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "assistant", got[1].Role)
		assert.Equal(t, 2, got[1].OutputTokens)
		assert.NotContains(t, buf.String(), "error:")
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Error(t, writeTranscript(&bytes.Buffer{}, "xml", sampleTranscript()))
	})
}

func TestSessionRows(t *testing.T) {
	list := []models.ConversationSummary{
		{SessionID: "s2", Title: "Second"},
		{SessionID: "s1", Title: "First"},
	}
	rows := sessionRows(list, []string{"local", "s1"}, "local")

	require.Len(t, rows, 3)
	assert.Equal(t, sessionRow{id: "s2", title: "Second"}, rows[0])
	assert.Equal(t, sessionRow{id: "s1", title: "First", cached: true}, rows[1])
	assert.Equal(t, sessionRow{id: "local", cached: true, selected: true}, rows[2])
}
