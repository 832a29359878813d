package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/raphaelgruber/chatsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKV(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "b", "2"))
	require.NoError(t, kv.Set(ctx, "a", "1"))
	require.NoError(t, kv.Set(ctx, "other", "x"))

	v, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	keys, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "other"}, keys)

	require.NoError(t, kv.Delete(ctx, "a"))
	require.NoError(t, kv.Delete(ctx, "a"))
	_, err = kv.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreTranscript(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())

	msgs, err := s.LoadTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, msgs)

	want := []models.Message{
		{Role: models.RoleHuman, Content: models.NewTextContent("Hello"), MessageID: "h1", Timestamp: models.StringPtr("t0")},
		{Role: models.RoleAssistant, Content: models.NewTextContent("Hi"), MessageID: "a1", InputTokenCount: 5, OutputTokenCount: 2},
	}
	require.NoError(t, s.SaveTranscript(ctx, "s1", want))

	raw, err := s.KV().Get(ctx, "chatHistory-s1")
	require.NoError(t, err)
	assert.Contains(t, raw, `"message_id":"h1"`)

	got, err := s.LoadTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.SaveTranscript(ctx, "s2", nil))
	ids, err := s.CachedSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	empty, err := s.LoadTranscript(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.DeleteTranscript(ctx, "s1"))
	got, err = s.LoadTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreCorruptTranscript(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	require.NoError(t, kv.Set(ctx, TranscriptKey("bad"), "{not json"))

	_, err := New(kv).LoadTranscript(ctx, "bad")
	assert.Error(t, err)
}

func TestStoreScalars(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())

	id, err := s.LastTokenIdentifier(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
	require.NoError(t, s.SetLastTokenIdentifier(ctx, "523009"))
	id, err = s.LastTokenIdentifier(ctx)
	require.NoError(t, err)
	assert.Equal(t, "523009", id)

	require.NoError(t, s.SetSelectedChatID(ctx, "session-x"))
	sel, err := s.SelectedChatID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session-x", sel)

	list, err := s.ConversationList(ctx)
	require.NoError(t, err)
	assert.Nil(t, list)

	raw := json.RawMessage(`[{"session_id":"s1","title":"First"}]`)
	require.NoError(t, s.SetConversationList(ctx, raw))
	list, err = s.ConversationList(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(list))
}
