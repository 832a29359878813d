package frame

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/raphaelgruber/chatsync/internal/auth"
	"github.com/raphaelgruber/chatsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classify(t *testing.T, raw string) Event {
	t.Helper()
	f, err := Decode([]byte(raw))
	require.NoError(t, err)
	return Classify(f)
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{`{"type":`, `[1,2]`, `null`, `"pong"`, ``} {
		_, err := Decode([]byte(raw))
		assert.True(t, errors.Is(err, ErrMalformed), "input %q", raw)
	}
}

func TestClassifyKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{"message start", `{"type":"message_start","message":{"model":"claude"}}`, MessageStart},
		{"delta", `{"type":"content_block_delta","delta":{"text":"Hi"}}`, ContentDelta},
		{"stop", `{"type":"message_stop"}`, MessageStop},
		{"error", `{"type":"error","error":"boom"}`, Error},
		{"image", `{"type":"image_generated","image_url":"https://i"}`, ImageGenerated},
		{"video", `{"type":"video_generated","video_url":"https://v"}`, VideoGenerated},
		{"history", `{"type":"conversation_history","chunk":"[]","current_chunk":1,"last_message":true}`, ConversationHistoryChunk},
		{"list", `{"type":"load_conversation_list","conversation_list":[]}`, ConversationListLoaded},
		{"config", `{"type":"load_response","load_models":[]}`, ConfigLoadResponse},
		{"config with scan", `{"type":"load_response","modelscan":true}`, ModelScanComplete},
		{"config with false scan", `{"type":"load_response","modelscan":false}`, ConfigLoadResponse},
		{"modelscan type", `{"type":"modelscan"}`, ModelScanComplete},
		{"pong", `{"type":"pong","connectionId":"c1"}`, ConnectionEstablished},
		{"no conversation", `{"type":"no_conversation_to_load"}`, NoConversationToLoad},
		{"expired", `{"type":"session_expired"}`, SessionExpired},
		{"unknown type", `{"type":"telemetry"}`, Unrecognized},
		{"ill-typed payload", `{"type":"content_block_delta","delta":"oops"}`, Unrecognized},
		{"legacy pong", `{"message":"pong","connectionId":"c2"}`, ConnectionEstablished},
		{"legacy no conversation", `{"message":"No conversation to load"}`, NoConversationToLoad},
		{"legacy expired", `{"message":"Session expired, please sign in"}`, SessionExpired},
		{"legacy gateway error", `{"message":"Internal server error","connectionId":"c3","requestId":"r"}`, Error},
		{"legacy nothing", `{"hello":"world"}`, Unrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(t, tt.raw).Kind)
		})
	}
}

func TestClassifyPayloads(t *testing.T) {
	t.Run("start carries model and kb session", func(t *testing.T) {
		ev := classify(t, `{"type":"message_start","message":{"model":"m1"},"kb_session_id":"kb"}`)
		require.NotNil(t, ev.Start)
		assert.Equal(t, "m1", ev.Start.Model)
		assert.Equal(t, "kb", ev.Start.KBSessionID)
		assert.Empty(t, ev.Start.MessageID)
	})

	t.Run("message ids on start and stop", func(t *testing.T) {
		assert.Equal(t, "a1", classify(t, `{"type":"message_start","message":{"model":"m1","id":"a1"}}`).Start.MessageID)
		assert.Equal(t, "a2", classify(t, `{"type":"message_start","message":{"id":"a1"},"message_id":"a2"}`).Start.MessageID)
		assert.Equal(t, "a3", classify(t, `{"type":"message_stop","message_id":"a3"}`).Stop.MessageID)
	})

	t.Run("hyphenated metrics key is normalized", func(t *testing.T) {
		ev := classify(t, `{"type":"message_stop","amazon-bedrock-invocationMetrics":{"inputTokenCount":5,"outputTokenCount":2,"invocationLatency":300,"firstByteLatency":90}}`)
		require.NotNil(t, ev.Stop)
		require.NotNil(t, ev.Stop.Metrics)
		assert.Equal(t, InvocationMetrics{InputTokenCount: 5, OutputTokenCount: 2, InvocationLatency: 300, FirstByteLatency: 90}, *ev.Stop.Metrics)
		assert.Equal(t, "5230090", ev.Stop.Metrics.TokenIdentifier())
	})

	t.Run("stop without metrics", func(t *testing.T) {
		ev := classify(t, `{"type":"message_stop","new_conversation":true,"session_id":"s1"}`)
		require.NotNil(t, ev.Stop)
		assert.Nil(t, ev.Stop.Metrics)
		assert.True(t, ev.Stop.NewConversation)
		assert.Equal(t, "s1", ev.Stop.SessionID)
	})

	t.Run("stop reason locations", func(t *testing.T) {
		for _, raw := range []string{
			`{"type":"message_stop","message_stop_reason":"max_tokens"}`,
			`{"type":"message_stop","stop_reason":"max_tokens"}`,
			`{"type":"message_stop","delta":{"stop_reason":"max_tokens"}}`,
		} {
			assert.Equal(t, StopReasonMaxTokens, classify(t, raw).Stop.StopReason, raw)
		}
	})

	t.Run("delta with metrics", func(t *testing.T) {
		ev := classify(t, `{"type":"content_block_delta","delta":{"text":"x"},"message_stop_reason":"max_tokens","amazon_bedrock_invocation_metrics":{"outputTokenCount":"4096"}}`)
		require.NotNil(t, ev.Delta)
		assert.Equal(t, "x", ev.Delta.Text)
		assert.Equal(t, StopReasonMaxTokens, ev.Delta.StopReason)
		assert.Equal(t, 4096, ev.Delta.Metrics.OutputTokenCount)
	})

	t.Run("error message fallbacks", func(t *testing.T) {
		assert.Equal(t, "boom", classify(t, `{"type":"error","error":"boom"}`).Err.Message)
		assert.Equal(t, "nested", classify(t, `{"type":"error","error":{"message":"nested"}}`).Err.Message)
		assert.Equal(t, "msg", classify(t, `{"type":"error","message":"msg"}`).Err.Message)
		assert.Equal(t, "Internal server error", classify(t, `{"message":"Internal server error"}`).Err.Message)
	})

	t.Run("media", func(t *testing.T) {
		ev := classify(t, `{"type":"video_generated","video_url":"https://v/1.mp4","prompt":"cat","message_id":"m9","modelId":"nova-reel","timestamp":"2026-10-14T00:00:00.000Z"}`)
		require.NotNil(t, ev.Media)
		assert.Equal(t, models.PartVideo, ev.Media.Kind)
		assert.Equal(t, "https://v/1.mp4", ev.Media.URL)
		assert.Equal(t, "m9", ev.Media.MessageID)
		assert.Equal(t, "nova-reel", ev.Media.ModelID)
	})

	t.Run("history chunk is a JSON string", func(t *testing.T) {
		items := `[{"role":"user","content":"Hello","message_id":"h1"},{"role":"assistant","content":"Hi","message_id":"a1","message_stop_reason":"max_tokens","output_token_count":10}]`
		raw, err := json.Marshal(map[string]any{
			"type": "conversation_history", "chunk": items, "current_chunk": "2", "last_message": "true", "session_id": "s1",
		})
		require.NoError(t, err)
		ev := classify(t, string(raw))
		require.NotNil(t, ev.History)
		assert.Equal(t, 2, ev.History.CurrentChunk)
		assert.True(t, ev.History.LastMessage)
		assert.Equal(t, "s1", ev.History.SessionID)
		require.Len(t, ev.History.Items, 2)
		assert.Equal(t, models.RoleHuman, ev.History.Items[0].Message.Role)
		assert.Equal(t, "a1", ev.History.Items[1].Message.MessageID)
		assert.Equal(t, StopReasonMaxTokens, ev.History.Items[1].StopReason)
	})

	t.Run("conversation list kept verbatim", func(t *testing.T) {
		ev := classify(t, `{"type":"load_conversation_list","conversation_list":[{"session_id":"s1","title":"T","last_message_id":"m1"}]}`)
		require.NotNil(t, ev.List)
		require.Len(t, ev.List.Summaries, 1)
		assert.Equal(t, "m1", ev.List.Summaries[0].LastMessageID)
		assert.JSONEq(t, `[{"session_id":"s1","title":"T","last_message_id":"m1"}]`, string(ev.List.Raw))
	})

	t.Run("connection id", func(t *testing.T) {
		assert.Equal(t, "c1", classify(t, `{"type":"pong","connectionId":"c1"}`).ConnectionID)
	})
}

func TestClassifyIsTotal(t *testing.T) {
	inputs := []string{`{}`, `{"type":1}`, `{"type":"message_start","message":[]}`, `{"type":"conversation_history","chunk":"not json"}`}
	for _, raw := range inputs {
		ev := classify(t, raw)
		assert.NotEmpty(t, ev.Kind.String(), raw)
	}
}

func TestMaxTokensNotice(t *testing.T) {
	n := MaxTokensNotice(4096)
	assert.Contains(t, n, "reached the maximum size")
	assert.Contains(t, n, "4096")
	assert.False(t, strings.Contains(MaxTokensNotice(0), " 0 "))
}

func TestOutboundFrames(t *testing.T) {
	tokens := auth.TokenPair{IDToken: "id", AccessToken: "ac"}
	sess := models.Session{SessionID: "session-abc", KBSessionID: "kb1"}
	mode := Mode{Category: "Bedrock Models", ModelID: "anthropic.claude"}

	b, err := json.Marshal(ConfigFrame(SubactionLoadModels, tokens))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"config","subaction":"load_models","idToken":"id","accessToken":"ac"}`, string(b))

	msg := models.Message{Role: models.RoleHuman, Content: models.NewTextContent("Hello"), MessageID: "h1", Timestamp: models.StringPtr("t0")}
	b, err = json.Marshal(ChatFrame(sess, mode, msg, nil, tokens))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat","session_id":"session-abc","kb_session_id":"kb1",
		"selected_mode":{"category":"Bedrock Models","modelId":"anthropic.claude"},
		"idToken":"id","accessToken":"ac","prompt":"Hello","message_id":"h1","timestamp":"t0"}`, string(b))

	b, err = json.Marshal(LoadFrame(sess, mode, "m7", tokens))
	require.NoError(t, err)
	var load map[string]any
	require.NoError(t, json.Unmarshal(b, &load))
	assert.Equal(t, "load", load["type"])
	assert.Equal(t, "m7", load["last_message_id"])

	b, err = json.Marshal(ClearConversationFrame(sess, mode, tokens))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"clear_conversation"`)
}
