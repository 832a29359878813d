// Package store persists client state: cached transcripts, the token ledger,
// dedup markers, and the cached conversation listing.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/chatsync/internal/models"
)

// ErrNotFound indicates the requested key does not exist.
var ErrNotFound = errors.New("key not found")

// Durable keys.
const (
	TranscriptPrefix       = "chatHistory-"
	KeyLastTokenIdentifier = "lastTokenIdentifier"
	KeySelectedChatID      = "selectedChatId"
	KeyConversationList    = "load_conversation_list"
)

// KV is a string key/value store. Implementations must be safe for use by
// one writer and concurrent readers.
type KV interface {
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
	// Keys returns the keys starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Store exposes the typed client state on top of a KV.
type Store struct {
	kv KV
}

// New wraps kv.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// KV returns the underlying key/value store.
func (s *Store) KV() KV {
	return s.kv
}

// Close closes the underlying KV.
func (s *Store) Close() error {
	return s.kv.Close()
}

// TranscriptKey returns the storage key of a session's transcript.
func TranscriptKey(sessionID string) string {
	return TranscriptPrefix + sessionID
}

// LoadTranscript returns the cached transcript of a session.
// A missing transcript is (nil, nil).
func (s *Store) LoadTranscript(ctx context.Context, sessionID string) ([]models.Message, error) {
	raw, err := s.kv.Get(ctx, TranscriptKey(sessionID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	var msgs []models.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", sessionID, err)
	}
	return msgs, nil
}

// SaveTranscript replaces the cached transcript of a session.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, msgs []models.Message) error {
	if msgs == nil {
		msgs = []models.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := s.kv.Set(ctx, TranscriptKey(sessionID), string(data)); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// DeleteTranscript drops a session's cached transcript.
func (s *Store) DeleteTranscript(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, TranscriptKey(sessionID)); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}

// CachedSessions returns the ids of all sessions with a cached transcript.
func (s *Store) CachedSessions(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, TranscriptPrefix)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, TranscriptPrefix))
	}
	return ids, nil
}

// LastTokenIdentifier returns the identifier of the last accounted finalize, or "".
func (s *Store) LastTokenIdentifier(ctx context.Context) (string, error) {
	return s.getOptional(ctx, KeyLastTokenIdentifier)
}

// SetLastTokenIdentifier records the identifier of an accounted finalize.
func (s *Store) SetLastTokenIdentifier(ctx context.Context, id string) error {
	if err := s.kv.Set(ctx, KeyLastTokenIdentifier, id); err != nil {
		return fmt.Errorf("save token identifier: %w", err)
	}
	return nil
}

// SelectedChatID returns the last selected session id, or "".
func (s *Store) SelectedChatID(ctx context.Context) (string, error) {
	return s.getOptional(ctx, KeySelectedChatID)
}

// SetSelectedChatID records the selected session id.
func (s *Store) SetSelectedChatID(ctx context.Context, id string) error {
	if err := s.kv.Set(ctx, KeySelectedChatID, id); err != nil {
		return fmt.Errorf("save selected chat: %w", err)
	}
	return nil
}

// ConversationList returns the cached listing exactly as it was received,
// or nil when none is cached.
func (s *Store) ConversationList(ctx context.Context) (json.RawMessage, error) {
	raw, err := s.getOptional(ctx, KeyConversationList)
	if err != nil || raw == "" {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// SetConversationList replaces the cached listing.
func (s *Store) SetConversationList(ctx context.Context, raw json.RawMessage) error {
	if err := s.kv.Set(ctx, KeyConversationList, string(raw)); err != nil {
		return fmt.Errorf("save conversation list: %w", err)
	}
	return nil
}

func (s *Store) getOptional(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}
