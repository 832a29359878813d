// Package models defines the data structures shared by the chat client:
// transcripts, sessions, and conversation listings.
package models

// CloneTranscript returns a copy of msgs that shares no backing array with it.
// Message fields holding pointers or raw bytes are shared; callers treat them as immutable.
func CloneTranscript(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
