package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	metricsKey       = "amazon_bedrock_invocation_metrics"
	legacyMetricsKey = "amazon-bedrock-invocationMetrics"

	// StopReasonMaxTokens marks a generation cut off at the model's output limit.
	StopReasonMaxTokens = "max_tokens"
)

// InvocationMetrics are the gateway's per-generation usage figures.
type InvocationMetrics struct {
	InputTokenCount   int `json:"inputTokenCount"`
	OutputTokenCount  int `json:"outputTokenCount"`
	InvocationLatency int `json:"invocationLatency"`
	FirstByteLatency  int `json:"firstByteLatency"`
}

// UnmarshalJSON tolerates numeric strings and fractional numbers.
func (m *InvocationMetrics) UnmarshalJSON(data []byte) error {
	var raw struct {
		InputTokenCount   flexInt `json:"inputTokenCount"`
		OutputTokenCount  flexInt `json:"outputTokenCount"`
		InvocationLatency flexInt `json:"invocationLatency"`
		FirstByteLatency  flexInt `json:"firstByteLatency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = InvocationMetrics{
		InputTokenCount:   int(raw.InputTokenCount),
		OutputTokenCount:  int(raw.OutputTokenCount),
		InvocationLatency: int(raw.InvocationLatency),
		FirstByteLatency:  int(raw.FirstByteLatency),
	}
	return nil
}

// TokenIdentifier concatenates the four metric figures. Two finalize frames
// with the same identifier are treated as one retransmitted frame.
func (m InvocationMetrics) TokenIdentifier() string {
	return fmt.Sprintf("%d%d%d%d", m.InputTokenCount, m.OutputTokenCount, m.InvocationLatency, m.FirstByteLatency)
}

// normalizeMetrics renames the hyphenated metrics key to its snake_case form.
// The original map is left untouched.
func normalizeMetrics(fields map[string]json.RawMessage) map[string]json.RawMessage {
	legacy, ok := fields[legacyMetricsKey]
	if !ok {
		return fields
	}
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if k != legacyMetricsKey {
			out[k] = v
		}
	}
	if _, exists := out[metricsKey]; !exists {
		out[metricsKey] = legacy
	}
	return out
}

// MaxTokensNotice is appended to content cut off at the output token limit.
// outputTokens <= 0 omits the count.
func MaxTokensNotice(outputTokens int) string {
	limit := ""
	if outputTokens > 0 {
		limit = fmt.Sprintf(" of %d output tokens", outputTokens)
	}
	return "\n\n---\n_This response reached the maximum size" + limit +
		" and was cut off. Ask me to continue to get the rest._"
}

// flexInt decodes JSON numbers, numeric strings, and null.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*n = flexInt(math.Round(f))
	return nil
}

// flexBool decodes JSON booleans and the strings "true"/"false".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	*b = flexBool(s == "true" || s == "1")
	return nil
}
