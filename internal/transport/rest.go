package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// REST posts outbound frames to the HTTP fallback endpoint.
type REST struct {
	endpoint   string
	httpClient *http.Client
}

// NewREST returns a REST client for endpoint. timeout <= 0 uses 60s.
func NewREST(endpoint string, timeout time.Duration) *REST {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &REST{endpoint: endpoint, httpClient: &http.Client{Timeout: timeout}}
}

// Post sends v and returns the response as raw frames: a JSON object is one
// frame, a JSON array is one frame per element, an empty body is none.
func (c *REST) Post(ctx context.Context, v any) ([][]byte, error) {
	reqBody, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server error: %s - %s", resp.Status, string(body))
	}
	return splitFrames(body)
}

func splitFrames(body []byte) ([][]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] != '[' {
		return [][]byte{body}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	frames := make([][]byte, 0, len(items))
	for _, item := range items {
		frames = append(frames, []byte(item))
	}
	return frames, nil
}
