package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds every call to the HTTP collaborator.
const DefaultTimeout = 10 * time.Second

const (
	messagePath = "/api/chatbot"
	clearPath   = "/api/chatbot/context/clear"
	healthPath  = "/api/chatbot/health"
	intentsPath = "/api/chatbot/update-product-intents"
)

// HTTPClient is a Client for a collaborator reachable over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SendMessage posts the message and normalizes the answer. History is not
// sent; the service keeps its own per-user context.
func (c *HTTPClient) SendMessage(ctx context.Context, req Request) (*Reply, error) {
	raw, err := c.do(ctx, http.MethodPost, messagePath, map[string]any{
		"message": req.Text,
		"user_id": req.OwnerID,
	})
	if err != nil {
		return nil, err
	}
	return Normalize(raw, req.OwnerID)
}

// ClearContext asks the service to drop the owner's context.
func (c *HTTPClient) ClearContext(ctx context.Context, ownerID string) (bool, error) {
	raw, err := c.do(ctx, http.MethodPost, clearPath, map[string]any{"user_id": ownerID})
	if err != nil {
		return false, err
	}
	return succeeded(raw), nil
}

// Health returns the service health payload.
func (c *HTTPClient) Health(ctx context.Context) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, healthPath, nil)
}

// UpdateProductIntents forwards a product change.
func (c *HTTPClient) UpdateProductIntents(ctx context.Context, product map[string]any, action string) (bool, error) {
	raw, err := c.do(ctx, http.MethodPost, intentsPath, map[string]any{
		"product": product,
		"action":  action,
	})
	if err != nil {
		return false, err
	}
	return succeeded(raw), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("nlp request failed", "path", path, "error", err,
			"latency_ms", time.Since(start).Milliseconds())
		return nil, errors.Wrapf(err, "nlp request %s failed", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read nlp response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.Wrap(ErrRejected, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(ErrRejected, "response is not a JSON object")
	}

	slog.Debug("nlp request completed", "path", path, "status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds())
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
