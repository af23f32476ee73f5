package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidReply is returned when the server answers without a message.
var ErrInvalidReply = errors.New("invalid chatbot reply")

// BotReply is the answer to a free-text message.
type BotReply struct {
	Message     string         `json:"message"`
	MessageHTML string         `json:"message_html,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Intent      string         `json:"intent"`
	Confidence  float64        `json:"confidence"`
}

// CommandReply is a structured command envelope. Type and Message are
// lifted out; Fields keeps the full decoded envelope.
type CommandReply struct {
	Type    string
	Message string
	Fields  map[string]any
}

// Transport carries manager calls to the chatbot API.
type Transport interface {
	SendMessage(ctx context.Context, user User, text string) (*BotReply, error)
	SendCommand(ctx context.Context, user User, command string, params map[string]any) (*CommandReply, error)
	ClearContext(ctx context.Context, user User) (bool, error)
}

// HTTPTransport talks to the chatbot HTTP API with the user's bearer token.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport for baseURL. A non-positive timeout
// means 10 seconds.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) SendMessage(ctx context.Context, user User, text string) (*BotReply, error) {
	var reply BotReply
	if err := t.post(ctx, user, "/api/chatbot/message", map[string]any{
		"message": text,
		"user_id": user.ID,
	}, &reply); err != nil {
		return nil, err
	}
	if reply.Message == "" {
		return nil, ErrInvalidReply
	}
	if reply.Intent == "" {
		reply.Intent = "unknown"
	}
	return &reply, nil
}

func (t *HTTPTransport) SendCommand(ctx context.Context, user User, command string, params map[string]any) (*CommandReply, error) {
	if params == nil {
		params = map[string]any{}
	}
	var fields map[string]any
	if err := t.post(ctx, user, "/api/chatbot/command", map[string]any{
		"command": command,
		"params":  params,
		"user_id": user.ID,
	}, &fields); err != nil {
		return nil, err
	}
	reply := &CommandReply{Fields: fields}
	reply.Type, _ = fields["type"].(string)
	reply.Message, _ = fields["message"].(string)
	if reply.Type == "" {
		return nil, ErrInvalidReply
	}
	return reply, nil
}

func (t *HTTPTransport) ClearContext(ctx context.Context, user User) (bool, error) {
	var body struct {
		Success bool `json:"success"`
	}
	if err := t.post(ctx, user, "/api/chatbot/context/clear", map[string]any{"user_id": user.ID}, &body); err != nil {
		return false, err
	}
	return body.Success, nil
}

func (t *HTTPTransport) post(ctx context.Context, user User, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if user.Token != "" {
		req.Header.Set("Authorization", "Bearer "+user.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("chatbot API %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(ErrInvalidReply, err.Error())
	}
	return nil
}
