// Package nlp talks to the natural-language collaborator that interprets
// free-text chat messages.
package nlp

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// DefaultIntent is reported when the collaborator does not classify a message.
const DefaultIntent = "unknown"

// ErrRejected is returned when the collaborator answers with an error payload
// or a body that cannot be normalized.
var ErrRejected = errors.New("nlp service rejected the request")

// Turn is one prior exchange passed along for context.
type Turn struct {
	Text   string
	IsUser bool
}

// Request is a single free-text message from an owner.
type Request struct {
	OwnerID string
	Text    string
	// History is the recent conversation, oldest first. Collaborators that
	// keep their own context may ignore it.
	History []Turn
}

// Reply is the normalized answer of the collaborator.
type Reply struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Data       any     `json:"data"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	UserID     string  `json:"user_id,omitempty"`
}

// Client is the contract of the natural-language collaborator.
type Client interface {
	// SendMessage forwards one message. Transport failures are returned as
	// errors and are never retried.
	SendMessage(ctx context.Context, req Request) (*Reply, error)
	// ClearContext asks the collaborator to forget the owner's conversation.
	ClearContext(ctx context.Context, ownerID string) (bool, error)
	// Health reports the collaborator's own status payload.
	Health(ctx context.Context) (map[string]any, error)
	// UpdateProductIntents notifies the collaborator that a product changed.
	UpdateProductIntents(ctx context.Context, product map[string]any, action string) (bool, error)
}

// Normalize turns a raw collaborator payload into a Reply.
//
// A payload carrying "error" is rejected. A payload with "message" but no
// "status" is treated as a bare success answer. Any other payload without
// "status" is malformed.
func Normalize(raw map[string]any, ownerID string) (*Reply, error) {
	if raw == nil {
		return nil, errors.Wrap(ErrRejected, "empty response")
	}
	if e, ok := raw["error"]; ok && e != nil {
		return nil, errors.Wrapf(ErrRejected, "%v", e)
	}

	_, hasStatus := raw["status"]
	msg, hasMessage := raw["message"]
	if !hasStatus && !hasMessage {
		return nil, errors.Wrap(ErrRejected, "invalid response format")
	}

	reply := &Reply{
		Status:     "success",
		Message:    stringOf(msg),
		Data:       raw["data"],
		Intent:     DefaultIntent,
		Confidence: 0,
		UserID:     ownerID,
	}
	if hasStatus {
		reply.Status = stringOf(raw["status"])
	}
	if intent := stringOf(raw["intent"]); intent != "" {
		reply.Intent = intent
	}
	reply.Confidence = floatOf(raw["confidence"])
	if uid := stringOf(raw["user_id"]); uid != "" {
		reply.UserID = uid
	}
	return reply, nil
}

// succeeded reports whether a non-critical call was acknowledged.
func succeeded(raw map[string]any) bool {
	if ok, _ := raw["success"].(bool); ok {
		return true
	}
	return stringOf(raw["status"]) == "success"
}

func stringOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func floatOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
