package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxMessages caps a persisted conversation log; the oldest entries go first.
const MaxMessages = 50

// DefaultScope prefixes every storage key.
const DefaultScope = "chatbot"

const (
	// MessageFallback replaces the bot reply when a message could not be answered.
	MessageFallback = "Sorry, I encountered an error. Please try again later."
	// CommandFallback replaces the bot reply when a command could not be run.
	CommandFallback = "Sorry, I encountered an error. Please try again."
)

// Message is one chat bubble as persisted in client storage.
type Message struct {
	Message   string         `json:"message"`
	IsUser    bool           `json:"isUser"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Intent    string         `json:"intent,omitempty"`
}

// View is the panel shown under the conversation.
type View string

const (
	ViewCommands   View = "commands"
	ViewSearch     View = "search"
	ViewCalculator View = "calculator"
)

func messagesKey(scope, userID string) string {
	return scope + "_" + userID + "_messages"
}

func contextKey(scope, userID string) string {
	return scope + "_" + userID + "_context"
}

func capMessages(messages []Message) []Message {
	if len(messages) > MaxMessages {
		return messages[len(messages)-MaxMessages:]
	}
	return messages
}

func decodeMessages(raw []byte) ([]Message, error) {
	var messages []Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, err
	}
	return capMessages(messages), nil
}

// commandLabel is the user bubble text for a command, matching what the
// server records in session history.
func commandLabel(command string, params map[string]any) string {
	name := strings.ToUpper(strings.TrimSpace(command))
	switch name {
	case "SEARCH":
		if kw := labelParam(params, "keyword"); kw != "" {
			return "Search: " + kw
		}
	case "CALCULATOR":
		if kind := labelParam(params, "material_type"); kind != "" {
			return "Calculator: " + kind
		}
	case "":
		return "HELP"
	}
	return name
}

func labelParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
