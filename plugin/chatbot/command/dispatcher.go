// Package command interprets chat traffic for one owner: free-text messages
// go to the natural-language collaborator, structured commands are answered
// from the catalog and calculator. Every exchange lands in the owner's
// session history.
package command

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/hrygo/construkt/plugin/chatbot/catalog"
	"github.com/hrygo/construkt/plugin/chatbot/nlp"
	"github.com/hrygo/construkt/plugin/chatbot/session"
	"github.com/hrygo/construkt/store"
)

// Apology is the bot message recorded when the collaborator fails.
const Apology = "Sorry, I encountered an error. Please try again later."

// SessionIDKey holds the conversation id inside session data.
const SessionIDKey = "session_id"

var (
	// ErrEmptyMessage is returned for a blank free-text message.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnavailable marks a failure of the natural-language collaborator.
	ErrUnavailable = errors.New("chatbot service is unavailable")
)

// ChatLogStore persists exchanges beyond the session lifetime.
type ChatLogStore interface {
	CreateChatLog(ctx context.Context, create *store.ChatLog) (*store.ChatLog, error)
	ListChatLogs(ctx context.Context, find *store.FindChatLog) ([]*store.ChatLog, error)
}

// MessageResponse is the normalized answer to a free-text message.
type MessageResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	MessageHTML string  `json:"message_html"`
	Data        any     `json:"data"`
	Intent      string  `json:"intent"`
	Confidence  float64 `json:"confidence"`
	UserID      string  `json:"user_id"`
	SessionID   string  `json:"session_id,omitempty"`
}

// Dispatcher handles messages and commands for chat owners.
type Dispatcher struct {
	sessions     *session.Store
	nlp          nlp.Client
	catalog      catalog.Catalog
	logs         ChatLogStore
	markdown     goldmark.Markdown
	contextTurns int
	now          func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithChatLog appends every free-text exchange to logs.
func WithChatLog(logs ChatLogStore) Option {
	return func(d *Dispatcher) {
		d.logs = logs
	}
}

// WithContextTurns sets how many history entries accompany a message.
func WithContextTurns(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.contextTurns = n
		}
	}
}

// WithClock overrides the time source used for chat logs.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a dispatcher.
func New(sessions *session.Store, client nlp.Client, cat catalog.Catalog, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessions: sessions,
		nlp:      client,
		catalog:  cat,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		contextTurns: 10,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleMessage forwards text to the collaborator and records both sides of
// the exchange. A collaborator failure is not retried: the apology is
// recorded and an error wrapping ErrUnavailable is returned.
func (d *Dispatcher) HandleMessage(ctx context.Context, ownerID, text string) (*MessageResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	sessionID := d.ensureSessionID(ctx, ownerID)
	turns := d.recentTurns(ctx, ownerID)
	d.record(ctx, ownerID, text, true, nil)

	reply, err := d.nlp.SendMessage(ctx, nlp.Request{OwnerID: ownerID, Text: text, History: turns})
	if err != nil {
		slog.Error("nlp collaborator failed", "owner_id", ownerID, "error", err)
		d.record(ctx, ownerID, Apology, false, map[string]any{"error": true})
		return nil, errors.Wrapf(ErrUnavailable, "%v", err)
	}

	intent := reply.Intent
	if intent == "" {
		intent = nlp.DefaultIntent
	}
	d.record(ctx, ownerID, reply.Message, false, map[string]any{
		"intent":     intent,
		"confidence": reply.Confidence,
		"data":       reply.Data,
	})
	d.appendLog(ctx, &store.ChatLog{
		OwnerID:    ownerID,
		SessionID:  sessionID,
		Message:    text,
		Response:   reply.Message,
		Intent:     intent,
		Confidence: reply.Confidence,
		CreatedTs:  d.now().Unix(),
	})

	status := reply.Status
	if status == "" {
		status = "success"
	}
	return &MessageResponse{
		Status:      status,
		Message:     reply.Message,
		MessageHTML: d.renderHTML(reply.Message),
		Data:        reply.Data,
		Intent:      intent,
		Confidence:  reply.Confidence,
		UserID:      ownerID,
		SessionID:   sessionID,
	}, nil
}

// ClearContext tells the collaborator to forget the owner and deletes the
// session. Failures are logged and reported as false, never returned.
func (d *Dispatcher) ClearContext(ctx context.Context, ownerID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while clearing context", "owner_id", ownerID, "panic", r)
			ok = false
		}
	}()

	ok = true
	if cleared, err := d.nlp.ClearContext(ctx, ownerID); err != nil || !cleared {
		slog.Warn("nlp collaborator did not clear context", "owner_id", ownerID, "error", err)
	}
	if err := d.sessions.Delete(ctx, ownerID); err != nil {
		slog.Error("failed to delete session", "owner_id", ownerID, "error", err)
		ok = false
	}
	return ok
}

// History returns up to limit recent messages, oldest first. When the
// session holds none, the persisted chat log is used instead.
func (d *Dispatcher) History(ctx context.Context, ownerID string, limit int) ([]session.Message, error) {
	history, err := d.sessions.GetHistory(ctx, ownerID, limit)
	if err != nil {
		return []session.Message{}, err
	}
	if len(history) > 0 || d.logs == nil {
		return history, nil
	}

	find := &store.FindChatLog{OwnerID: &ownerID}
	if limit > 0 {
		// each log row yields two messages
		find.Limit = (limit + 1) / 2
	}
	logs, err := d.logs.ListChatLogs(ctx, find)
	if err != nil {
		slog.Warn("failed to read chat log", "owner_id", ownerID, "error", err)
		return history, nil
	}

	// logs are newest first
	slices.Reverse(logs)
	for _, l := range logs {
		meta := map[string]any{"intent": l.Intent}
		history = append(history,
			session.Message{Message: l.Message, IsUser: true, Timestamp: l.CreatedTs, Metadata: meta},
			session.Message{Message: l.Response, IsUser: false, Timestamp: l.CreatedTs, Metadata: meta},
		)
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// Welcome returns the initial envelope shown to a new conversation.
func (d *Dispatcher) Welcome() *Response {
	return &Response{
		Type:    TypeWelcome,
		Message: "Welcome to Construkt! How can I help you today?",
		Commands: []Info{
			{Command: Search, Icon: "🔍", Label: "Search"},
			{Command: Categories, Icon: "📦", Label: "Categories"},
			{Command: Featured, Icon: "⭐", Label: "Popular"},
			{Command: Cheapest, Icon: "💰", Label: "Budget"},
			{Command: Calculator, Icon: "📐", Label: "Calculator"},
			{Command: Help, Icon: "❓", Label: "Help"},
		},
		PopularSearches: slices.Clone(PopularSearches[:6]),
		Actions:         []Action{},
	}
}

// Health reports the collaborator's health payload.
func (d *Dispatcher) Health(ctx context.Context) (map[string]any, error) {
	health, err := d.nlp.Health(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "%v", err)
	}
	return health, nil
}

// NotifyProductChange forwards a product change to the collaborator. It is
// best effort and reports whether the collaborator acknowledged it.
func (d *Dispatcher) NotifyProductChange(ctx context.Context, product map[string]any, action string) bool {
	ok, err := d.nlp.UpdateProductIntents(ctx, product, action)
	if err != nil {
		slog.Warn("failed to update product intents", "action", action, "error", err)
		return false
	}
	return ok
}

// record appends to the owner's history. A failed persist is logged and
// otherwise ignored.
func (d *Dispatcher) record(ctx context.Context, ownerID, text string, isUser bool, metadata map[string]any) {
	if err := d.sessions.AddMessage(ctx, ownerID, text, isUser, metadata); err != nil {
		slog.Warn("failed to record message", "owner_id", ownerID, "is_user", isUser, "error", err)
	}
}

func (d *Dispatcher) ensureSessionID(ctx context.Context, ownerID string) string {
	data, err := d.sessions.Get(ctx, ownerID)
	if err != nil {
		slog.Warn("failed to read session", "owner_id", ownerID, "error", err)
		return ""
	}
	if id, ok := data[SessionIDKey].(string); ok && id != "" {
		return id
	}
	id := shortuuid.New()
	if err := d.sessions.Update(ctx, ownerID, map[string]any{SessionIDKey: id}); err != nil {
		slog.Warn("failed to store session id", "owner_id", ownerID, "error", err)
	}
	return id
}

func (d *Dispatcher) recentTurns(ctx context.Context, ownerID string) []nlp.Turn {
	if d.contextTurns == 0 {
		return nil
	}
	history, err := d.sessions.GetHistory(ctx, ownerID, d.contextTurns)
	if err != nil {
		slog.Warn("failed to read history", "owner_id", ownerID, "error", err)
		return nil
	}
	turns := make([]nlp.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, nlp.Turn{Text: m.Message, IsUser: m.IsUser})
	}
	return turns
}

func (d *Dispatcher) appendLog(ctx context.Context, entry *store.ChatLog) {
	if d.logs == nil {
		return
	}
	if _, err := d.logs.CreateChatLog(ctx, entry); err != nil {
		slog.Warn("failed to append chat log", "owner_id", entry.OwnerID, "error", err)
	}
}

func (d *Dispatcher) renderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := d.markdown.Convert([]byte(markdown), &buf); err != nil {
		slog.Warn("failed to render message markdown", "error", err)
		return ""
	}
	return buf.String()
}
