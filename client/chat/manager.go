// Package chat is a client for the chatbot API that keeps a per-user
// conversation log in local storage and drives the chat panel state.
//
// Several managers may share one LocalStorage, like browser tabs sharing
// localStorage: a change persisted by one is picked up by the others.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotSignedIn is returned by calls that need a user when none is signed in.
	ErrNotSignedIn = errors.New("no user is signed in")
	// ErrSuperseded is returned when a newer call or a user switch replaced
	// this one before its response arrived. The response is discarded.
	ErrSuperseded = errors.New("call superseded")
)

// DefaultPollInterval is used when the AuthSource cannot notify.
const DefaultPollInterval = time.Second

var defaultPopularSearches = []string{"Nails", "Cement", "Bricks", "Paint", "Tiles", "Lumber"}

type Option func(*Manager)

// WithScope changes the storage key prefix.
func WithScope(scope string) Option {
	return func(m *Manager) {
		if scope != "" {
			m.scope = scope
		}
	}
}

// WithPollInterval sets how often a non-notifying AuthSource is polled.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollEvery = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager owns the conversation of whichever user the AuthSource reports.
type Manager struct {
	transport Transport
	storage   LocalStorage
	auth      AuthSource
	scope     string
	pollEvery time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu              sync.Mutex
	user            *User
	messages        []Message
	loading         bool
	open            bool
	view            View
	popularSearches []string
	generation      uint64
	cancelInFlight  context.CancelFunc

	stop      chan struct{}
	done      chan struct{}
	unwatch   func()
	closeOnce sync.Once
}

// New creates a manager, loads the signed-in user's log and starts following
// auth and storage changes until Close.
func New(transport Transport, storage LocalStorage, auth AuthSource, opts ...Option) (*Manager, error) {
	m := &Manager{
		transport:       transport,
		storage:         storage,
		auth:            auth,
		scope:           DefaultScope,
		pollEvery:       DefaultPollInterval,
		now:             time.Now,
		logger:          slog.Default(),
		view:            ViewCommands,
		popularSearches: append([]string(nil), defaultPopularSearches...),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	var storageEvents <-chan string
	if w, ok := storage.(Watcher); ok {
		events, cancel, err := w.Subscribe()
		if err != nil {
			return nil, errors.Wrap(err, "failed to watch chat storage")
		}
		storageEvents = events
		m.unwatch = cancel
	}

	m.Refresh()
	go m.follow(auth.Changes(), storageEvents)
	return m, nil
}

func (m *Manager) follow(authChanges <-chan struct{}, storageEvents <-chan string) {
	defer close(m.done)

	var poll <-chan time.Time
	if authChanges == nil {
		ticker := time.NewTicker(m.pollEvery)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-m.stop:
			return
		case <-authChanges:
			m.Refresh()
		case <-poll:
			m.Refresh()
		case key, ok := <-storageEvents:
			if !ok {
				storageEvents = nil
				continue
			}
			m.reloadIfCurrent(key)
		}
	}
}

// Refresh reconciles the manager with the AuthSource. A different user
// discards the in-memory log and loads that user's persisted one; no user
// leaves no conversation state at all.
func (m *Manager) Refresh() {
	current, ok := m.auth.CurrentUser()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !ok || current.ID == "" {
		if m.user != nil {
			m.logger.Debug("user signed out, chat cleared", "user_id", m.user.ID)
		}
		m.abortLocked()
		m.user = nil
		m.messages = nil
		m.open = false
		m.view = ViewCommands
		return
	}
	if m.user != nil && m.user.ID == current.ID {
		m.user.Token = current.Token
		return
	}

	m.abortLocked()
	m.user = &current
	m.messages = m.loadLocked(current.ID)
	m.open = false
	m.view = ViewCommands
	m.logger.Debug("chat switched user", "user_id", current.ID, "messages", len(m.messages))
}

// SendMessage appends the user's bubble, asks the API and appends the reply.
// On failure a fallback bubble is appended and the error returned. Blank
// text is ignored.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return ErrNotSignedIn
	}
	user := *m.user
	m.appendLocked(Message{Message: text, IsUser: true, Timestamp: m.now()})
	callCtx, gen := m.beginLocked(ctx)
	m.mu.Unlock()

	reply, err := m.transport.SendMessage(callCtx, user, text)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(gen) {
		return ErrSuperseded
	}
	m.finishLocked()

	if err != nil {
		m.logger.Warn("chat message failed", "user_id", user.ID, "error", err)
		m.appendLocked(Message{
			Message:   MessageFallback,
			Timestamp: m.now(),
			Data:      map[string]any{"error": true},
			Intent:    "error",
		})
		return err
	}
	m.appendLocked(Message{
		Message:   reply.Message,
		Timestamp: m.now(),
		Data:      reply.Data,
		Intent:    reply.Intent,
	})
	return nil
}

// SendMessageAsync runs SendMessage on its own goroutine.
func (m *Manager) SendMessageAsync(ctx context.Context, text string) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- m.SendMessage(ctx, text)
	}()
	return result
}

// SendCommand appends a labelled user bubble and runs a structured command.
// A successful reply is appended and returns the view to the command panel.
func (m *Manager) SendCommand(ctx context.Context, command string, params map[string]any) (*CommandReply, error) {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil, ErrNotSignedIn
	}
	user := *m.user
	m.appendLocked(Message{
		Message:   commandLabel(command, params),
		IsUser:    true,
		Timestamp: m.now(),
		Data:      map[string]any{"command": strings.ToUpper(strings.TrimSpace(command))},
	})
	callCtx, gen := m.beginLocked(ctx)
	m.mu.Unlock()

	reply, err := m.transport.SendCommand(callCtx, user, command, params)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(gen) {
		return nil, ErrSuperseded
	}
	m.finishLocked()

	if err != nil {
		m.logger.Warn("chat command failed", "user_id", user.ID, "command", command, "error", err)
		m.appendLocked(Message{
			Message:   CommandFallback,
			Timestamp: m.now(),
			Data: map[string]any{
				"type":    "error",
				"actions": []any{map[string]any{"type": "HELP", "label": "Get Help"}},
			},
		})
		return nil, err
	}

	data := make(map[string]any, len(reply.Fields))
	for k, v := range reply.Fields {
		if k != "message" {
			data[k] = v
		}
	}
	m.appendLocked(Message{
		Message:   reply.Message,
		Timestamp: m.now(),
		Data:      data,
		Intent:    "command_" + strings.ToLower(command),
	})
	if searches := stringList(reply.Fields["popular_searches"]); len(searches) > 0 {
		m.popularSearches = searches
	}
	m.view = ViewCommands
	return reply, nil
}

// HandleAction reacts to an action button: SEARCH and CALCULATOR switch the
// panel, anything else runs as a command.
func (m *Manager) HandleAction(ctx context.Context, actionType string, params map[string]any) (*CommandReply, error) {
	switch strings.ToUpper(actionType) {
	case "SEARCH":
		m.ShowSearch()
		return nil, nil
	case "CALCULATOR":
		m.ShowCalculator()
		return nil, nil
	default:
		return m.SendCommand(ctx, actionType, params)
	}
}

// Search runs the SEARCH command for keyword.
func (m *Manager) Search(ctx context.Context, keyword string) (*CommandReply, error) {
	return m.SendCommand(ctx, "SEARCH", map[string]any{"keyword": keyword})
}

// Calculate runs the CALCULATOR command.
func (m *Manager) Calculate(ctx context.Context, materialType string, dimensions map[string]float64) (*CommandReply, error) {
	return m.SendCommand(ctx, "CALCULATOR", map[string]any{
		"material_type": materialType,
		"dimensions":    dimensions,
	})
}

// ClearChat drops the log locally and in storage and asks the server to
// forget the conversation context. A server failure is only logged.
func (m *Manager) ClearChat(ctx context.Context) error {
	m.mu.Lock()
	m.abortLocked()
	m.messages = nil
	if m.user == nil {
		m.mu.Unlock()
		return nil
	}
	user := *m.user
	var errs []error
	for _, key := range []string{messagesKey(m.scope, user.ID), contextKey(m.scope, user.ID)} {
		if err := m.storage.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Unlock()

	if ok, err := m.transport.ClearContext(ctx, user); err != nil || !ok {
		m.logger.Warn("failed to clear server context", "user_id", user.ID, "error", err)
	}
	if len(errs) > 0 {
		return errors.Wrap(errs[0], "failed to clear stored chat")
	}
	return nil
}

func (m *Manager) OpenChat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
}

func (m *Manager) CloseChat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
}

func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Messages returns a copy of the current log.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

func (m *Manager) ShowSearch()     { m.setView(ViewSearch) }
func (m *Manager) ShowCalculator() { m.setView(ViewCalculator) }
func (m *Manager) ShowCommands()   { m.setView(ViewCommands) }

func (m *Manager) setView(v View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = v
}

func (m *Manager) PopularSearches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.popularSearches...)
}

// UserID reports the user the manager currently acts for.
func (m *Manager) UserID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return "", false
	}
	return m.user.ID, true
}

// Close stops following auth and storage and cancels any outstanding call.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
		if m.unwatch != nil {
			m.unwatch()
		}
		m.mu.Lock()
		m.abortLocked()
		m.mu.Unlock()
	})
}

func (m *Manager) reloadIfCurrent(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil || key != messagesKey(m.scope, m.user.ID) {
		return
	}
	m.messages = m.loadLocked(m.user.ID)
}

// beginLocked supersedes any outstanding call and marks the manager loading.
func (m *Manager) beginLocked(ctx context.Context) (context.Context, uint64) {
	if m.cancelInFlight != nil {
		m.cancelInFlight()
	}
	m.generation++
	callCtx, cancel := context.WithCancel(ctx)
	m.cancelInFlight = cancel
	m.loading = true
	return callCtx, m.generation
}

func (m *Manager) currentLocked(gen uint64) bool {
	return gen == m.generation && m.user != nil
}

func (m *Manager) finishLocked() {
	if m.cancelInFlight != nil {
		m.cancelInFlight()
		m.cancelInFlight = nil
	}
	m.loading = false
}

// abortLocked invalidates any outstanding call.
func (m *Manager) abortLocked() {
	m.generation++
	m.finishLocked()
}

func (m *Manager) appendLocked(msg Message) {
	m.messages = capMessages(append(m.messages, msg))
	m.persistLocked()
}

func (m *Manager) persistLocked() {
	if m.user == nil || len(m.messages) == 0 {
		return
	}
	raw, err := json.Marshal(m.messages)
	if err != nil {
		m.logger.Error("failed to encode chat log", "error", err)
		return
	}
	if err := m.storage.Set(messagesKey(m.scope, m.user.ID), raw); err != nil {
		m.logger.Warn("failed to persist chat log", "user_id", m.user.ID, "error", err)
	}
}

func (m *Manager) loadLocked(userID string) []Message {
	raw, ok, err := m.storage.Get(messagesKey(m.scope, userID))
	if err != nil {
		m.logger.Warn("failed to read chat log", "user_id", userID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	messages, err := decodeMessages(raw)
	if err != nil {
		m.logger.Warn("discarding unreadable chat log", "user_id", userID, "error", err)
		return nil
	}
	return messages
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
