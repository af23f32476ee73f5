package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	message  func(ctx context.Context, user User, text string) (*BotReply, error)
	command  func(ctx context.Context, user User, command string, params map[string]any) (*CommandReply, error)
	cleared  []string
	received []string
}

func (f *fakeTransport) SendMessage(ctx context.Context, user User, text string) (*BotReply, error) {
	f.mu.Lock()
	f.received = append(f.received, user.ID+":"+text)
	handler := f.message
	f.mu.Unlock()
	if handler == nil {
		return &BotReply{Message: "echo: " + text, Intent: "unknown"}, nil
	}
	return handler(ctx, user, text)
}

func (f *fakeTransport) SendCommand(ctx context.Context, user User, command string, params map[string]any) (*CommandReply, error) {
	if f.command == nil {
		return &CommandReply{Type: "help", Message: "Available commands:", Fields: map[string]any{"type": "help", "message": "Available commands:"}}, nil
	}
	return f.command(ctx, user, command, params)
}

func (f *fakeTransport) ClearContext(_ context.Context, user User) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, user.ID)
	return true, nil
}

func newManager(t *testing.T, transport Transport, storage LocalStorage, auth AuthSource) *Manager {
	t.Helper()
	m, err := New(transport, storage, auth)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func texts(messages []Message) []string {
	out := make([]string, len(messages))
	for i, msg := range messages {
		out[i] = msg.Message
	}
	return out
}

func TestManager_UserSwitchKeepsLogsApart(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	creds := NewCredentials()
	creds.Login("A", "token-a")
	m := newManager(t, &fakeTransport{}, storage, creds)

	require.NoError(t, m.SendMessage(ctx, "hello from A"))
	assert.Equal(t, []string{"hello from A", "echo: hello from A"}, texts(m.Messages()))
	m.OpenChat()

	creds.Login("B", "token-b")
	m.Refresh()
	id, ok := m.UserID()
	require.True(t, ok)
	assert.Equal(t, "B", id)
	assert.Empty(t, m.Messages())
	assert.False(t, m.IsOpen())

	require.NoError(t, m.SendMessage(ctx, "hello from B"))

	creds.Login("A", "token-a")
	m.Refresh()
	assert.Equal(t, []string{"hello from A", "echo: hello from A"}, texts(m.Messages()))

	raw, ok, err := storage.Get("chatbot_B_messages")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), "hello from B")

	creds.Logout()
	m.Refresh()
	_, ok = m.UserID()
	assert.False(t, ok)
	assert.Empty(t, m.Messages())
	assert.ErrorIs(t, m.SendMessage(ctx, "anyone?"), ErrNotSignedIn)
}

func TestManager_FollowsAuthChanges(t *testing.T) {
	creds := NewCredentials()
	creds.Login("A", "t")
	m := newManager(t, &fakeTransport{}, NewMemoryStorage(), creds)

	creds.Login("B", "t")
	assert.Eventually(t, func() bool {
		id, _ := m.UserID()
		return id == "B"
	}, time.Second, 5*time.Millisecond)
}

func TestManager_PollsStaticSource(t *testing.T) {
	src := &switchableSource{}
	src.set(User{ID: "A"}, true)
	m, err := New(&fakeTransport{}, NewMemoryStorage(), src, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer m.Close()

	src.set(User{ID: "C"}, true)
	assert.Eventually(t, func() bool {
		id, _ := m.UserID()
		return id == "C"
	}, time.Second, 5*time.Millisecond)
}

type switchableSource struct {
	mu   sync.Mutex
	user User
	ok   bool
}

func (s *switchableSource) set(u User, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user, s.ok = u, ok
}

func (s *switchableSource) CurrentUser() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.ok
}

func (s *switchableSource) Changes() <-chan struct{} { return nil }

func TestManager_FallbackBubble(t *testing.T) {
	transport := &fakeTransport{
		message: func(context.Context, User, string) (*BotReply, error) {
			return nil, errors.New("connection refused")
		},
		command: func(context.Context, User, string, map[string]any) (*CommandReply, error) {
			return nil, errors.New("connection refused")
		},
	}
	m := newManager(t, transport, NewMemoryStorage(), StaticUser{User: User{ID: "7"}, SignedIn: true})

	err := m.SendMessage(context.Background(), "hi")
	assert.Error(t, err)
	messages := m.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, MessageFallback, messages[1].Message)
	assert.False(t, messages[1].IsUser)
	assert.Equal(t, true, messages[1].Data["error"])
	assert.False(t, m.IsLoading())

	m.ShowSearch()
	_, err = m.SendCommand(context.Background(), "SEARCH", map[string]any{"keyword": "cement"})
	assert.Error(t, err)
	messages = m.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, "Search: cement", messages[2].Message)
	assert.True(t, messages[2].IsUser)
	assert.Equal(t, CommandFallback, messages[3].Message)
	assert.Equal(t, "error", messages[3].Data["type"])
	assert.Equal(t, ViewSearch, m.View(), "a failed command keeps the panel")
	assert.False(t, m.IsLoading())
}

func TestManager_LoadingFlag(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	transport := &fakeTransport{
		message: func(context.Context, User, string) (*BotReply, error) {
			close(entered)
			<-release
			return &BotReply{Message: "done"}, nil
		},
	}
	m := newManager(t, transport, NewMemoryStorage(), StaticUser{User: User{ID: "7"}, SignedIn: true})

	result := m.SendMessageAsync(context.Background(), "slow")
	<-entered
	assert.True(t, m.IsLoading())
	assert.Equal(t, []string{"slow"}, texts(m.Messages()), "user bubble is shown before the reply")

	close(release)
	require.NoError(t, <-result)
	assert.False(t, m.IsLoading())
	assert.Equal(t, []string{"slow", "done"}, texts(m.Messages()))
}

func TestManager_SupersededResponseDiscarded(t *testing.T) {
	firstEntered := make(chan struct{})
	transport := &fakeTransport{
		message: func(ctx context.Context, _ User, text string) (*BotReply, error) {
			if text == "first" {
				close(firstEntered)
				<-ctx.Done()
				return &BotReply{Message: "late answer to first"}, nil
			}
			return &BotReply{Message: "answer to " + text}, nil
		},
	}
	m := newManager(t, transport, NewMemoryStorage(), StaticUser{User: User{ID: "7"}, SignedIn: true})

	first := m.SendMessageAsync(context.Background(), "first")
	<-firstEntered
	require.NoError(t, m.SendMessage(context.Background(), "second"))

	assert.ErrorIs(t, <-first, ErrSuperseded)
	assert.Equal(t, []string{"first", "second", "answer to second"}, texts(m.Messages()))
	assert.False(t, m.IsLoading())
}

func TestManager_UserSwitchDiscardsInFlightReply(t *testing.T) {
	entered := make(chan struct{})
	transport := &fakeTransport{
		message: func(ctx context.Context, _ User, _ string) (*BotReply, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	creds := NewCredentials()
	creds.Login("A", "t")
	m := newManager(t, transport, NewMemoryStorage(), creds)

	result := m.SendMessageAsync(context.Background(), "question")
	<-entered
	creds.Login("B", "t")
	m.Refresh()

	assert.ErrorIs(t, <-result, ErrSuperseded)
	assert.Empty(t, m.Messages())
	assert.False(t, m.IsLoading())
}

func TestManager_CommandsAndViews(t *testing.T) {
	var calls []string
	transport := &fakeTransport{
		command: func(_ context.Context, _ User, command string, params map[string]any) (*CommandReply, error) {
			calls = append(calls, command)
			fields := map[string]any{"type": "products", "message": "Found products", "items": []any{}}
			if command == "CATEGORIES" {
				fields = map[string]any{"type": "categories", "message": "Categories:", "popular_searches": []any{"Sand"}}
			}
			return &CommandReply{Type: fields["type"].(string), Message: fields["message"].(string), Fields: fields}, nil
		},
	}
	m := newManager(t, transport, NewMemoryStorage(), StaticUser{User: User{ID: "7"}, SignedIn: true})
	ctx := context.Background()

	assert.Equal(t, ViewCommands, m.View())
	reply, err := m.HandleAction(ctx, "SEARCH", nil)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, ViewSearch, m.View())

	reply, err = m.Search(ctx, "cement")
	require.NoError(t, err)
	assert.Equal(t, "products", reply.Type)
	assert.Equal(t, ViewCommands, m.View())

	m.ShowCalculator()
	assert.Equal(t, ViewCalculator, m.View())
	m.ShowCommands()
	assert.Equal(t, ViewCommands, m.View())

	_, err = m.HandleAction(ctx, "CATEGORIES", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"SEARCH", "CATEGORIES"}, calls)

	messages := m.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, "Search: cement", messages[0].Message)
	assert.True(t, messages[0].IsUser)
	assert.Equal(t, "SEARCH", messages[0].Data["command"])
	assert.Equal(t, "command_search", messages[1].Intent)
	assert.False(t, messages[1].IsUser)
	assert.Equal(t, "CATEGORIES", messages[2].Message)
	assert.True(t, messages[2].IsUser)
	assert.Equal(t, "categories", messages[3].Data["type"])
	assert.NotContains(t, messages[3].Data, "message")
	assert.Equal(t, []string{"Sand"}, m.PopularSearches())
}

func TestManager_CapsLog(t *testing.T) {
	m := newManager(t, &fakeTransport{}, NewMemoryStorage(), StaticUser{User: User{ID: "7"}, SignedIn: true})
	for i := 0; i < 30; i++ {
		require.NoError(t, m.SendMessage(context.Background(), fmt.Sprintf("m%d", i)))
	}
	messages := m.Messages()
	require.Len(t, messages, MaxMessages)
	assert.Equal(t, "m5", messages[0].Message)
}

func TestManager_ClearChat(t *testing.T) {
	storage := NewMemoryStorage()
	transport := &fakeTransport{}
	m := newManager(t, transport, storage, StaticUser{User: User{ID: "7"}, SignedIn: true})
	require.NoError(t, m.SendMessage(context.Background(), "hi"))
	require.NoError(t, storage.Set("chatbot_7_context", []byte(`{}`)))

	require.NoError(t, m.ClearChat(context.Background()))
	assert.Empty(t, m.Messages())
	_, ok, _ := storage.Get("chatbot_7_messages")
	assert.False(t, ok)
	_, ok, _ = storage.Get("chatbot_7_context")
	assert.False(t, ok)
	assert.Equal(t, []string{"7"}, transport.cleared)
}

func TestManager_CrossTabSync(t *testing.T) {
	storage := NewMemoryStorage()
	creds := NewCredentials()
	creds.Login("7", "t")
	tab1 := newManager(t, &fakeTransport{}, storage, creds)
	tab2 := newManager(t, &fakeTransport{}, storage, creds)

	require.NoError(t, tab1.SendMessage(context.Background(), "from tab one"))
	assert.Eventually(t, func() bool {
		return len(tab2.Messages()) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tab2.ClearChat(context.Background()))
	assert.Eventually(t, func() bool {
		return len(tab1.Messages()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ScopeAndCorruptLog(t *testing.T) {
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set("shop_7_messages", []byte("not json")))
	m, err := New(&fakeTransport{}, storage, StaticUser{User: User{ID: "7"}, SignedIn: true}, WithScope("shop"))
	require.NoError(t, err)
	defer m.Close()

	assert.Empty(t, m.Messages())
	require.NoError(t, m.SendMessage(context.Background(), "hi"))
	raw, ok, err := storage.Get("shop_7_messages")
	require.NoError(t, err)
	require.True(t, ok)
	var stored []Message
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Len(t, stored, 2)
}

func TestManager_SimilarUserIDsStayIsolated(t *testing.T) {
	for name, storage := range map[string]LocalStorage{
		"memory": NewMemoryStorage(),
		"dir":    mustDirStorage(t),
	} {
		t.Run(name, func(t *testing.T) {
			creds := NewCredentials()
			creds.Login("a b", "t1")
			m := newManager(t, &fakeTransport{}, storage, creds)
			require.NoError(t, m.SendMessage(context.Background(), "secret of a b"))

			creds.Login("a_b", "t2")
			require.Eventually(t, func() bool { return currentID(m) == "a_b" }, 2*time.Second, 10*time.Millisecond)
			assert.Empty(t, m.Messages())

			creds.Login("a/b", "t3")
			require.Eventually(t, func() bool { return currentID(m) == "a/b" }, 2*time.Second, 10*time.Millisecond)
			assert.Empty(t, m.Messages())

			creds.Login("a b", "t1")
			require.Eventually(t, func() bool { return currentID(m) == "a b" }, 2*time.Second, 10*time.Millisecond)
			require.Len(t, m.Messages(), 2)
			assert.Equal(t, "secret of a b", m.Messages()[0].Message)
		})
	}
}

func currentID(m *Manager) string {
	id, _ := m.UserID()
	return id
}

func mustDirStorage(t *testing.T) *DirStorage {
	t.Helper()
	storage, err := NewDirStorage(t.TempDir())
	require.NoError(t, err)
	return storage
}

func TestDirStorage(t *testing.T) {
	storage, err := NewDirStorage(t.TempDir())
	require.NoError(t, err)

	events, cancel, err := storage.Subscribe()
	require.NoError(t, err)
	defer cancel()

	_, ok, err := storage.Get("chatbot_7_messages")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.Set("chatbot_7_messages", []byte(`[]`)))
	value, ok, err := storage.Get("chatbot_7_messages")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(value))

	select {
	case key := <-events:
		assert.Equal(t, "chatbot_7_messages", key)
	case <-time.After(2 * time.Second):
		t.Fatal("no storage event")
	}

	require.NoError(t, storage.Remove("chatbot_7_messages"))
	require.NoError(t, storage.Remove("chatbot_7_messages"))

	require.NoError(t, storage.Set("chatbot_a/b c_messages", []byte(`[1]`)))
	require.NoError(t, storage.Set("chatbot_a_b_c_messages", []byte(`[2]`)))
	value, ok, err = storage.Get("chatbot_a/b c_messages")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[1]`, string(value))
}

func TestDirStorage_SharedBetweenManagers(t *testing.T) {
	dir := t.TempDir()
	first, err := NewDirStorage(dir)
	require.NoError(t, err)
	second, err := NewDirStorage(dir)
	require.NoError(t, err)

	user := StaticUser{User: User{ID: "7"}, SignedIn: true}
	tab1 := newManager(t, &fakeTransport{}, first, user)
	tab2 := newManager(t, &fakeTransport{}, second, user)

	require.NoError(t, tab1.SendMessage(context.Background(), "persisted"))
	assert.Eventually(t, func() bool {
		return len(tab2.Messages()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPTransport(t *testing.T) {
	var (
		mu          sync.Mutex
		authHeaders []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		mu.Unlock()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/chatbot/message":
			if body["message"] == "boom" {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(`{"status":"error","message":"Chatbot service is unavailable"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"success","message":"hi","intent":"greeting","confidence":0.8}`))
		case "/api/chatbot/command":
			_, _ = w.Write([]byte(`{"type":"help","message":"Available commands:","commands":[]}`))
		case "/api/chatbot/context/clear":
			_, _ = w.Write([]byte(`{"status":"success","success":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	transport := NewHTTPTransport(srv.URL+"/", time.Second)
	user := User{ID: "7", Token: "tok"}
	ctx := context.Background()

	reply, err := transport.SendMessage(ctx, user, "hello")
	require.NoError(t, err)
	assert.Equal(t, "greeting", reply.Intent)

	_, err = transport.SendMessage(ctx, user, "boom")
	assert.ErrorContains(t, err, "HTTP 502")

	cmd, err := transport.SendCommand(ctx, user, "HELP", nil)
	require.NoError(t, err)
	assert.Equal(t, "help", cmd.Type)
	assert.Contains(t, cmd.Fields, "commands")

	ok, err := transport.ClearContext(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, authHeaders, 4)
	for _, h := range authHeaders {
		assert.Equal(t, "Bearer tok", h)
	}
}
