package command

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/construkt/internal/profile"
	"github.com/hrygo/construkt/plugin/chatbot/catalog"
	"github.com/hrygo/construkt/plugin/chatbot/nlp"
	"github.com/hrygo/construkt/plugin/chatbot/nlp/nlptest"
	"github.com/hrygo/construkt/plugin/chatbot/session"
	"github.com/hrygo/construkt/store"
	"github.com/hrygo/construkt/store/db/sqlite"
)

type fixture struct {
	dispatcher *Dispatcher
	sessions   *session.Store
	nlp        *nlptest.MockClient
	repo       session.Repository
}

func newFixture(t *testing.T, repo session.Repository, opts ...Option) *fixture {
	t.Helper()
	if repo == nil {
		repo = session.NewMemoryRepository()
	}
	cat, err := catalog.Default()
	require.NoError(t, err)

	sessions := session.NewStore(repo)
	client := &nlptest.MockClient{}
	t.Cleanup(func() { client.AssertExpectations(t) })
	return &fixture{
		dispatcher: New(sessions, client, cat, opts...),
		sessions:   sessions,
		nlp:        client,
		repo:       repo,
	}
}

func newChatLog(t *testing.T) *store.Store {
	t.Helper()
	driver, err := sqlite.NewDB(&profile.Profile{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	s := store.New(driver, nil)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// failingRepository loads nothing and refuses every write.
type failingRepository struct{}

func (failingRepository) Load(context.Context, string) (*session.Record, error) {
	return nil, session.ErrNotFound
}

func (failingRepository) Save(context.Context, string, *session.Record) error {
	return errors.New("disk full")
}

func (failingRepository) Delete(context.Context, string) error {
	return errors.New("disk full")
}

func (failingRepository) List(context.Context) ([]string, error) {
	return nil, errors.New("disk full")
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()
	logs := newChatLog(t)
	f := newFixture(t, nil, WithChatLog(logs), WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))

	f.nlp.On("SendMessage", mock.Anything, mock.MatchedBy(func(r nlp.Request) bool {
		return r.OwnerID == "7" && r.Text == "do you sell cement?" && len(r.History) == 0
	})).Return(&nlp.Reply{
		Status:     "success",
		Message:    "Yes, **Portland cement** is in stock.",
		Intent:     "product_search",
		Confidence: 0.92,
	}, nil).Once()

	resp, err := f.dispatcher.HandleMessage(ctx, "7", "  do you sell cement?  ")
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "product_search", resp.Intent)
	assert.Equal(t, "7", resp.UserID)
	assert.Contains(t, resp.MessageHTML, "<strong>Portland cement</strong>")
	assert.NotEmpty(t, resp.SessionID)

	history, err := f.sessions.GetHistory(ctx, "7", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].IsUser)
	assert.Equal(t, "do you sell cement?", history[0].Message)
	assert.False(t, history[1].IsUser)
	assert.Equal(t, "product_search", history[1].Metadata["intent"])

	rows, err := logs.ListChatLogs(ctx, &store.FindChatLog{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, resp.SessionID, rows[0].SessionID)
	assert.EqualValues(t, 1_700_000_000, rows[0].CreatedTs)

	t.Run("SessionIDIsStable", func(t *testing.T) {
		f.nlp.On("SendMessage", mock.Anything, mock.MatchedBy(func(r nlp.Request) bool {
			return r.Text == "thanks" && len(r.History) == 2
		})).Return(&nlp.Reply{Message: "You're welcome"}, nil).Once()

		again, err := f.dispatcher.HandleMessage(ctx, "7", "thanks")
		require.NoError(t, err)
		assert.Equal(t, resp.SessionID, again.SessionID)
		assert.Equal(t, nlp.DefaultIntent, again.Intent)
		assert.Equal(t, "success", again.Status)
	})
}

func TestHandleMessageFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.dispatcher.HandleMessage(ctx, "7", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	f.nlp.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()
	_, err = f.dispatcher.HandleMessage(ctx, "7", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	f.nlp.AssertNumberOfCalls(t, "SendMessage", 1)

	history, err := f.sessions.GetHistory(ctx, "7", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, Apology, history[1].Message)
	assert.Equal(t, true, history[1].Metadata["error"])
}

func TestHandleMessageSurvivesStorageFailure(t *testing.T) {
	f := newFixture(t, failingRepository{})
	f.nlp.On("SendMessage", mock.Anything, mock.Anything).Return(&nlp.Reply{Message: "hi"}, nil).Once()

	resp, err := f.dispatcher.HandleMessage(context.Background(), "7", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Message)
}

func TestClearContext(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.sessions.AddMessage(ctx, "7", "hello", true, nil))
		f.nlp.On("ClearContext", mock.Anything, "7").Return(true, nil).Once()

		assert.True(t, f.dispatcher.ClearContext(ctx, "7"))
		history, err := f.sessions.GetHistory(ctx, "7", 0)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("CollaboratorFailureIsSwallowed", func(t *testing.T) {
		f := newFixture(t, nil)
		f.nlp.On("ClearContext", mock.Anything, "7").Return(false, errors.New("timeout")).Once()
		assert.True(t, f.dispatcher.ClearContext(ctx, "7"))
	})

	t.Run("PersistenceFailure", func(t *testing.T) {
		f := newFixture(t, failingRepository{})
		f.nlp.On("ClearContext", mock.Anything, "7").Return(true, nil).Once()
		assert.NotPanics(t, func() {
			assert.False(t, f.dispatcher.ClearContext(ctx, "7"))
		})
	})

	t.Run("Panic", func(t *testing.T) {
		f := newFixture(t, nil)
		f.nlp.On("ClearContext", mock.Anything, "7").Panic("boom").Once()
		assert.NotPanics(t, func() {
			assert.False(t, f.dispatcher.ClearContext(ctx, "7"))
		})
	})
}

func TestHistoryFallsBackToChatLog(t *testing.T) {
	ctx := context.Background()
	logs := newChatLog(t)
	f := newFixture(t, nil, WithChatLog(logs))

	for i, text := range []string{"first", "second", "third"} {
		_, err := logs.CreateChatLog(ctx, &store.ChatLog{
			OwnerID:   "7",
			Message:   text,
			Response:  "re: " + text,
			Intent:    "unknown",
			CreatedTs: int64(100 + i),
		})
		require.NoError(t, err)
	}

	history, err := f.dispatcher.History(ctx, "7", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "re: second", history[0].Message)
	assert.Equal(t, "third", history[1].Message)
	assert.Equal(t, "re: third", history[2].Message)

	require.NoError(t, f.sessions.AddMessage(ctx, "7", "live", true, nil))
	history, err = f.dispatcher.History(ctx, "7", 20)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "live", history[0].Message)
}

func TestHealthAndProductChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.nlp.On("Health", mock.Anything).Return(map[string]any{"status": "healthy"}, nil).Once()
	health, err := f.dispatcher.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])

	f.nlp.On("Health", mock.Anything).Return(nil, errors.New("down")).Once()
	_, err = f.dispatcher.Health(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	product := map[string]any{"id": 1.0, "name": "Cement"}
	f.nlp.On("UpdateProductIntents", mock.Anything, product, "update").Return(true, nil).Once()
	assert.True(t, f.dispatcher.NotifyProductChange(ctx, product, "update"))

	f.nlp.On("UpdateProductIntents", mock.Anything, product, "delete").Return(false, errors.New("down")).Once()
	assert.False(t, f.dispatcher.NotifyProductChange(ctx, product, "delete"))
}

func TestWelcome(t *testing.T) {
	f := newFixture(t, nil)
	w := f.dispatcher.Welcome()
	assert.Equal(t, TypeWelcome, w.Type)
	assert.Len(t, w.Commands, 6)
	assert.Len(t, w.PopularSearches, 6)
	assert.NotNil(t, w.Actions)
}
