package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/construkt/store"
)

// SQLRepository keeps records in the chatbot_session table through the
// store layer, so it runs on either SQLite or PostgreSQL.
type SQLRepository struct {
	store *store.Store
}

// NewSQLRepository wraps s. The schema must already be migrated.
func NewSQLRepository(s *store.Store) *SQLRepository {
	return &SQLRepository{store: s}
}

func (r *SQLRepository) Load(ctx context.Context, key string) (*Record, error) {
	row, err := r.store.GetChatSession(ctx, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}

	rec := &Record{
		OwnerID:      row.OwnerID,
		CreatedAt:    time.Unix(row.CreatedTs, 0),
		LastAccessAt: time.Unix(row.LastAccessTs, 0),
	}
	if err := json.Unmarshal([]byte(row.Data), &rec.Data); err != nil {
		return nil, errors.Wrap(err, "failed to decode session data")
	}
	return rec, nil
}

func (r *SQLRepository) Save(ctx context.Context, key string, record *Record) error {
	data, err := json.Marshal(record.Data)
	if err != nil {
		return errors.Wrap(err, "failed to encode session data")
	}
	return r.store.UpsertChatSession(ctx, &store.ChatSession{
		OwnerKey:     key,
		OwnerID:      record.OwnerID,
		Data:         string(data),
		CreatedTs:    record.CreatedAt.Unix(),
		LastAccessTs: record.LastAccessAt.Unix(),
	})
}

func (r *SQLRepository) Delete(ctx context.Context, key string) error {
	return r.store.DeleteChatSession(ctx, key)
}

func (r *SQLRepository) List(ctx context.Context) ([]string, error) {
	return r.store.ListChatSessionKeys(ctx)
}

// DeleteIdleBefore purges idle sessions with a single statement.
func (r *SQLRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := r.store.DeleteIdleChatSessions(ctx, cutoff.Unix())
	return int(n), err
}

var (
	_ Repository  = (*SQLRepository)(nil)
	_ IdleDeleter = (*SQLRepository)(nil)
)
