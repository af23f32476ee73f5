package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/construkt/store"
)

func (d *DB) UpsertChatSession(ctx context.Context, upsert *store.ChatSession) error {
	stmt := `INSERT INTO chatbot_session (owner_key, owner_id, data, created_ts, last_access_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (owner_key) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			data = EXCLUDED.data,
			last_access_ts = EXCLUDED.last_access_ts`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.OwnerKey, upsert.OwnerID, upsert.Data, upsert.CreatedTs, upsert.LastAccessTs); err != nil {
		return errors.Wrap(err, "failed to upsert chatbot_session")
	}
	return nil
}

func (d *DB) GetChatSession(ctx context.Context, ownerKey string) (*store.ChatSession, error) {
	query := `SELECT owner_key, owner_id, data, created_ts, last_access_ts FROM chatbot_session WHERE owner_key = ` + placeholder(1)
	s := &store.ChatSession{}
	err := d.db.QueryRowContext(ctx, query, ownerKey).Scan(&s.OwnerKey, &s.OwnerID, &s.Data, &s.CreatedTs, &s.LastAccessTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chatbot_session")
	}
	return s, nil
}

func (d *DB) ListChatSessionKeys(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT owner_key FROM chatbot_session ORDER BY owner_key`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chatbot_session")
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "failed to scan chatbot_session")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate chatbot_session")
	}
	return keys, nil
}

func (d *DB) DeleteChatSession(ctx context.Context, ownerKey string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM chatbot_session WHERE owner_key = `+placeholder(1), ownerKey); err != nil {
		return errors.Wrap(err, "failed to delete chatbot_session")
	}
	return nil
}

func (d *DB) DeleteIdleChatSessions(ctx context.Context, lastAccessBefore int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM chatbot_session WHERE last_access_ts < `+placeholder(1), lastAccessBefore)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete idle chatbot_session")
	}
	return result.RowsAffected()
}
