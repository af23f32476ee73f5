package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/construkt/store"
)

func (d *DB) CreateChatLog(ctx context.Context, create *store.ChatLog) (*store.ChatLog, error) {
	fields := []string{"owner_id", "session_id", "message", "response", "intent", "confidence", "created_ts"}
	args := []any{create.OwnerID, create.SessionID, create.Message, create.Response, create.Intent, create.Confidence, create.CreatedTs}
	stmt := `INSERT INTO chat_log (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat_log")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chat_log id")
	}
	create.ID = id
	return create, nil
}

func (d *DB) ListChatLogs(ctx context.Context, find *store.FindChatLog) ([]*store.ChatLog, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *find.OwnerID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}

	query := `SELECT id, owner_id, session_id, message, response, intent, confidence, created_ts FROM chat_log WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id DESC`
	if find.Limit > 0 {
		query += ` LIMIT ` + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chat_log")
	}
	defer rows.Close()

	list := make([]*store.ChatLog, 0)
	for rows.Next() {
		l := &store.ChatLog{}
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.SessionID, &l.Message, &l.Response, &l.Intent, &l.Confidence, &l.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat_log")
		}
		list = append(list, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate chat_log")
	}
	return list, nil
}
