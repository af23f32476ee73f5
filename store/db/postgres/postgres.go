package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/construkt/internal/profile"
	"github.com/hrygo/construkt/store"
)

// ============================================================================
// POSTGRESQL SUPPORT (Production)
// ============================================================================
// PostgreSQL is the durable backend for chat sessions and chat logs when more
// than one server instance shares state.
// ============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS chatbot_session (
	owner_key TEXT NOT NULL PRIMARY KEY,
	owner_id TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}',
	created_ts BIGINT NOT NULL,
	last_access_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chatbot_session_last_access ON chatbot_session (last_access_ts);
CREATE TABLE IF NOT EXISTS chat_log (
	id BIGSERIAL PRIMARY KEY,
	owner_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	response TEXT NOT NULL DEFAULT '',
	intent TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_log_owner ON chat_log (owner_id, created_ts);
`

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	// Open the PostgreSQL connection
	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Every chat request touches the session row, so keep a few warm connections.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	// Verify connection is working before returning
	if err := db.Ping(); err != nil {
		slog.Error("failed to ping database", "error", err)
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate postgres schema")
	}
	return nil
}
