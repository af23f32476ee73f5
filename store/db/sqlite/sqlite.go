package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	// Import the pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/construkt/internal/profile"
	"github.com/hrygo/construkt/store"
)

// ============================================================================
// SQLITE SUPPORT (Development / single node)
// ============================================================================
// SQLite backs chat sessions and chat logs for local runs and tests. A single
// open connection keeps writes serialized and makes ":memory:" databases
// shared across calls.
// ============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS chatbot_session (
	owner_key TEXT NOT NULL PRIMARY KEY,
	owner_id TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '{}',
	created_ts BIGINT NOT NULL,
	last_access_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chatbot_session_last_access ON chatbot_session (last_access_ts);
CREATE TABLE IF NOT EXISTS chat_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	response TEXT NOT NULL DEFAULT '',
	intent TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_log_owner ON chat_log (owner_id, created_ts);
`

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database at profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	dsn := profile.DSN
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	}
	sqliteDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	sqliteDB.SetMaxOpenConns(1)

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate sqlite schema")
	}
	return nil
}
