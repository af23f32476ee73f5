package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the chatbot tables when they do not exist yet.
	Migrate(ctx context.Context) error

	// ChatSession model related methods.
	UpsertChatSession(ctx context.Context, upsert *ChatSession) error
	GetChatSession(ctx context.Context, ownerKey string) (*ChatSession, error)
	ListChatSessionKeys(ctx context.Context) ([]string, error)
	DeleteChatSession(ctx context.Context, ownerKey string) error
	DeleteIdleChatSessions(ctx context.Context, lastAccessBefore int64) (int64, error)

	// ChatLog model related methods.
	CreateChatLog(ctx context.Context, create *ChatLog) (*ChatLog, error)
	ListChatLogs(ctx context.Context, find *FindChatLog) ([]*ChatLog, error)
}
