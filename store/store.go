package store

import (
	"context"
	"database/sql"

	"github.com/hrygo/construkt/internal/profile"
)

// Store provides database access to chat sessions and chat logs.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) GetDB() *sql.DB {
	return s.driver.GetDB()
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) UpsertChatSession(ctx context.Context, upsert *ChatSession) error {
	return s.driver.UpsertChatSession(ctx, upsert)
}

// GetChatSession returns nil without error when no session exists.
func (s *Store) GetChatSession(ctx context.Context, ownerKey string) (*ChatSession, error) {
	return s.driver.GetChatSession(ctx, ownerKey)
}

func (s *Store) ListChatSessionKeys(ctx context.Context) ([]string, error) {
	return s.driver.ListChatSessionKeys(ctx)
}

func (s *Store) DeleteChatSession(ctx context.Context, ownerKey string) error {
	return s.driver.DeleteChatSession(ctx, ownerKey)
}

func (s *Store) DeleteIdleChatSessions(ctx context.Context, lastAccessBefore int64) (int64, error) {
	return s.driver.DeleteIdleChatSessions(ctx, lastAccessBefore)
}

func (s *Store) CreateChatLog(ctx context.Context, create *ChatLog) (*ChatLog, error) {
	return s.driver.CreateChatLog(ctx, create)
}

func (s *Store) ListChatLogs(ctx context.Context, find *FindChatLog) ([]*ChatLog, error) {
	return s.driver.ListChatLogs(ctx, find)
}
