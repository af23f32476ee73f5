// Package session keeps one TTL-scoped record per chat owner, holding free-form
// session data and a bounded conversation history.
package session

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultTTL is the idle duration after which a session expires.
	DefaultTTL = 1800 * time.Second
	// DefaultMaxHistory caps the conversation history per owner.
	DefaultMaxHistory = 50

	// HistoryKey holds the conversation history inside session data.
	HistoryKey = "conversation_history"
	// LastMessageTimeKey holds the Unix time of the latest message.
	LastMessageTimeKey = "last_message_time"
)

var (
	// ErrNotFound is returned by a Repository when no record exists for a key.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidOwner is returned when an owner id sanitizes to an empty key.
	ErrInvalidOwner = errors.New("owner id has no usable characters")
	// ErrBulkUnsupported is returned by an IdleDeleter that cannot purge in
	// bulk after all, asking the caller to sweep record by record.
	ErrBulkUnsupported = errors.New("bulk idle delete unsupported")
)

// Record is the persisted form of one owner's session.
type Record struct {
	OwnerID      string         `json:"user_id"`
	Data         map[string]any `json:"data"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessAt time.Time      `json:"last_activity"`
}

// Message is one entry of the conversation history.
type Message struct {
	Message   string         `json:"message"`
	IsUser    bool           `json:"isUser"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Repository persists session records under sanitized keys.
// Implementations must return ErrNotFound from Load for an absent key and
// treat Delete of an absent key as success.
type Repository interface {
	Load(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record *Record) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// IdleDeleter is implemented by repositories that can purge idle records in
// bulk instead of record by record.
type IdleDeleter interface {
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error)
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeKey strips every character outside [A-Za-z0-9_-] from an owner id
// so it can back a file name or storage key.
func SanitizeKey(ownerID string) string {
	return unsafeKeyChars.ReplaceAllString(ownerID, "")
}
