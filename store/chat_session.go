package store

// ChatSession is one owner's persisted chat session.
type ChatSession struct {
	// OwnerKey is the sanitized owner id and the primary key.
	OwnerKey     string
	OwnerID      string
	Data         string // JSON object
	CreatedTs    int64
	LastAccessTs int64
}
