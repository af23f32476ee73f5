package store

// ChatLog records one free-text exchange with the NLP collaborator.
type ChatLog struct {
	ID         int64
	OwnerID    string
	SessionID  string
	Message    string
	Response   string
	Intent     string
	Confidence float64
	CreatedTs  int64
}

// FindChatLog specifies the conditions for finding chat logs.
type FindChatLog struct {
	OwnerID   *string
	SessionID *string
	Limit     int
}
