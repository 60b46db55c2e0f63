package store

// ContextSnapshot is the persisted compression state of a conversation:
// the rolling summary plus the counters that drive resummarization. Recent
// turns are not part of the snapshot; they are rebuilt from messages.
type ContextSnapshot struct {
	ConversationID        int32
	Summary               string
	TurnsSinceLastSummary int
	TotalTurnsProcessed   int
	UpdatedTs             int64
}

type FindContextSnapshot struct {
	ConversationID int32
}
