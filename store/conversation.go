package store

// Conversation is a named container for an ordered message history.
// Conversations are created on demand and never deleted by the core.
type Conversation struct {
	ID        int64
	Title     *string
	CreatedAt string

	// MessageCount is populated by ListConversations with a JOIN.
	MessageCount int64
}
