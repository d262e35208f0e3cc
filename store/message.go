package store

// Role indicates who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable turn of a conversation. Once inserted, a message
// can never be updated or deleted; the sqlite schema enforces this with
// triggers so even a privileged connection cannot violate it.
type Message struct {
	ID                int64
	Role              Role
	Content           string
	Timestamp         string
	CorrectsMessageID *int64
}

// CreateMessage inserts a message and its conversation membership in one
// transaction. Re-attaching a message to the same conversation is a no-op.
type CreateMessage struct {
	ConversationID    int64
	Role              Role
	Content           string
	CorrectsMessageID *int64
}
