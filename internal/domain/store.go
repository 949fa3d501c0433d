package domain

import "context"

// HistoryStore is the persisted conversation log. Appends are atomic and
// ordered; stored messages are never mutated or deleted.
type HistoryStore interface {
	// UpsertConversation creates the conversation row or replaces its
	// metadata when the id already exists.
	UpsertConversation(ctx context.Context, conv Conversation) error

	// AppendMessage appends one turn to a conversation.
	AppendMessage(ctx context.Context, convoID int64, role Role, text string) error

	// History returns all messages of a conversation in insertion order.
	History(ctx context.Context, convoID int64) ([]Message, error)

	// ConversationByText returns the conversation id of a stored message
	// whose text exactly equals the given text.
	ConversationByText(ctx context.Context, text string) (int64, bool, error)

	// ConversationByKey returns the conversation id whose metadata equals
	// the given identity key on the given platform.
	ConversationByKey(ctx context.Context, platform Platform, key string) (int64, bool, error)
}

// FactStore is the append-only list of admin-taught facts. Facts are
// concatenated into the system prompt verbatim, in insertion order.
type FactStore interface {
	AddFact(ctx context.Context, text string) error
	Facts(ctx context.Context) ([]string, error)
}
