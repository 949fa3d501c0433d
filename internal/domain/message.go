package domain

// Platform tags the chat surface a conversation lives on.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformEmail    Platform = "email"
)

// Role is the sender role of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is one id-addressed message history on one platform.
// Metadata is an opaque identity key (e.g. the sender address for email)
// and is replaced on conflict when re-derived for the same conversation.
type Conversation struct {
	ID       int64
	Platform Platform
	Metadata string
}

// Message is a single stored turn. Messages are immutable once stored;
// their order is insertion order.
type Message struct {
	ConvoID int64
	Role    Role
	Text    string
}

// InboundEvent is a raw platform update. Seq is the platform's monotonically
// increasing sequence number, used as the ingestion cursor (0 when the
// platform has no such numbering, e.g. email webhooks).
type InboundEvent struct {
	Platform Platform
	Seq      int64
	Text     string

	// Telegram
	ChatID      int64
	ChatType    string // "private", "group", ...
	SenderUname string
	MessageID   int    // platform message id of the inbound message
	ReplyToText string // text of the replied-to message, when this is a reply

	// Email
	SenderName string
	SenderAddr string
	Subject    string
	EmailID    string // Message-Id header of the inbound mail
}

// OutboundMessage is a reply addressed back to the originating platform.
type OutboundMessage struct {
	Platform Platform
	Text     string

	// Telegram
	ChatID           int64
	ReplyToMessageID int

	// Email
	To        string
	Subject   string
	InReplyTo string
}
