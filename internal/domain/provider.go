package domain

import "context"

// ChatMessage is one prompt turn sent to a completion provider.
type ChatMessage struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// CompletionRequest is a full prompt for one completion call.
type CompletionRequest struct {
	Model     string
	Messages  []ChatMessage
	MaxTokens int
}

// Completer is the interface all completion providers implement.
type Completer interface {
	// Complete returns the text of the provider's first choice.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
}

// EventBus carries inbound events from an ingestion task to a response task
// and replies back to the originating platform.
type EventBus interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	SendOutbound(msg OutboundMessage)
	OnOutbound(platform Platform, handler func(OutboundMessage))
	Close()
}
