package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"

	"supportbot/internal/domain"
)

// Resolver maps a raw inbound event to a stable conversation id.
type Resolver struct {
	store  domain.HistoryStore
	logger *slog.Logger

	// randID allocates a fresh 63-bit conversation id. Overridable in tests.
	randID func() int64
}

func NewResolver(store domain.HistoryStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
		randID: rand.Int64,
	}
}

// Resolve returns the conversation id for an event. Resolution misses are
// never a hard failure: a fresh conversation is allocated instead.
func (r *Resolver) Resolve(ctx context.Context, ev domain.InboundEvent) (int64, error) {
	switch ev.Platform {
	case domain.PlatformTelegram:
		return r.resolveTelegram(ctx, ev)
	case domain.PlatformEmail:
		return r.resolveEmail(ctx, ev)
	default:
		return 0, fmt.Errorf("unknown platform %q", ev.Platform)
	}
}

func (r *Resolver) resolveTelegram(ctx context.Context, ev domain.InboundEvent) (int64, error) {
	// A private chat is its own conversation: the chat's numeric id is the
	// conversation id, deterministically and with no lookup.
	if ev.ChatType == "private" {
		if err := r.upsert(ctx, ev.ChatID, ev); err != nil {
			return 0, err
		}
		return ev.ChatID, nil
	}

	// A reply threads onto the conversation that contains the replied-to
	// message, found by exact text match. Any re-transmission or edit of
	// the original text misses and starts a fresh conversation.
	if ev.ReplyToText != "" {
		id, ok, err := r.store.ConversationByText(ctx, ev.ReplyToText)
		if err != nil {
			return 0, fmt.Errorf("reply lookup: %w", err)
		}
		if ok {
			return id, nil
		}
	}

	id := r.randID()
	if err := r.upsert(ctx, id, ev); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Resolver) resolveEmail(ctx context.Context, ev domain.InboundEvent) (int64, error) {
	// Email identity is the sender's address.
	id, ok, err := r.store.ConversationByKey(ctx, domain.PlatformEmail, ev.SenderAddr)
	if err != nil {
		return 0, fmt.Errorf("sender lookup: %w", err)
	}
	if ok {
		return id, nil
	}

	id = r.randID()
	if err := r.store.UpsertConversation(ctx, domain.Conversation{
		ID:       id,
		Platform: domain.PlatformEmail,
		Metadata: ev.SenderAddr,
	}); err != nil {
		return 0, fmt.Errorf("store conversation: %w", err)
	}
	r.logger.Debug("new email conversation", "convo_id", id, "sender", ev.SenderAddr)
	return id, nil
}

func (r *Resolver) upsert(ctx context.Context, id int64, ev domain.InboundEvent) error {
	if err := r.store.UpsertConversation(ctx, domain.Conversation{
		ID:       id,
		Platform: domain.PlatformTelegram,
		Metadata: strconv.FormatInt(ev.ChatID, 10),
	}); err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}
	return nil
}
