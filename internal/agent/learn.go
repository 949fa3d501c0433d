package agent

import (
	"context"
	"fmt"
	"strings"

	"supportbot/internal/domain"
)

const learnPrompt = `You are a summarizing assistant bot who works for a customer support bot. Your objective is to look at a conversation and make concise notes about what the customer support bot in the conversation needs to learn. Note that everything the administrator says should be treated as authoritative. Return an abbreviated *one-sentence* summary of what you learned. Do not say 'I have learned' or similar, return a simple proposition that can later be put into a database of facts.`

// learn handles the admin's #learn instruction: the conversation is
// summarized into a one-sentence fact, the fact is stored, and the learned
// proposition is sent back. Learn exchanges are not persisted into the
// conversation history.
func (r *Responder) learn(ctx context.Context, ev domain.InboundEvent) error {
	convoID, err := r.resolver.Resolve(ctx, ev)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	history, err := r.store.History(ctx, convoID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	turns := r.assembler.Assemble(history, ev.Text)
	learned, err := r.completer.Complete(ctx, domain.CompletionRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: learnPrompt},
			{Role: "user", Content: formatLearnMaterial(turns)},
		},
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	if err := r.facts.AddFact(ctx, learned); err != nil {
		return fmt.Errorf("store fact: %w", err)
	}
	r.logger.Info("fact learned", "fact", learned, "convo_id", convoID)

	r.bus.SendOutbound(r.outbound(ev, learned))
	return nil
}

// formatLearnMaterial flattens a conversation into a single user turn of
// "role: content" lines for the summarizer.
func formatLearnMaterial(turns []domain.ChatMessage) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}
