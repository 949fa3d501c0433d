package agent

import (
	"strings"

	"supportbot/internal/domain"
)

// DefaultContextBudget is the character budget for assembled history.
const DefaultContextBudget = 10000

// ContextAssembler turns stored history plus the new inbound turn into the
// prompt turns sent to the completer. Old context is discarded rather than
// summarized: under budget pressure the oldest messages are dropped.
type ContextAssembler struct {
	budget     int
	botMention string
}

func NewContextAssembler(budget int, botMention string) *ContextAssembler {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	return &ContextAssembler{budget: budget, botMention: botMention}
}

// StripMention removes the bot's mention token from a message.
func (a *ContextAssembler) StripMention(text string) string {
	if a.botMention == "" {
		return text
	}
	return strings.ReplaceAll(text, a.botMention, "")
}

// Assemble trims history to the character budget, dropping oldest messages
// while the cumulative length of all role+text pairs exceeds it, then
// appends the new user turn (mention stripped) last, unconditionally.
func (a *ContextAssembler) Assemble(history []domain.Message, latest string) []domain.ChatMessage {
	total := 0
	for _, m := range history {
		total += len(m.Role) + len(m.Text)
	}
	for len(history) > 0 && total > a.budget {
		total -= len(history[0].Role) + len(history[0].Text)
		history = history[1:]
	}

	msgs := make([]domain.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, domain.ChatMessage{Role: string(m.Role), Content: m.Text})
	}
	msgs = append(msgs, domain.ChatMessage{
		Role:    string(domain.RoleUser),
		Content: a.StripMention(latest),
	})
	return msgs
}
