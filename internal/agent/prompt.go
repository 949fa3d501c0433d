package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"supportbot/internal/action"
	"supportbot/internal/domain"
)

const defaultSystemPrompt = `You are a friendly and concise customer support assistant. Answer the user's questions about the service using the facts you know. If you do not know the answer, say so honestly and suggest contacting a human administrator. Never invent account details or billing information.`

// PromptBuilder assembles the system prompt: static instructions, the taught
// facts concatenated verbatim in insertion order, and the action-capability
// instructions when actions are enabled.
type PromptBuilder struct {
	base           string
	facts          domain.FactStore
	actionsEnabled bool
	logger         *slog.Logger
}

type PromptConfig struct {
	// Base overrides the built-in static instructions when non-empty.
	Base           string
	Facts          domain.FactStore
	ActionsEnabled bool
	Logger         *slog.Logger
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	if cfg.Base == "" {
		cfg.Base = defaultSystemPrompt
	}
	return &PromptBuilder{
		base:           cfg.Base,
		facts:          cfg.Facts,
		actionsEnabled: cfg.ActionsEnabled,
		logger:         cfg.Logger,
	}
}

// System returns the full system prompt for one completion.
func (p *PromptBuilder) System(ctx context.Context) (string, error) {
	facts, err := p.facts.Facts(ctx)
	if err != nil {
		return "", fmt.Errorf("load facts: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(p.base)
	if len(facts) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(facts, "\n"))
	}
	if p.actionsEnabled {
		sb.WriteString("\n")
		sb.WriteString(action.Instructions)
	}
	return sb.String(), nil
}
