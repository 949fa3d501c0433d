// Package agent is the conversational pipeline: it resolves inbound events
// to conversations, assembles bounded context, asks the completer for a
// reply, dispatches any embedded action, and hands the reply back to the
// originating platform.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"supportbot/internal/action"
	"supportbot/internal/domain"
)

// Dispatcher executes the side effect of a parsed action.
type Dispatcher interface {
	Dispatch(ctx context.Context, act action.Action) error
}

// Responder consumes inbound events from a bus and runs one response cycle
// per event. One responder runs per platform; cycles are sequential.
type Responder struct {
	store      domain.HistoryStore
	facts      domain.FactStore
	resolver   *Resolver
	assembler  *ContextAssembler
	prompt     *PromptBuilder
	completer  domain.Completer
	dispatcher Dispatcher // nil: actions are configured off
	bus        domain.EventBus
	logger     *slog.Logger
	adminUname string
	maxTokens  int
}

type ResponderConfig struct {
	Store      domain.HistoryStore
	Facts      domain.FactStore
	Resolver   *Resolver
	Assembler  *ContextAssembler
	Prompt     *PromptBuilder
	Completer  domain.Completer
	Dispatcher Dispatcher
	Bus        domain.EventBus
	Logger     *slog.Logger
	AdminUname string
	MaxTokens  int
}

func NewResponder(cfg ResponderConfig) *Responder {
	return &Responder{
		store:      cfg.Store,
		facts:      cfg.Facts,
		resolver:   cfg.Resolver,
		assembler:  cfg.Assembler,
		prompt:     cfg.Prompt,
		completer:  cfg.Completer,
		dispatcher: cfg.Dispatcher,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		adminUname: cfg.AdminUname,
		maxTokens:  cfg.MaxTokens,
	}
}

// Run consumes inbound events until the context is cancelled or the bus
// closes. A failed cycle is logged and the loop continues.
func (r *Responder) Run(ctx context.Context) {
	r.logger.Info("responder started", "completer", r.completer.Name())
	inbound := r.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("responder stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				r.logger.Info("event queue closed, responder stopping")
				return
			}
			if err := r.handleEvent(ctx, ev); err != nil {
				r.logger.Error("response cycle failed",
					"platform", ev.Platform,
					"seq", ev.Seq,
					"error", err,
				)
			}
		}
	}
}

// handleEvent runs one response cycle end to end.
func (r *Responder) handleEvent(ctx context.Context, ev domain.InboundEvent) error {
	if r.isLearnCommand(ev) {
		return r.learn(ctx, ev)
	}

	convoID, err := r.resolver.Resolve(ctx, ev)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	history, err := r.store.History(ctx, convoID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	system, err := r.prompt.System(ctx)
	if err != nil {
		return err
	}

	turns := r.assembler.Assemble(history, ev.Text)
	messages := make([]domain.ChatMessage, 0, len(turns)+1)
	messages = append(messages, domain.ChatMessage{Role: "system", Content: system})
	messages = append(messages, turns...)

	raw, err := r.completer.Complete(ctx, domain.CompletionRequest{
		Messages:  messages,
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}

	resp := action.Response{Action: action.Action{Kind: action.KindNull}, Text: raw}
	if r.dispatcher != nil {
		resp = action.Parse(raw)
		// The merge is fail-closed: if it errors, abort the whole cycle so
		// no reply claims a transfer that did not happen.
		if err := r.dispatcher.Dispatch(ctx, resp.Action); err != nil {
			return fmt.Errorf("dispatch %s: %w", resp.Action.Kind, err)
		}
	}

	if resp.Action.Kind == action.KindAbort || resp.Text == "" {
		r.logger.Info("reply suppressed",
			"platform", ev.Platform,
			"convo_id", convoID,
			"action", resp.Action.Kind,
		)
		return nil
	}

	// Two sequential appends, not one transaction spanning the external
	// send: storage is at-least-once, delivery is best-effort.
	userText := r.assembler.StripMention(ev.Text)
	if err := r.store.AppendMessage(ctx, convoID, domain.RoleUser, userText); err != nil {
		return fmt.Errorf("persist user turn: %w", err)
	}
	if err := r.store.AppendMessage(ctx, convoID, domain.RoleAssistant, resp.Text); err != nil {
		return fmt.Errorf("persist assistant turn: %w", err)
	}

	r.bus.SendOutbound(r.outbound(ev, resp.Text))
	return nil
}

func (r *Responder) isLearnCommand(ev domain.InboundEvent) bool {
	return r.adminUname != "" &&
		ev.SenderUname == r.adminUname &&
		strings.Contains(ev.Text, "#learn")
}

// outbound addresses a reply back to the event's origin.
func (r *Responder) outbound(ev domain.InboundEvent, text string) domain.OutboundMessage {
	out := domain.OutboundMessage{
		Platform: ev.Platform,
		Text:     text,
	}
	switch ev.Platform {
	case domain.PlatformTelegram:
		out.ChatID = ev.ChatID
		out.ReplyToMessageID = ev.MessageID
	case domain.PlatformEmail:
		out.To = ev.SenderAddr
		out.Subject = ev.Subject
		out.InReplyTo = ev.EmailID
	}
	return out
}
