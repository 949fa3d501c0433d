package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"supportbot/internal/action"
	"supportbot/internal/domain"
)

type fakeCompleter struct {
	reply string
	err   error
	reqs  []domain.CompletionRequest
}

func (c *fakeCompleter) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	c.reqs = append(c.reqs, req)
	return c.reply, c.err
}

func (c *fakeCompleter) Name() string { return "fake" }

type fakeBus struct {
	inbound  chan domain.InboundEvent
	outbound []domain.OutboundMessage
}

func newFakeBus() *fakeBus {
	return &fakeBus{inbound: make(chan domain.InboundEvent, 8)}
}

func (b *fakeBus) Publish(ev domain.InboundEvent)                                            { b.inbound <- ev }
func (b *fakeBus) Subscribe() <-chan domain.InboundEvent                                     { return b.inbound }
func (b *fakeBus) SendOutbound(msg domain.OutboundMessage)                                   { b.outbound = append(b.outbound, msg) }
func (b *fakeBus) OnOutbound(platform domain.Platform, handler func(domain.OutboundMessage)) {}
func (b *fakeBus) Close()                                                                    { close(b.inbound) }

type fakeDispatcher struct {
	actions []action.Action
	err     error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, act action.Action) error {
	d.actions = append(d.actions, act)
	return d.err
}

type responderFixture struct {
	store      *fakeStore
	completer  *fakeCompleter
	bus        *fakeBus
	dispatcher *fakeDispatcher
	responder  *Responder
}

func newResponderFixture(t *testing.T, completer *fakeCompleter, dispatcher *fakeDispatcher) *responderFixture {
	t.Helper()
	store := newFakeStore()
	bus := newFakeBus()
	logger := testLogger()

	var disp Dispatcher
	if dispatcher != nil {
		disp = dispatcher
	}
	r := NewResponder(ResponderConfig{
		Store:     store,
		Facts:     store,
		Resolver:  NewResolver(store, logger),
		Assembler: NewContextAssembler(DefaultContextBudget, "@SupportBot"),
		Prompt: NewPromptBuilder(PromptConfig{
			Facts:          store,
			ActionsEnabled: dispatcher != nil,
			Logger:         logger,
		}),
		Completer:  completer,
		Dispatcher: disp,
		Bus:        bus,
		Logger:     logger,
		AdminUname: "admin",
	})
	return &responderFixture{store: store, completer: completer, bus: bus, dispatcher: dispatcher, responder: r}
}

func privateEvent(text string) domain.InboundEvent {
	return domain.InboundEvent{
		Platform:  domain.PlatformTelegram,
		ChatID:    42,
		ChatType:  "private",
		MessageID: 5,
		Text:      text,
	}
}

func TestHandleEvent_NullActionPersistsAndReplies(t *testing.T) {
	f := newResponderFixture(t, &fakeCompleter{reply: `{"action": "Null", "text": "Hi there"}`}, &fakeDispatcher{})

	if err := f.responder.handleEvent(context.Background(), privateEvent("@SupportBot hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.store.messages) != 2 {
		t.Fatalf("want user and assistant turns persisted, got %d", len(f.store.messages))
	}
	if f.store.messages[0].Role != domain.RoleUser || f.store.messages[0].Text != " hello" {
		t.Fatalf("user turn must be stored with mention stripped: %+v", f.store.messages[0])
	}
	if f.store.messages[1].Role != domain.RoleAssistant || f.store.messages[1].Text != "Hi there" {
		t.Fatalf("assistant turn wrong: %+v", f.store.messages[1])
	}

	if len(f.bus.outbound) != 1 {
		t.Fatalf("want 1 outbound message, got %d", len(f.bus.outbound))
	}
	out := f.bus.outbound[0]
	if out.Text != "Hi there" || out.ChatID != 42 || out.ReplyToMessageID != 5 {
		t.Fatalf("outbound wrong: %+v", out)
	}
	if len(f.dispatcher.actions) != 1 || f.dispatcher.actions[0].Kind != action.KindNull {
		t.Fatalf("want one Null dispatch, got %+v", f.dispatcher.actions)
	}
}

func TestHandleEvent_MalformedResponseSentVerbatim(t *testing.T) {
	f := newResponderFixture(t, &fakeCompleter{reply: "just a plain answer"}, &fakeDispatcher{})

	if err := f.responder.handleEvent(context.Background(), privateEvent("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.bus.outbound) != 1 || f.bus.outbound[0].Text != "just a plain answer" {
		t.Fatalf("raw text must pass through unchanged: %+v", f.bus.outbound)
	}
}

func TestHandleEvent_AbortSuppressesEverything(t *testing.T) {
	f := newResponderFixture(t, &fakeCompleter{reply: `{"action": "Abort", "text": "should not appear"}`}, &fakeDispatcher{})

	if err := f.responder.handleEvent(context.Background(), privateEvent("spam")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.store.messages) != 0 {
		t.Fatalf("abort must persist nothing, got %d messages", len(f.store.messages))
	}
	if len(f.bus.outbound) != 0 {
		t.Fatalf("abort must send nothing, got %+v", f.bus.outbound)
	}
}

func TestHandleEvent_EmptyTextIsSuppressed(t *testing.T) {
	f := newResponderFixture(t, &fakeCompleter{reply: `{"action": "Null", "text": ""}`}, &fakeDispatcher{})

	if err := f.responder.handleEvent(context.Background(), privateEvent("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.store.messages) != 0 || len(f.bus.outbound) != 0 {
		t.Fatal("empty reply must persist and send nothing")
	}
}

func TestHandleEvent_DispatchFailureAbortsCycle(t *testing.T) {
	reply := `{"action": {"TransferPlus": {"old_uname": "a", "new_uname": "b"}}, "text": "Transferred!"}`
	f := newResponderFixture(t, &fakeCompleter{reply: reply}, &fakeDispatcher{err: errors.New("db down")})

	err := f.responder.handleEvent(context.Background(), privateEvent("move my account"))
	if err == nil {
		t.Fatal("want error when dispatch fails")
	}
	if len(f.store.messages) != 0 {
		t.Fatal("failed dispatch must persist nothing")
	}
	if len(f.bus.outbound) != 0 {
		t.Fatal("failed dispatch must send nothing")
	}
}

func TestHandleEvent_NoDispatcherSkipsParsing(t *testing.T) {
	// With actions off, a structured-looking reply is treated as plain text.
	reply := `{"action": "Abort", "text": "x"}`
	f := newResponderFixture(t, &fakeCompleter{reply: reply}, nil)

	if err := f.responder.handleEvent(context.Background(), privateEvent("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.bus.outbound) != 1 || f.bus.outbound[0].Text != reply {
		t.Fatalf("reply must be sent verbatim when actions are off: %+v", f.bus.outbound)
	}
}

func TestHandleEvent_CompletionErrorFailsCycle(t *testing.T) {
	f := newResponderFixture(t, &fakeCompleter{err: errors.New("upstream 500")}, nil)

	if err := f.responder.handleEvent(context.Background(), privateEvent("hello")); err == nil {
		t.Fatal("want completion error to fail the cycle")
	}
	if len(f.store.messages) != 0 || len(f.bus.outbound) != 0 {
		t.Fatal("failed completion must persist and send nothing")
	}
}

func TestHandleEvent_SystemPromptLeadsMessages(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	f := newResponderFixture(t, completer, nil)
	_ = f.store.AddFact(context.Background(), "refunds take 3 days")

	if err := f.responder.handleEvent(context.Background(), privateEvent("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(completer.reqs) != 1 {
		t.Fatalf("want 1 completion, got %d", len(completer.reqs))
	}
	msgs := completer.reqs[0].Messages
	if len(msgs) < 2 || msgs[0].Role != "system" {
		t.Fatalf("system prompt must lead the messages: %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "refunds take 3 days") {
		t.Fatal("taught fact missing from system prompt")
	}
	if msgs[len(msgs)-1].Role != "user" || msgs[len(msgs)-1].Content != "hello" {
		t.Fatalf("new turn must come last: %+v", msgs[len(msgs)-1])
	}
}

func TestHandleEvent_LearnStoresFactAndReplies(t *testing.T) {
	f := newResponderFixture(t, &fakeCompleter{reply: "Refunds are issued within 3 business days."}, nil)

	ev := privateEvent("#learn")
	ev.SenderUname = "admin"
	if err := f.responder.handleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.store.facts) != 1 || f.store.facts[0] != "Refunds are issued within 3 business days." {
		t.Fatalf("learned fact not stored: %+v", f.store.facts)
	}
	if len(f.bus.outbound) != 1 || f.bus.outbound[0].Text != "Refunds are issued within 3 business days." {
		t.Fatalf("learned fact must be echoed back: %+v", f.bus.outbound)
	}
	if len(f.store.messages) != 0 {
		t.Fatal("learn exchanges must not enter the conversation history")
	}
}

func TestHandleEvent_LearnFromNonAdminIsNormalTurn(t *testing.T) {
	f := newResponderFixture(t, &fakeCompleter{reply: "sorry, I can't do that"}, nil)

	ev := privateEvent("#learn the sky is green")
	ev.SenderUname = "stranger"
	if err := f.responder.handleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.store.facts) != 0 {
		t.Fatalf("non-admin must not teach facts: %+v", f.store.facts)
	}
	if len(f.store.messages) != 2 {
		t.Fatal("non-admin learn attempt is an ordinary turn")
	}
}
