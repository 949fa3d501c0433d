package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"supportbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribeOrder(t *testing.T) {
	b := New(10, DropOldest, testLogger())
	for i := int64(1); i <= 3; i++ {
		b.Publish(domain.InboundEvent{Platform: domain.PlatformTelegram, Seq: i})
	}

	inbound := b.Subscribe()
	for want := int64(1); want <= 3; want++ {
		ev := <-inbound
		if ev.Seq != want {
			t.Fatalf("want seq %d, got %d", want, ev.Seq)
		}
	}
}

func TestDropOldestShedsHead(t *testing.T) {
	b := New(2, DropOldest, testLogger())
	b.Publish(domain.InboundEvent{Seq: 1})
	b.Publish(domain.InboundEvent{Seq: 2})
	b.Publish(domain.InboundEvent{Seq: 3}) // full: seq 1 is shed

	inbound := b.Subscribe()
	if ev := <-inbound; ev.Seq != 2 {
		t.Fatalf("oldest event must be shed, head is %d", ev.Seq)
	}
	if ev := <-inbound; ev.Seq != 3 {
		t.Fatalf("newest event must survive, got %d", ev.Seq)
	}
}

func TestBlockPolicyWaitsForConsumer(t *testing.T) {
	b := New(1, Block, testLogger())
	b.Publish(domain.InboundEvent{Seq: 1})

	published := make(chan struct{})
	go func() {
		b.Publish(domain.InboundEvent{Seq: 2})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish must block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	<-b.Subscribe()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish must complete once the queue drains")
	}
}

func TestOutboundRoutesByPlatform(t *testing.T) {
	b := New(10, DropOldest, testLogger())

	var tg, em []domain.OutboundMessage
	b.OnOutbound(domain.PlatformTelegram, func(m domain.OutboundMessage) { tg = append(tg, m) })
	b.OnOutbound(domain.PlatformEmail, func(m domain.OutboundMessage) { em = append(em, m) })

	b.SendOutbound(domain.OutboundMessage{Platform: domain.PlatformTelegram, Text: "a"})
	b.SendOutbound(domain.OutboundMessage{Platform: domain.PlatformEmail, Text: "b"})

	if len(tg) != 1 || tg[0].Text != "a" {
		t.Fatalf("telegram handler got %+v", tg)
	}
	if len(em) != 1 || em[0].Text != "b" {
		t.Fatalf("email handler got %+v", em)
	}
}

func TestOutboundWithoutHandlerIsDropped(t *testing.T) {
	b := New(10, DropOldest, testLogger())
	// Must not panic.
	b.SendOutbound(domain.OutboundMessage{Platform: domain.PlatformEmail, Text: "x"})
}

func TestCloseDropsSubsequentPublishes(t *testing.T) {
	b := New(10, DropOldest, testLogger())
	b.Close()
	b.Publish(domain.InboundEvent{Seq: 1}) // dropped, no panic

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("closed bus must deliver nothing")
	}

	b.Close() // idempotent
}
