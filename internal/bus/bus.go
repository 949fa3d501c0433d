package bus

import (
	"log/slog"
	"sync"

	"supportbot/internal/domain"
	"supportbot/internal/metrics"
)

// Policy decides what Publish does when the queue is full.
type Policy string

const (
	// DropOldest discards the oldest queued event to make room. An
	// unavailable downstream loses excess events instead of stalling
	// ingestion.
	DropOldest Policy = "drop_oldest"
	// Block waits until the consumer drains the queue.
	Block Policy = "block"
)

// InMemoryBus is a Go-channel based event queue for in-process communication
// between one ingestion task and one response task.
type InMemoryBus struct {
	inbound  chan domain.InboundEvent
	policy   Policy
	handlers map[domain.Platform]func(domain.OutboundMessage)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a bus with the given capacity and overflow policy.
func New(capacity int, policy Policy, logger *slog.Logger) *InMemoryBus {
	if capacity <= 0 {
		capacity = 100
	}
	if policy == "" {
		policy = DropOldest
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundEvent, capacity),
		policy:   policy,
		handlers: make(map[domain.Platform]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish enqueues an inbound event. With the DropOldest policy a full queue
// sheds its oldest event first; Publish never blocks ingestion.
func (b *InMemoryBus) Publish(ev domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("publish to closed bus dropped", "platform", ev.Platform)
		return
	}

	if b.policy == Block {
		b.inbound <- ev
		return
	}

	select {
	case b.inbound <- ev:
	default:
		// Queue full: shed the oldest event, then try once more. If a
		// concurrent publisher raced us into the freed slot, the new
		// event is dropped instead.
		select {
		case dropped := <-b.inbound:
			b.logger.Warn("event queue full, dropped oldest",
				"platform", dropped.Platform,
				"seq", dropped.Seq,
			)
			metrics.EventsDropped.Inc()
		default:
		}
		select {
		case b.inbound <- ev:
		default:
			b.logger.Warn("event queue full, dropped newest",
				"platform", ev.Platform,
				"seq", ev.Seq,
			)
			metrics.EventsDropped.Inc()
		}
	}
}

// Subscribe returns the queue's receive side. There is one consumer.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

// SendOutbound delivers a reply to the handler registered for its platform.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Platform]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no outbound handler for platform", "platform", msg.Platform)
		return
	}
	handler(msg)
}

// OnOutbound registers the delivery handler for a platform.
func (b *InMemoryBus) OnOutbound(platform domain.Platform, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[platform] = handler
}

// Close shuts the queue. Subsequent publishes are dropped.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
