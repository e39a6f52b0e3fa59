package bus

import (
	"context"
	"time"
)

// MessageContext identifies where a turn came from so the eventual response
// can be routed back to the same channel adapter. It is scoped to a single
// request and always passed explicitly, never stored globally.
type MessageContext struct {
	Channel   string
	ChatID    string
	SenderID  string
	Timestamp time.Time
}

func NewMessageContext(channel, chatID, senderID string) MessageContext {
	return MessageContext{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  senderID,
		Timestamp: time.Now().UTC(),
	}
}

// InboundMessage is a user turn arriving from a channel adapter.
type InboundMessage struct {
	Context  MessageContext
	Content  string
	Metadata map[string]string
}

// OutboundMessage is a response on its way to a channel adapter.
type OutboundMessage struct {
	Context MessageContext
	Content string
}

// MessageBus connects channel adapters to the interaction runtime. Adapters
// publish inbound turns; the runtime publishes outbound responses which the
// channel manager delivers.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, 100),
		outbound: make(chan OutboundMessage, 100),
	}
}

// PublishInbound enqueues an inbound turn. Drops are not allowed: the send
// blocks if the runtime has fallen behind.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// PublishOutbound enqueues a response for delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeInbound blocks until an inbound message is available or the context
// is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// ConsumeOutbound blocks until an outbound message is available or the
// context is cancelled.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}
