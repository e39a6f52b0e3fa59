package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/m0ahs/openpoke/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       msgBus,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed checks the sender against the allow list. An empty list admits
// everyone. Entries and sender ids may use the compound "id|username" form;
// either side of the compound matches.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		bare := strings.TrimPrefix(allowed, "@")

		allowedID := bare
		allowedUser := ""
		if idx := strings.Index(bare, "|"); idx > 0 {
			allowedID = bare[:idx]
			allowedUser = bare[idx+1:]
		}

		if senderID == bare ||
			idPart == bare ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == bare || userPart == allowedID || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// HandleMessage publishes an inbound turn after the allow-list check.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Context:  bus.NewMessageContext(c.name, chatID, senderID),
		Content:  content,
		Metadata: metadata,
	})
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}
