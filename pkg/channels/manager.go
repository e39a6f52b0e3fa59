package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/m0ahs/openpoke/pkg/bus"
	"github.com/m0ahs/openpoke/pkg/config"
	"github.com/m0ahs/openpoke/pkg/logger"
)

// Manager owns the enabled channel adapters and pumps outbound messages from
// the bus to the adapter named in each message's context.
type Manager struct {
	bus      *bus.MessageBus
	channels map[string]Channel
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, msgBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		bus:      msgBus,
		channels: make(map[string]Channel),
	}

	if cfg.Channels.CLI.Enabled {
		m.register(NewCLIChannel(msgBus))
	}
	if cfg.Channels.Telegram.Enabled {
		tg, err := NewTelegramChannel(cfg.Channels.Telegram, msgBus)
		if err != nil {
			return nil, fmt.Errorf("channels: telegram: %w", err)
		}
		m.register(tg)
	}
	if cfg.Gateway.Enabled {
		m.register(NewGatewayChannel(cfg.Gateway, msgBus))
	}

	if len(m.channels) == 0 {
		return nil, fmt.Errorf("channels: no channel enabled")
	}
	return m, nil
}

func (m *Manager) register(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()
}

// Get returns a registered channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// List returns the names of all registered channels.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// Start brings up every adapter and begins dispatching outbound messages.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("channels: start %s: %w", name, err)
		}
		logger.InfoCF("channels", "Channel started", map[string]interface{}{"channel": name})
	}

	m.wg.Add(1)
	go m.dispatchOutbound(ctx)
	return nil
}

// Stop shuts down the adapters and waits for the dispatcher to exit.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.RLock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop failed",
				map[string]interface{}{"channel": name, "error": err.Error()})
		}
	}
	m.mu.RUnlock()
	m.wg.Wait()
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	defer m.wg.Done()

	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}

		ch, found := m.Get(msg.Context.Channel)
		if !found {
			logger.WarnCF("channels", "No channel for outbound message",
				map[string]interface{}{"channel": msg.Context.Channel})
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Delivery failed",
				map[string]interface{}{"channel": msg.Context.Channel, "error": err.Error()})
		}
	}
}
