package channels

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/m0ahs/openpoke/pkg/bus"
	"github.com/m0ahs/openpoke/pkg/logger"
)

// CLIChannel is an interactive terminal channel. Lines starting with "/" are
// local commands handled by the registered command handler instead of being
// sent to the assistant.
type CLIChannel struct {
	*BaseChannel
	rl        *readline.Instance
	onCommand func(cmd string) string
	cancel    context.CancelFunc
}

func NewCLIChannel(msgBus *bus.MessageBus) *CLIChannel {
	return &CLIChannel{
		BaseChannel: NewBaseChannel("cli", msgBus, nil),
	}
}

// SetCommandHandler installs the handler for "/" commands. It returns the
// text to print, or empty for silence.
func (c *CLIChannel) SetCommandHandler(handler func(cmd string) string) {
	c.onCommand = handler
}

func (c *CLIChannel) Start(ctx context.Context) error {
	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("cli: init readline: %w", err)
	}
	c.rl = rl
	c.setRunning(true)

	readCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.readLoop(readCtx)
	return nil
}

func (c *CLIChannel) readLoop(ctx context.Context) {
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				logger.InfoC("cli", "CLI input closed")
			} else {
				logger.ErrorCF("cli", "Read failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if c.onCommand != nil {
				if out := c.onCommand(line); out != "" {
					fmt.Println(out)
				}
			}
			continue
		}

		c.HandleMessage("local", "direct", line, nil)
	}
}

func (c *CLIChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.rl != nil {
		c.rl.Close()
	}
	return nil
}

func (c *CLIChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	fmt.Printf("\rpoke> %s\n", msg.Content)
	if c.rl != nil {
		c.rl.Refresh()
	}
	return nil
}
