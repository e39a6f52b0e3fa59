package channels

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/m0ahs/openpoke/pkg/bus"
	"github.com/m0ahs/openpoke/pkg/config"
	"github.com/m0ahs/openpoke/pkg/logger"
)

// telegramMessageLimit is the Bot API maximum message length.
const telegramMessageLimit = 4096

type TelegramChannel struct {
	*BaseChannel
	bot           *telego.Bot
	config        config.TelegramConfig
	cancelPolling context.CancelFunc
	botUsername   string
}

func NewTelegramChannel(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	c.setRunning(true)

	botInfo, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	c.botUsername = botInfo.Username
	logger.InfoCF("telegram", "Telegram bot connected",
		map[string]interface{}{"username": botInfo.Username})

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancelPolling = cancel

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{Timeout: 30})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	go func() {
		for update := range updates {
			if update.Message != nil {
				c.handleUpdate(update)
			}
		}
		logger.InfoC("telegram", "Telegram updates channel closed")
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if c.cancelPolling != nil {
		c.cancelPolling()
		c.cancelPolling = nil
	}
	return nil
}

func (c *TelegramChannel) handleUpdate(update telego.Update) {
	msg := update.Message
	if msg.From == nil || msg.Text == "" {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.Username != "" {
		senderID = senderID + "|" + msg.From.Username
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	metadata := map[string]string{
		"username":   msg.From.Username,
		"first_name": msg.From.FirstName,
		"message_id": strconv.Itoa(msg.MessageID),
	}

	c.HandleMessage(senderID, chatID, msg.Text, metadata)
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	chatID, err := strconv.ParseInt(msg.Context.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", msg.Context.ChatID, err)
	}

	for _, chunk := range splitMessage(msg.Content, telegramMessageLimit) {
		params := tu.Message(tu.ID(chatID), chunk)
		if err := c.sendWithRetry(ctx, params); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// sendWithRetry honors the Bot API's retry_after hint on rate limits.
func (c *TelegramChannel) sendWithRetry(ctx context.Context, params *telego.SendMessageParams) error {
	const maxRetries = 3
	for i := 0; i <= maxRetries; i++ {
		_, err := c.bot.SendMessage(ctx, params)
		if err == nil {
			return nil
		}
		var tgErr *telegoapi.Error
		if errors.As(err, &tgErr) && tgErr.Parameters != nil && tgErr.Parameters.RetryAfter > 0 {
			wait := time.Duration(tgErr.Parameters.RetryAfter) * time.Second
			logger.WarnCF("telegram", "Rate limited, backing off",
				map[string]interface{}{"retry_after": tgErr.Parameters.RetryAfter, "attempt": i + 1})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		return err
	}
	return fmt.Errorf("telegram rate limit: max retries exceeded")
}

// splitMessage breaks content into chunks within the API limit, preferring
// newline boundaries.
func splitMessage(content string, limit int) []string {
	if len(content) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(content) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if content[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, content[:cut])
		content = content[cut:]
	}
	if len(content) > 0 {
		chunks = append(chunks, content)
	}
	return chunks
}
