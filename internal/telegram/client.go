// Package telegram provides a client for sending alert notifications via the
// Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/quietdesk/stillwatch/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. It returns immediately; the goroutine stops when ctx
// is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendOpened notifies that an inactivity alert opened.
func (c *Client) SendOpened(feed string, alert *models.AlertEvent) error {
	text := fmt.Sprintf("🔕 *Price inactivity* on %s\n%s \\(%s\\)\nstuck at `%s` ±`%s` for %s",
		escapeMarkdownV2(feed),
		escapeMarkdownV2(alert.InstrumentName),
		escapeMarkdownV2(alert.InstrumentKey),
		escapeMarkdownV2(fmt.Sprintf("%.4f", alert.BaselinePrice)),
		escapeMarkdownV2(fmt.Sprintf("%.4f", alert.Deviation)),
		escapeMarkdownV2(alert.Duration.Round(time.Second).String()),
	)
	return c.sendMarkdownV2(text)
}

// SendClosed notifies that an inactivity alert closed.
func (c *Client) SendClosed(feed string, alert *models.AlertEvent) error {
	text := fmt.Sprintf("🔔 *Inactivity over* on %s\n%s \\(%s\\)\nreason: %s, lasted %s, range `%s`\\-`%s`",
		escapeMarkdownV2(feed),
		escapeMarkdownV2(alert.InstrumentName),
		escapeMarkdownV2(alert.InstrumentKey),
		escapeMarkdownV2(string(alert.CloseReason)),
		escapeMarkdownV2(alert.Duration.Round(time.Second).String()),
		escapeMarkdownV2(fmt.Sprintf("%.4f", alert.Range.Min)),
		escapeMarkdownV2(fmt.Sprintf("%.4f", alert.Range.Max)),
	)
	return c.sendMarkdownV2(text)
}

// SendFreeze notifies that a feed went silent at the connection level.
func (c *Client) SendFreeze(feed string, timeout time.Duration) error {
	text := fmt.Sprintf("🧊 *Feed frozen*: %s received no data for %s",
		escapeMarkdownV2(feed),
		escapeMarkdownV2(timeout.String()),
	)
	return c.sendMarkdownV2(text)
}

// SendUnfreeze notifies that a frozen feed resumed.
func (c *Client) SendUnfreeze(feed string) error {
	text := fmt.Sprintf("✅ *Feed resumed*: %s is delivering data again", escapeMarkdownV2(feed))
	return c.sendMarkdownV2(text)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
