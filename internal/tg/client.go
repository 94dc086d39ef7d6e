package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nomadly/internal/metrics"
	"nomadly/internal/router"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Config holds configuration to initialise the Telegram client.
type Config struct {
	Token   string
	Debug   bool
	Metrics *metrics.Metrics
}

// UpdateProcessor handles inbound Telegram updates.
type UpdateProcessor interface {
	ProcessUpdate(ctx context.Context, update tgbotapi.Update)
}

// Client wraps the Telegram bot API and associated dependencies.
type Client struct {
	bot       *tgbotapi.BotAPI
	logger    *slog.Logger
	metrics   *metrics.Metrics
	processor UpdateProcessor
}

// New creates a new Telegram client instance.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug

	return &Client{
		bot:     bot,
		logger:  logger.With("component", "tg"),
		metrics: cfg.Metrics,
	}, nil
}

// SetUpdateProcessor registers the update processor callback.
func (c *Client) SetUpdateProcessor(processor UpdateProcessor) {
	c.processor = processor
}

// Start begins long-polling for updates and blocks until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	c.logger.Info("telegram client connected", "bot", c.bot.Self.UserName)

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := c.bot.GetUpdatesChan(updateCfg)

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			c.countIncoming(update)
			if c.processor != nil {
				go c.processor.ProcessUpdate(ctx, update)
			}
		}
	}
}

// SendText sends a plain text message to a chat.
func (c *Client) SendText(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TGOutgoingMessages.WithLabelValues("text").Inc()
	}
	return nil
}

// SendResult sends a router result, rendering its buttons as an inline
// keyboard.
func (c *Client) SendResult(_ context.Context, chatID int64, res router.Result) error {
	if res.Reply == "" {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, res.Reply)
	if len(res.Buttons) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, row := range res.Buttons {
			var buttons []tgbotapi.InlineKeyboardButton
			for _, b := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action))
			}
			rows = append(rows, buttons)
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("send result: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TGOutgoingMessages.WithLabelValues("result").Inc()
	}
	return nil
}

// AnswerCallback acknowledges a callback query so the client stops showing a
// progress spinner.
func (c *Client) AnswerCallback(callbackID string) {
	if _, err := c.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		c.logger.Warn("failed answering callback", "error", err)
	}
}

func (c *Client) countIncoming(update tgbotapi.Update) {
	if c.metrics == nil {
		return
	}
	switch {
	case update.CallbackQuery != nil:
		c.metrics.TGIncomingUpdates.WithLabelValues("callback").Inc()
	case update.Message != nil:
		c.metrics.TGIncomingUpdates.WithLabelValues("message").Inc()
	default:
		c.metrics.TGIncomingUpdates.WithLabelValues("other").Inc()
	}
}
