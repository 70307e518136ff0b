package telegram

import (
	"context"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/coefwatch/internal/logger"
	"github.com/rewired-gh/coefwatch/internal/models"
	"github.com/rewired-gh/coefwatch/internal/monitor"
)

// Menu callback data.
const (
	actionSignal = "signal"
	actionStart  = "start_monitoring"
	actionStop   = "stop_monitoring"
	actionStats  = "stats"
	actionHelp   = "help"
)

// Controller is the scheduler surface the chat menu drives.
type Controller interface {
	Start(subscriberID int64) error
	Stop(subscriberID int64) error
	RequestForecastOnce(ctx context.Context, subscriberID int64) (models.AlertPayload, error)
	AccuracySnapshot(subscriberID int64) models.AccuracyRecord
}

// Bot serves the chat menu. Every chat is a subscriber.
type Bot struct {
	client         *Client
	control        Controller
	requestTimeout time.Duration
}

// NewBot creates a menu front-end sending through client.
func NewBot(client *Client, control Controller, requestTimeout time.Duration) *Bot {
	if requestTimeout <= 0 {
		requestTimeout = 20 * time.Second
	}
	return &Bot{client: client, control: control, requestTimeout: requestTimeout}
}

// ListenForCommands long-polls for updates until ctx is cancelled.
func (b *Bot) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.client.api.GetUpdatesChan(u)

	logger.Info("Listening for Telegram commands")
	for {
		select {
		case <-ctx.Done():
			b.client.api.StopReceivingUpdates()
			logger.Info("Stopped listening for Telegram commands")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if _, err := b.client.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			logger.Warn("Failed to answer callback query: %v", err)
		}
		if cq.Message == nil {
			return
		}
		chatID := cq.Message.Chat.ID
		b.reply(ctx, chatID, b.handleAction(ctx, chatID, cq.Data))

	case update.Message != nil && update.Message.IsCommand():
		chatID := update.Message.Chat.ID
		switch update.Message.Command() {
		case "start", "menu":
			b.reply(ctx, chatID, welcomeText())
		case "help":
			b.reply(ctx, chatID, helpText())
		default:
			logger.Debug("Ignoring unknown command /%s from chat %d", update.Message.Command(), chatID)
		}
	}
}

// handleAction runs a menu action for a subscriber and returns the MarkdownV2 reply.
func (b *Bot) handleAction(ctx context.Context, subscriberID int64, action string) string {
	switch action {
	case actionSignal:
		reqCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
		defer cancel()

		payload, err := b.control.RequestForecastOnce(reqCtx, subscriberID)
		switch {
		case err == nil:
			return formatForecast(payload, 0)
		case errors.Is(err, monitor.ErrInsufficientHistory):
			return escapeMarkdownV2("⏳ Not enough data yet. Collecting coefficients, try again in a few rounds.")
		case errors.Is(err, monitor.ErrFeedUnavailable):
			logger.Warn("Signal for chat %d: %v", subscriberID, err)
			return escapeMarkdownV2("⚠️ The coefficient feed is unavailable right now. Try again later.")
		default:
			logger.Error("Signal for chat %d failed: %v", subscriberID, err)
			return escapeMarkdownV2("⚠️ Could not compute a forecast.")
		}

	case actionStart:
		err := b.control.Start(subscriberID)
		switch {
		case err == nil:
			return escapeMarkdownV2("▶️ Monitoring started. You will be alerted when a confident forecast appears.")
		case errors.Is(err, monitor.ErrAlreadyActive):
			return escapeMarkdownV2("Monitoring is already running.")
		default:
			logger.Error("Start for chat %d failed: %v", subscriberID, err)
			return escapeMarkdownV2("⚠️ Could not start monitoring.")
		}

	case actionStop:
		err := b.control.Stop(subscriberID)
		switch {
		case err == nil:
			return escapeMarkdownV2("⏹ Monitoring stopped.")
		case errors.Is(err, monitor.ErrAlreadyStopped):
			return escapeMarkdownV2("Monitoring is not running.")
		default:
			logger.Error("Stop for chat %d failed: %v", subscriberID, err)
			return escapeMarkdownV2("⚠️ Could not stop monitoring.")
		}

	case actionStats:
		return formatStats(b.control.AccuracySnapshot(subscriberID))

	case actionHelp:
		return helpText()

	default:
		logger.Debug("Ignoring unknown callback %q from chat %d", action, subscriberID)
		return helpText()
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyMarkup = menuKeyboard()
	if err := b.client.send(ctx, msg); err != nil {
		logger.Error("Failed to reply to chat %d: %v", chatID, err)
	}
}

func menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎯 Signal", actionSignal),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Start monitoring", actionStart),
			tgbotapi.NewInlineKeyboardButtonData("⏹ Stop monitoring", actionStop),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Stats", actionStats),
			tgbotapi.NewInlineKeyboardButtonData("❓ Help", actionHelp),
		),
	)
}

func welcomeText() string {
	return "👋 *Coefficient monitor*\n\n" +
		escapeMarkdownV2("Ask for a one-off signal or start monitoring to get alerts when a forecast is confident.")
}

func helpText() string {
	return "❓ *Help*\n\n" + escapeMarkdownV2(
		"🎯 Signal: forecast the next coefficient now.\n"+
			"▶️ Start monitoring: check the feed periodically and alert on confident forecasts.\n"+
			"⏹ Stop monitoring: stop periodic checks. Your history and stats are kept.\n"+
			"📊 Stats: how past forecasts compared with what happened.\n\n"+
			"Forecasts are predictions, not guarantees.")
}
