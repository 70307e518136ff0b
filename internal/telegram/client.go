// Package telegram delivers forecast alerts through the Telegram Bot API and serves
// the chat menu subscribers use to control their monitoring.
//
// Messages are sent as MarkdownV2. Each subscriber is identified by their chat ID,
// which is also the ID the scheduler keys sessions by.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/coefwatch/internal/models"
)

// botAPI is the subset of *tgbotapi.BotAPI used by this package.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Client handles Telegram notifications
type Client struct {
	api            botAPI
	maxRetries     int
	retryDelayBase time.Duration
	pollInterval   time.Duration
}

// NewClient creates a new Telegram client. pollInterval is shown in alerts as the
// time until the next check.
func NewClient(botToken string, maxRetries int, retryDelayBase, pollInterval time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, maxRetries, retryDelayBase, pollInterval), nil
}

func newClient(api botAPI, maxRetries int, retryDelayBase, pollInterval time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		api:            api,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		pollInterval:   pollInterval,
	}
}

// Deliver sends a monitoring alert to the subscriber's chat.
func (c *Client) Deliver(ctx context.Context, subscriberID int64, payload models.AlertPayload) error {
	msg := tgbotapi.NewMessage(subscriberID, formatForecast(payload, c.pollInterval))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	return c.send(ctx, msg)
}

// send sends with retry
func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) error {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		_, err := c.api.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("message not sent: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatForecast renders a forecast as a MarkdownV2 message. nextCheck is omitted
// when zero, as it is for on-demand signals.
func formatForecast(p models.AlertPayload, nextCheck time.Duration) string {
	f := p.Forecast
	var b strings.Builder

	b.WriteString("🎯 *Coefficient forecast*\n\n")
	if p.Observation.RoundID != "" {
		fmt.Fprintf(&b, "🎲 Round: `%s`\n", escapeMarkdownV2(p.Observation.RoundID))
	}
	fmt.Fprintf(&b, "📍 Last coefficient: %s\n", escapeMarkdownV2(formatCoefficient(p.Observation.Value)))
	fmt.Fprintf(&b, "📈 Expected: *%s*\n", escapeMarkdownV2(formatCoefficient(f.Median)))
	fmt.Fprintf(&b, "↔️ Range: %s to %s\n",
		escapeMarkdownV2(formatCoefficient(f.Lower)), escapeMarkdownV2(formatCoefficient(f.Upper)))
	fmt.Fprintf(&b, "🔒 Confidence: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%d%%", f.Confidence)))
	fmt.Fprintf(&b, "✅ Accuracy: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", p.AccuracyPercent)))
	if !f.ComputedAt.IsZero() {
		fmt.Fprintf(&b, "🕒 Time: %s\n", escapeMarkdownV2(f.ComputedAt.UTC().Format("2006-01-02 15:04:05")+" UTC"))
	}

	if nextCheck > 0 {
		fmt.Fprintf(&b, "\n⏱ Next check in %d seconds\n", int(nextCheck.Seconds()))
	}
	b.WriteString("\n")
	b.WriteString(escapeMarkdownV2("⚠️ This is a prediction, not a guarantee."))
	return b.String()
}

// formatStats renders an accuracy record as a MarkdownV2 message.
func formatStats(r models.AccuracyRecord) string {
	var b strings.Builder

	b.WriteString("📊 *Forecast statistics*\n\n")
	if r.TotalForecasts == 0 {
		b.WriteString(escapeMarkdownV2("No forecasts evaluated yet."))
		return b.String()
	}

	fmt.Fprintf(&b, "Total forecasts: %d\n", r.TotalForecasts)
	fmt.Fprintf(&b, "Correct: %d\n", r.CorrectForecasts)
	fmt.Fprintf(&b, "Accuracy: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", r.AccuracyPercent())))
	fmt.Fprintf(&b, "Last %d: %d correct", len(r.RecentOutcomes), r.RecentCorrect())
	return b.String()
}

func formatCoefficient(v float64) string {
	return fmt.Sprintf("%.2fx", v)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
