// Package notify - внешние каналы доставки уведомлений
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"leverage/internal/models"
	"leverage/pkg/ratelimit"
)

// sender - часть BotAPI, которая нужна для отправки
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления в чат оператора
type Telegram struct {
	api         sender
	chatID      int64
	minSeverity int
	limiter     *ratelimit.Limiter
}

// TelegramConfig - параметры канала
type TelegramConfig struct {
	Token       string
	ChatID      int64
	MinSeverity string  // info, warn, error
	Rate        float64 // сообщений в секунду
}

// NewTelegram подключается к Bot API
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegram(api, cfg), nil
}

func newTelegram(api sender, cfg TelegramConfig) *Telegram {
	rate := cfg.Rate
	if rate <= 0 {
		rate = 1
	}
	return &Telegram{
		api:         api,
		chatID:      cfg.ChatID,
		minSeverity: severityRank(cfg.MinSeverity),
		limiter:     ratelimit.New(rate, 5),
	}
}

// Name - имя канала для логов
func (t *Telegram) Name() string { return "telegram" }

// Send отправляет уведомление, если его важность не ниже порога
func (t *Telegram) Send(ctx context.Context, n *models.Notification) error {
	if severityRank(n.Severity) < t.minSeverity {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, Format(n))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Format - HTML текст сообщения
func Format(n *models.Notification) string {
	var sb strings.Builder

	sb.WriteString(severityIcon(n.Severity))
	sb.WriteString(" <b>")
	sb.WriteString(tgbotapi.EscapeText(tgbotapi.ModeHTML, n.Type))
	sb.WriteString("</b>\n")
	sb.WriteString(tgbotapi.EscapeText(tgbotapi.ModeHTML, n.Message))

	if n.PositionID != nil {
		sb.WriteString("\n<code>")
		sb.WriteString(tgbotapi.EscapeText(tgbotapi.ModeHTML, *n.PositionID))
		sb.WriteString("</code>")
	}
	return sb.String()
}

func severityRank(s string) int {
	switch strings.ToLower(s) {
	case models.SeverityWarn:
		return 1
	case models.SeverityError:
		return 2
	default:
		return 0
	}
}

func severityIcon(s string) string {
	switch s {
	case models.SeverityError:
		return "🚨"
	case models.SeverityWarn:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
