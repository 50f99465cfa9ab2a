package notify

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage/internal/models"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramSend(t *testing.T) {
	api := &fakeSender{}
	tg := newTelegram(api, TelegramConfig{ChatID: 42, Rate: 100})

	id := "pos-1"
	err := tg.Send(context.Background(), &models.Notification{
		Type:       models.NotificationTypeLiquidation,
		Severity:   models.SeverityError,
		Message:    "margin < 10% on <ETHUSDT>",
		PositionID: &id,
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)

	msg := api.sent[0]
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "<b>LIQUIDATION</b>")
	assert.Contains(t, msg.Text, "&lt;ETHUSDT&gt;")
	assert.Contains(t, msg.Text, "<code>pos-1</code>")
}

func TestTelegramSend_BelowThreshold(t *testing.T) {
	api := &fakeSender{}
	tg := newTelegram(api, TelegramConfig{ChatID: 1, MinSeverity: "warn", Rate: 100})

	require.NoError(t, tg.Send(context.Background(), &models.Notification{Type: models.NotificationTypeOpen, Severity: models.SeverityInfo}))
	assert.Empty(t, api.sent)

	require.NoError(t, tg.Send(context.Background(), &models.Notification{Type: models.NotificationTypeCloseRetry, Severity: models.SeverityWarn}))
	assert.Len(t, api.sent, 1)
}

func TestTelegramSend_Error(t *testing.T) {
	api := &fakeSender{err: errors.New("bad gateway")}
	tg := newTelegram(api, TelegramConfig{ChatID: 1, Rate: 100})

	err := tg.Send(context.Background(), &models.Notification{Type: models.NotificationTypeClose})
	assert.ErrorContains(t, err, "bad gateway")
}

func TestTelegramSend_CancelledContext(t *testing.T) {
	api := &fakeSender{}
	tg := newTelegram(api, TelegramConfig{ChatID: 1, Rate: 0.001})

	// исчерпываем burst
	for i := 0; i < 5; i++ {
		require.NoError(t, tg.Send(context.Background(), &models.Notification{Type: models.NotificationTypeOpen}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tg.Send(ctx, &models.Notification{Type: models.NotificationTypeOpen})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, api.sent, 5)
}
