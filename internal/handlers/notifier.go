package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// TelegramNotifier reports connection lifecycle events to Telegram chats.
// It also escalates to the configured error chat when one is set.
type TelegramNotifier struct {
	bot         *tgbotapi.BotAPI
	errorChatID int64
	logger      *logrus.Logger
}

func NewTelegramNotifier(bot *tgbotapi.BotAPI, errorChatID int64, logger *logrus.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:         bot,
		errorChatID: errorChatID,
		logger:      logger,
	}
}

func (n *TelegramNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := n.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		n.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to send notification")
	}
	return err
}

func (n *TelegramNotifier) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) (int, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "qr.png", Bytes: png})
	photo.Caption = caption
	sent, err := n.bot.Send(photo)
	if err != nil {
		n.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to send photo")
		return 0, err
	}
	return sent.MessageID, nil
}

func (n *TelegramNotifier) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := n.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

// NotifyError forwards text to the error chat. A zero chat ID disables
// escalation; the event is still in the logs.
func (n *TelegramNotifier) NotifyError(ctx context.Context, text string) {
	if n.errorChatID == 0 {
		return
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.errorChatID, text)); err != nil {
		n.logger.WithError(err).Error("Failed to escalate to error chat")
	}
}
