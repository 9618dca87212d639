package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/Rozen29/WhaTel-AI/internal/i18n"
	"github.com/Rozen29/WhaTel-AI/internal/middleware"
	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/Rozen29/WhaTel-AI/internal/services/ai"
	"github.com/Rozen29/WhaTel-AI/internal/services/session"
	"github.com/Rozen29/WhaTel-AI/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// MessageHandler handles non-command Telegram messages: password entry for
// pending mutations, and the admin AI chat.
type MessageHandler struct {
	bot           *tgbotapi.BotAPI
	config        *config.Config
	router        *ai.Router
	conversations *session.ConversationStore
	pending       *session.PendingFlow
	toggle        *ChatbotToggle
	metrics       *middleware.Metrics
	localizer     *i18n.Localizer
	logger        *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	bot *tgbotapi.BotAPI,
	cfg *config.Config,
	router *ai.Router,
	conversations *session.ConversationStore,
	pending *session.PendingFlow,
	toggle *ChatbotToggle,
	metrics *middleware.Metrics,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		bot:           bot,
		config:        cfg,
		router:        router,
		conversations: conversations,
		pending:       pending,
		toggle:        toggle,
		metrics:       metrics,
		localizer:     localizer,
		logger:        logger,
	}
}

func (h *MessageHandler) isAdmin(userID int64) bool {
	for _, id := range h.config.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HandlePending feeds the message into the pending confirmation flow.
// Returns true when the flow consumed the message, in which case no other
// handler should see it.
func (h *MessageHandler) HandlePending(ctx context.Context, message *tgbotapi.Message) bool {
	chatID := message.Chat.ID
	if !h.pending.HasPending(chatID) {
		return false
	}

	result := h.pending.HandleMessage(ctx, chatID, message.From.ID, message.Text)
	switch result.Outcome {
	case session.PendingIgnored:
		return false
	case session.PendingCancelled:
		h.reply(chatID, h.text(i18n.MsgPendingCancelled, nil))
	case session.PendingWrongPassword:
		h.reply(chatID, h.text(i18n.MsgPendingWrongPassword, map[string]interface{}{
			"Remaining": result.AttemptsRemaining,
		}))
	case session.PendingExhausted:
		h.reply(chatID, h.text(i18n.MsgPendingExhausted, nil))
	case session.PendingApplied:
		id := i18n.MsgUserAdded
		if result.Action.Kind == models.PendingRemove {
			id = i18n.MsgUserRemoved
		}
		h.reply(chatID, h.text(id, map[string]interface{}{
			"User": result.Action.TargetUserID,
		}))
	case session.PendingMutationFailed:
		h.reply(chatID, h.mutationFailureText(result))
	}
	return true
}

func (h *MessageHandler) mutationFailureText(result session.PendingResult) string {
	data := map[string]interface{}{"User": result.Action.TargetUserID}
	switch {
	case errors.Is(result.MutationErr, session.ErrAlreadyPresent):
		return h.text(i18n.MsgUserAlreadyPresent, data)
	case errors.Is(result.MutationErr, session.ErrNotFound):
		return h.text(i18n.MsgUserNotFound, data)
	case errors.Is(result.MutationErr, session.ErrAdminRemoval):
		return h.text(i18n.MsgAdminRemoveRefused, data)
	default:
		return result.MutationErr.Error()
	}
}

// HandleChat runs the admin AI conversation over Telegram.
func (h *MessageHandler) HandleChat(ctx context.Context, message *tgbotapi.Message) {
	h.metrics.RecordMessageReceived(string(models.PlatformTelegram))

	if !h.isAdmin(message.From.ID) || !h.toggle.Enabled() {
		return
	}

	switch {
	case len(message.Photo) > 0:
		h.handlePhoto(ctx, message)
	case message.Text != "":
		h.handleText(ctx, message)
	}
}

func (h *MessageHandler) handleText(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := strconv.FormatInt(message.From.ID, 10)

	h.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	conv := h.conversations.Load(ctx, models.PlatformTelegram, userID)
	appendUserTurn(conv, message.Text)

	answer, err := h.router.AskWithFailover(ctx, ai.Request{Turns: conv.Turns})
	if err != nil {
		h.logger.WithError(err).Error("Telegram chat request failed")
		h.metrics.RecordMessageProcessed(string(models.PlatformTelegram), "error")
		h.reply(chatID, h.aiErrorText(err))
		return
	}

	conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleAssistant, Content: answer})
	if err := h.conversations.Save(ctx, conv); err != nil {
		h.logger.WithError(err).Warn("Failed to save conversation")
	}

	h.metrics.RecordMessageProcessed(string(models.PlatformTelegram), "ok")
	h.replyMarkdown(chatID, answer)
}

// handlePhoto answers a photo with the vision model. The exchange is stored
// in the conversation but each vision call is single-turn.
func (h *MessageHandler) handlePhoto(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	userID := strconv.FormatInt(message.From.ID, 10)

	placeholder, err := h.bot.Send(tgbotapi.NewMessage(chatID, h.text(i18n.MsgProcessingImage, nil)))
	if err != nil {
		h.logger.WithError(err).Error("Failed to send placeholder")
		return
	}

	photo, _ := largestPhoto(message.Photo)
	image, err := downloadTelegramFile(ctx, h.bot, photo.FileID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to download photo")
		h.editOrReply(chatID, placeholder.MessageID, h.text(i18n.MsgAIError, nil))
		return
	}

	prompt := message.Caption
	if prompt == "" {
		prompt = h.config.Session.VisionPrompt
	}

	conv := h.conversations.Load(ctx, models.PlatformTelegram, userID)
	appendUserTurn(conv, prompt+" (with image)")

	answer, err := h.router.AskWithFailover(ctx, ai.Request{Prompt: prompt, Image: image})
	if err != nil {
		h.logger.WithError(err).Error("Telegram vision request failed")
		h.metrics.RecordMessageProcessed(string(models.PlatformTelegram), "error")
		h.editOrReply(chatID, placeholder.MessageID, h.aiErrorText(err))
		return
	}

	conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleAssistant, Content: answer})
	if err := h.conversations.Save(ctx, conv); err != nil {
		h.logger.WithError(err).Warn("Failed to save conversation")
	}

	h.metrics.RecordMessageProcessed(string(models.PlatformTelegram), "ok")
	h.editOrReply(chatID, placeholder.MessageID, answer)
}

// appendUserTurn appends a user turn unless it duplicates the last one,
// which happens when a prior reply failed and the admin retries.
func appendUserTurn(conv *models.Conversation, content string) {
	if last := conv.LastTurn(); last != nil && last.Role == models.RoleUser && last.Content == content {
		return
	}
	conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleUser, Content: content})
}

// aiErrorText maps routing failures to user-facing replies.
func (h *MessageHandler) aiErrorText(err error) string {
	var blocked *ai.ContentBlockedError
	switch {
	case errors.As(err, &blocked):
		return h.text(i18n.MsgContentBlocked, map[string]interface{}{"Reason": blocked.Reason})
	case errors.Is(err, ai.ErrAllProvidersUnavailable):
		return h.text(i18n.MsgAllUnavailable, nil)
	default:
		return h.text(i18n.MsgAIError, nil)
	}
}

func (h *MessageHandler) text(messageID string, data map[string]interface{}) string {
	return h.localizer.GetDefault(messageID, data)
}

func (h *MessageHandler) reply(chatID int64, text string) {
	if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.logger.WithError(err).Error("Failed to send reply")
	}
}

func (h *MessageHandler) replyMarkdown(chatID int64, md string) {
	msg := tgbotapi.NewMessage(chatID, markdown.ToTelegramHTML(md))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := h.bot.Send(msg); err != nil {
		h.reply(chatID, md)
	}
}

func (h *MessageHandler) editOrReply(chatID int64, messageID int, text string) {
	if _, err := h.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		h.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
		h.reply(chatID, text)
	}
}
