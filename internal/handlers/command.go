package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/Rozen29/WhaTel-AI/internal/i18n"
	"github.com/Rozen29/WhaTel-AI/internal/middleware"
	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/Rozen29/WhaTel-AI/internal/services/ai"
	"github.com/Rozen29/WhaTel-AI/internal/services/session"
	"github.com/Rozen29/WhaTel-AI/internal/services/whatsapp"
	"github.com/Rozen29/WhaTel-AI/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const botVersion = "1.0.8"

// CommandHandler handles the Telegram control commands.
type CommandHandler struct {
	bot           *tgbotapi.BotAPI
	config        *config.Config
	router        *ai.Router
	settings      *ai.Settings
	conversations *session.ConversationStore
	registry      *session.Registry
	rateLimiter   *session.RateLimiter
	pending       *session.PendingFlow
	stateMachine  *whatsapp.StateMachine
	toggle        *ChatbotToggle
	metrics       *middleware.Metrics
	localizer     *i18n.Localizer
	logger        *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot *tgbotapi.BotAPI,
	cfg *config.Config,
	router *ai.Router,
	settings *ai.Settings,
	conversations *session.ConversationStore,
	registry *session.Registry,
	rateLimiter *session.RateLimiter,
	pending *session.PendingFlow,
	stateMachine *whatsapp.StateMachine,
	toggle *ChatbotToggle,
	metrics *middleware.Metrics,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		bot:           bot,
		config:        cfg,
		router:        router,
		settings:      settings,
		conversations: conversations,
		registry:      registry,
		rateLimiter:   rateLimiter,
		pending:       pending,
		stateMachine:  stateMachine,
		toggle:        toggle,
		metrics:       metrics,
		localizer:     localizer,
		logger:        logger,
	}
}

func (h *CommandHandler) isAdmin(userID int64) bool {
	for _, id := range h.config.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HandleCommand processes a Telegram control command. All commands except
// /myid require a Telegram admin.
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	userID := message.From.ID
	command := message.Command()
	args := strings.TrimSpace(message.CommandArguments())

	h.metrics.RecordCommandExecuted(command)

	if command == "myid" {
		return h.handleMyID(message)
	}

	if !h.isAdmin(userID) {
		return h.reply(chatID, h.text(i18n.MsgNotAuthorized, nil))
	}

	switch command {
	case "connect":
		return h.stateMachine.Initialize(ctx, chatID)
	case "status":
		return h.handleStatus(chatID)
	case "show", "version":
		return h.reply(chatID, h.text(i18n.MsgVersion, map[string]interface{}{"Version": botVersion}))
	case "show_model":
		return h.handleShowModel(chatID)
	case "settings":
		return h.handleSettings(chatID, args)
	case "history":
		return h.handleHistory(ctx, chatID, userID)
	case "clear_history":
		return h.handleClearHistory(ctx, chatID, userID)
	case "start_chatbot":
		h.toggle.Set(true)
		return h.reply(chatID, h.text(i18n.MsgChatbotEnabled, nil))
	case "stop_chatbot":
		h.toggle.Set(false)
		return h.reply(chatID, h.text(i18n.MsgChatbotDisabled, nil))
	case "list":
		return h.handleList(chatID)
	case "add":
		return h.handleAdd(chatID, userID, args)
	case "remove":
		return h.handleRemove(chatID, userID, args)
	case "use_provider":
		return h.handleUseProvider(chatID, args)
	case "use_model":
		return h.handleUseModel(chatID, args)
	case "use_vision_model":
		return h.handleUseVisionModel(chatID, args)
	case "ocr":
		return h.handleOCR(ctx, message)
	case "resetratelimit":
		return h.handleResetRateLimit(ctx, chatID, args)
	case "cancel":
		// Handled by the pending flow when one is live; a stray /cancel
		// is a no-op.
		return nil
	case "help":
		return h.replyMarkdown(chatID, h.text(i18n.MsgHelp, nil))
	default:
		return h.reply(chatID, h.text(i18n.MsgUnknownCommand, nil))
	}
}

func (h *CommandHandler) handleMyID(message *tgbotapi.Message) error {
	username := message.From.UserName
	if username == "" {
		username = "N/A"
	}
	admin := "No"
	if h.isAdmin(message.From.ID) {
		admin = "Yes"
	}
	return h.reply(message.Chat.ID, h.text(i18n.MsgMyID, map[string]interface{}{
		"UserID":   message.From.ID,
		"ChatID":   message.Chat.ID,
		"Username": username,
		"Admin":    admin,
	}))
}

func (h *CommandHandler) handleStatus(chatID int64) error {
	state, reason := h.stateMachine.State()
	stateLine := state.String()
	switch state {
	case whatsapp.StateUninitialized:
		stateLine = "Not connected (use /connect)"
	case whatsapp.StateReady:
		stateLine = "Connected and ready"
	case whatsapp.StateAbnormal:
		stateLine = fmt.Sprintf("ABNORMAL: %s", reason)
	}

	logic := "Inactive"
	if h.toggle.Enabled() {
		logic = "Active"
	}

	current, _ := h.router.Current()
	visionName := "N/A"
	if vm, ok := current.CurrentVisionModel(); ok {
		visionName = vm.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bot status:\nLogic: %s\nWhatsApp: %s\n\nAI:\nProvider: %s\nText: %s\nVision: %s\n\nAll providers:\n",
		logic, stateLine, current.Name(), current.CurrentTextModel().Name, visionName)
	for _, p := range h.router.Providers() {
		status := "KEY MISSING"
		if p.Available() {
			status = "Ok"
		}
		fmt.Fprintf(&b, "%s: %s\n", p.Name(), status)
	}
	return h.reply(chatID, b.String())
}

func (h *CommandHandler) handleShowModel(chatID int64) error {
	_, currentIdx := h.router.Current()

	var b strings.Builder
	b.WriteString("AI models:\n")
	for pi, p := range h.router.Providers() {
		marker := ""
		if pi == currentIdx {
			marker = " (current)"
		}
		fmt.Fprintf(&b, "\nProvider %d: %s%s\n Text:\n", pi, p.Name(), marker)
		currentText := p.CurrentTextModel()
		for mi, m := range p.TextModels() {
			cur := ""
			if m.ID == currentText.ID {
				cur = " (current)"
			}
			fmt.Fprintf(&b, "  %d: %s%s\n", mi, m.Name, cur)
		}
		if vms := p.VisionModels(); len(vms) > 0 {
			b.WriteString(" Vision:\n")
			currentVision, _ := p.CurrentVisionModel()
			for vi, vm := range vms {
				cur := ""
				if vm.ID == currentVision.ID {
					cur = " (current)"
				}
				fmt.Fprintf(&b, "  %d: %s%s\n", vi, vm.Name, cur)
			}
		}
	}
	return h.reply(chatID, b.String())
}

func (h *CommandHandler) handleSettings(chatID int64, args string) error {
	if args == "" {
		return h.reply(chatID, h.settings.Describe())
	}

	fields := strings.Fields(args)
	if len(fields) != 2 {
		return h.reply(chatID, h.text(i18n.MsgUsage, map[string]interface{}{
			"Usage": "/settings <path> <value>",
		}))
	}

	detail, err := h.settings.Set(fields[0], fields[1])
	if err != nil {
		return h.reply(chatID, err.Error())
	}
	return h.reply(chatID, detail)
}

func (h *CommandHandler) handleHistory(ctx context.Context, chatID, userID int64) error {
	turns := h.conversations.History(ctx, models.PlatformTelegram, strconv.FormatInt(userID, 10), 10)
	if len(turns) == 0 {
		return h.reply(chatID, h.text(i18n.MsgNoHistory, nil))
	}

	var b strings.Builder
	b.WriteString("History (last 10):\n\n")
	for i, t := range turns {
		content := t.Content
		if len(content) > 150 {
			content = content[:150] + "..."
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n\n", i+1, t.Role, content)
	}
	return h.reply(chatID, b.String())
}

func (h *CommandHandler) handleClearHistory(ctx context.Context, chatID, userID int64) error {
	if err := h.conversations.Clear(ctx, models.PlatformTelegram, strconv.FormatInt(userID, 10)); err != nil {
		h.logger.WithError(err).Error("Failed to clear history")
	}
	return h.reply(chatID, h.text(i18n.MsgHistoryCleared, nil))
}

func (h *CommandHandler) handleList(chatID int64) error {
	set := h.registry.Snapshot()
	admins := strings.Join(set.Admin, "\n")
	if admins == "" {
		admins = "None"
	}
	users := strings.Join(set.Users, "\n")
	if users == "" {
		users = "None"
	}
	return h.reply(chatID, fmt.Sprintf("WhatsApp authorized users:\nAdmin (no rate limit):\n%s\n\nUser (rate limited):\n%s", admins, users))
}

func (h *CommandHandler) handleAdd(chatID, userID int64, args string) error {
	if args == "" {
		return h.reply(chatID, h.text(i18n.MsgUsage, map[string]interface{}{
			"Usage": "/add <phone number>",
		}))
	}
	target := session.SanitizeWhatsAppID(args)
	h.pending.Begin(chatID, userID, models.PendingAdd, target)
	return h.reply(chatID, h.text(i18n.MsgPendingPasswordAdd, map[string]interface{}{"User": target}))
}

func (h *CommandHandler) handleRemove(chatID, userID int64, args string) error {
	if args == "" {
		return h.reply(chatID, h.text(i18n.MsgUsage, map[string]interface{}{
			"Usage": "/remove <phone number>",
		}))
	}
	target := session.SanitizeWhatsAppID(args)
	h.pending.Begin(chatID, userID, models.PendingRemove, target)
	return h.reply(chatID, h.text(i18n.MsgPendingPasswordDel, map[string]interface{}{"User": target}))
}

func (h *CommandHandler) handleUseProvider(chatID int64, args string) error {
	idx, err := strconv.Atoi(args)
	if err != nil || h.router.SelectProvider(idx) != nil {
		return h.reply(chatID, h.text(i18n.MsgInvalidIndex, map[string]interface{}{
			"Max": len(h.router.Providers()) - 1,
		}))
	}
	current, _ := h.router.Current()
	return h.reply(chatID, h.text(i18n.MsgProviderSelected, map[string]interface{}{
		"Provider": current.Name(),
	}))
}

func (h *CommandHandler) handleUseModel(chatID int64, args string) error {
	current, _ := h.router.Current()
	idx, err := strconv.Atoi(args)
	if err != nil || current.SelectTextModel(idx) != nil {
		return h.reply(chatID, h.text(i18n.MsgInvalidIndex, map[string]interface{}{
			"Max": len(current.TextModels()) - 1,
		}))
	}
	return h.reply(chatID, h.text(i18n.MsgTextModelSelected, map[string]interface{}{
		"Provider": current.Name(),
		"Model":    current.CurrentTextModel().Name,
	}))
}

func (h *CommandHandler) handleUseVisionModel(chatID int64, args string) error {
	current, _ := h.router.Current()
	if len(current.VisionModels()) == 0 {
		return h.reply(chatID, h.text(i18n.MsgNoVisionModels, map[string]interface{}{
			"Provider": current.Name(),
		}))
	}
	idx, err := strconv.Atoi(args)
	if err != nil || current.SelectVisionModel(idx) != nil {
		return h.reply(chatID, h.text(i18n.MsgInvalidIndex, map[string]interface{}{
			"Max": len(current.VisionModels()) - 1,
		}))
	}
	vm, _ := current.CurrentVisionModel()
	return h.reply(chatID, h.text(i18n.MsgVisionModelSelected, map[string]interface{}{
		"Provider": current.Name(),
		"Model":    vm.Name,
	}))
}

// handleOCR extracts text from a photo the command replies to.
func (h *CommandHandler) handleOCR(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	if message.ReplyToMessage == nil || len(message.ReplyToMessage.Photo) == 0 {
		return h.reply(chatID, h.text(i18n.MsgOCRReplyRequired, nil))
	}
	photo, _ := largestPhoto(message.ReplyToMessage.Photo)

	placeholder, err := h.bot.Send(tgbotapi.NewMessage(chatID, h.text(i18n.MsgProcessingImage, nil)))
	if err != nil {
		return err
	}

	image, err := downloadTelegramFile(ctx, h.bot, photo.FileID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to download photo for OCR")
		return h.editOrReply(chatID, placeholder.MessageID, h.text(i18n.MsgOCRFailed, nil))
	}

	result, err := h.router.AskWithFailover(ctx, ai.Request{
		Prompt: h.config.Session.OCRPrompt,
		Image:  image,
	})
	if err != nil {
		h.logger.WithError(err).Error("OCR request failed")
		return h.editOrReply(chatID, placeholder.MessageID, h.text(i18n.MsgOCRFailed, nil))
	}

	return h.editOrReply(chatID, placeholder.MessageID, h.text(i18n.MsgOCRResult, map[string]interface{}{
		"Text": result,
	}))
}

func (h *CommandHandler) handleResetRateLimit(ctx context.Context, chatID int64, args string) error {
	if args == "" {
		return h.reply(chatID, h.text(i18n.MsgUsage, map[string]interface{}{
			"Usage": "/resetratelimit <phone number>",
		}))
	}
	target := session.SanitizeWhatsAppID(args)
	didReset, err := h.rateLimiter.Reset(ctx, target)
	if err != nil {
		return h.reply(chatID, err.Error())
	}
	if !didReset {
		return h.reply(chatID, h.text(i18n.MsgRateLimitResetAdmin, map[string]interface{}{"User": target}))
	}
	return h.reply(chatID, h.text(i18n.MsgRateLimitResetDone, map[string]interface{}{"User": target}))
}

func (h *CommandHandler) text(messageID string, data map[string]interface{}) string {
	return h.localizer.GetDefault(messageID, data)
}

func (h *CommandHandler) reply(chatID int64, text string) error {
	_, err := h.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (h *CommandHandler) replyMarkdown(chatID int64, md string) error {
	msg := tgbotapi.NewMessage(chatID, markdown.ToTelegramHTML(md))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := h.bot.Send(msg); err != nil {
		// Fall back to plain text when the rendered HTML is rejected.
		return h.reply(chatID, md)
	}
	return nil
}

// editOrReply edits the placeholder in place, falling back to delete+send
// when the edit is rejected.
func (h *CommandHandler) editOrReply(chatID int64, messageID int, text string) error {
	if _, err := h.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		h.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
		return h.reply(chatID, text)
	}
	return nil
}
