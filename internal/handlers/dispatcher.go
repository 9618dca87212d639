package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/Rozen29/WhaTel-AI/internal/i18n"
	"github.com/Rozen29/WhaTel-AI/internal/middleware"
	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/Rozen29/WhaTel-AI/internal/services/ai"
	"github.com/Rozen29/WhaTel-AI/internal/services/session"
	"github.com/Rozen29/WhaTel-AI/internal/services/storage"
	"github.com/Rozen29/WhaTel-AI/internal/services/whatsapp"
	"github.com/Rozen29/WhaTel-AI/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Dispatcher processes inbound WhatsApp messages. Each message passes a
// chain of gates before it reaches the AI: chatbot toggle, group filter,
// authorization, first-contact greeting, flood limiter, daily quota.
type Dispatcher struct {
	config        *config.Config
	router        *ai.Router
	conversations *session.ConversationStore
	registry      *session.Registry
	rateLimiter   *session.RateLimiter
	floodLimiter  middleware.FloodLimiter
	toggle        *ChatbotToggle
	storage       *storage.Manager
	metrics       *middleware.Metrics
	localizer     *i18n.Localizer
	logger        *logrus.Logger
}

// NewDispatcher creates a new WhatsApp message dispatcher
func NewDispatcher(
	cfg *config.Config,
	router *ai.Router,
	conversations *session.ConversationStore,
	registry *session.Registry,
	rateLimiter *session.RateLimiter,
	floodLimiter middleware.FloodLimiter,
	toggle *ChatbotToggle,
	storage *storage.Manager,
	metrics *middleware.Metrics,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		config:        cfg,
		router:        router,
		conversations: conversations,
		registry:      registry,
		rateLimiter:   rateLimiter,
		floodLimiter:  floodLimiter,
		toggle:        toggle,
		storage:       storage,
		metrics:       metrics,
		localizer:     localizer,
		logger:        logger,
	}
}

// Dispatch handles one inbound message end to end.
func (d *Dispatcher) Dispatch(ctx context.Context, client whatsapp.Client, msg whatsapp.Message) {
	senderID := msg.SenderID
	log := logger.WithUser(d.logger, string(models.PlatformWhatsApp), senderID)

	d.metrics.RecordMessageReceived(string(models.PlatformWhatsApp))

	// /clear works even while the chatbot is off.
	if msg.Text == "/clear" || msg.Text == "/clear_history" {
		d.handleClear(ctx, client, msg)
		return
	}

	if !d.toggle.Enabled() || msg.IsGroup || !d.registry.IsAuthorized(senderID) {
		return
	}

	// First contact gets the greeting instead of an AI reply.
	greeted, err := d.storage.IsGreeted(ctx, senderID)
	if err != nil {
		log.WithError(err).Warn("Failed to check greeting marker")
	}
	if !greeted {
		if err := d.storage.MarkGreeted(ctx, senderID); err != nil {
			log.WithError(err).Warn("Failed to persist greeting marker")
		}
		// Configured greeting wins; the catalog text is the fallback.
		greeting := d.config.Session.Greeting
		if greeting == "" {
			greeting = d.text(i18n.MsgGreeting, nil)
		}
		d.reply(ctx, client, msg, greeting)
		// Seed the conversation so the next message starts from the
		// system prompt.
		conv := d.conversations.Load(ctx, models.PlatformWhatsApp, senderID)
		if err := d.conversations.Save(ctx, conv); err != nil {
			log.WithError(err).Warn("Failed to seed conversation")
		}
		return
	}

	if !d.floodLimiter.Allow(senderID) {
		d.metrics.RecordRateLimitBlocked("flood")
		d.reply(ctx, client, msg, d.text(i18n.MsgFloodLimited, nil))
		return
	}

	if !d.rateLimiter.CheckAndConsume(ctx, senderID) {
		log.Info("Daily message limit reached")
		d.metrics.RecordRateLimitBlocked("daily")
		d.reply(ctx, client, msg, d.text(i18n.MsgRateLimited, nil))
		return
	}

	if msg.HasMedia && strings.HasPrefix(msg.MimeType, "image/") {
		d.handleImage(ctx, client, msg, log)
		return
	}
	if msg.Text != "" {
		d.handleText(ctx, client, msg, log)
	}
}

func (d *Dispatcher) handleClear(ctx context.Context, client whatsapp.Client, msg whatsapp.Message) {
	if !d.registry.IsAuthorized(msg.SenderID) {
		d.reply(ctx, client, msg, d.text(i18n.MsgNotAuthorized, nil))
		return
	}
	if err := d.conversations.Clear(ctx, models.PlatformWhatsApp, msg.SenderID); err != nil {
		d.logger.WithError(err).Error("Failed to clear conversation")
	}
	d.reply(ctx, client, msg, d.text(i18n.MsgHistoryCleared, nil))
}

func (d *Dispatcher) handleText(ctx context.Context, client whatsapp.Client, msg whatsapp.Message, log *logrus.Entry) {
	conv := d.conversations.Load(ctx, models.PlatformWhatsApp, msg.SenderID)
	appendUserTurn(conv, msg.Text)

	answer, err := d.router.AskWithFailover(ctx, ai.Request{Turns: conv.Turns})
	if err != nil {
		log.WithError(err).Error("WhatsApp chat request failed")
		d.metrics.RecordMessageProcessed(string(models.PlatformWhatsApp), "error")
		d.reply(ctx, client, msg, d.renderAIError(err))
		return
	}

	conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleAssistant, Content: answer})
	if err := d.conversations.Save(ctx, conv); err != nil {
		log.WithError(err).Warn("Failed to save conversation")
	}

	d.metrics.RecordMessageProcessed(string(models.PlatformWhatsApp), "ok")
	d.reply(ctx, client, msg, answer)
}

// handleImage answers an image with the vision model. The image itself is
// archived to the media directory; the vision call is single-turn.
func (d *Dispatcher) handleImage(ctx context.Context, client whatsapp.Client, msg whatsapp.Message, log *logrus.Entry) {
	image, err := client.DownloadMedia(ctx, msg)
	if err != nil {
		log.WithError(err).Error("Failed to download media")
		d.reply(ctx, client, msg, d.text(i18n.MsgAIError, nil))
		return
	}
	d.archiveImage(image, msg.MimeType, log)

	prompt := msg.Text
	if prompt == "" {
		prompt = d.config.Session.VisionPrompt
	}

	conv := d.conversations.Load(ctx, models.PlatformWhatsApp, msg.SenderID)
	appendUserTurn(conv, prompt+" (with image)")

	answer, err := d.router.AskWithFailover(ctx, ai.Request{Prompt: prompt, Image: image})
	if err != nil {
		log.WithError(err).Error("WhatsApp vision request failed")
		d.metrics.RecordMessageProcessed(string(models.PlatformWhatsApp), "error")
		d.reply(ctx, client, msg, d.renderAIError(err))
		return
	}

	conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleAssistant, Content: answer})
	if err := d.conversations.Save(ctx, conv); err != nil {
		log.WithError(err).Warn("Failed to save conversation")
	}

	d.metrics.RecordMessageProcessed(string(models.PlatformWhatsApp), "ok")
	d.reply(ctx, client, msg, answer)
}

func (d *Dispatcher) archiveImage(image []byte, mimeType string, log *logrus.Entry) {
	if d.config.WhatsApp.MediaDir == "" {
		return
	}
	ext := "jpg"
	if parts := strings.SplitN(mimeType, "/", 2); len(parts) == 2 && parts[1] != "" {
		ext = parts[1]
	}
	name := fmt.Sprintf("image_%d.%s", time.Now().UnixMilli(), ext)
	if err := os.WriteFile(filepath.Join(d.config.WhatsApp.MediaDir, name), image, 0o644); err != nil {
		log.WithError(err).Warn("Failed to archive image")
	}
}

func (d *Dispatcher) renderAIError(err error) string {
	var blocked *ai.ContentBlockedError
	switch {
	case errors.As(err, &blocked):
		return d.text(i18n.MsgContentBlocked, map[string]interface{}{"Reason": blocked.Reason})
	case errors.Is(err, ai.ErrAllProvidersUnavailable):
		return d.text(i18n.MsgAllUnavailable, nil)
	default:
		return d.text(i18n.MsgAIError, nil)
	}
}

func (d *Dispatcher) reply(ctx context.Context, client whatsapp.Client, msg whatsapp.Message, text string) {
	if err := client.SendReply(ctx, msg, text); err != nil {
		d.logger.WithError(err).Error("Failed to send WhatsApp reply")
	}
}

func (d *Dispatcher) text(messageID string, data map[string]interface{}) string {
	return d.localizer.GetDefault(messageID, data)
}
