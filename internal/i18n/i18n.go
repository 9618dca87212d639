package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		path := filepath.Join(cfg.Directory, lang+".json")
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", path, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// GetDefault returns the message in the default language.
func (l *Localizer) GetDefault(messageID string, data map[string]interface{}) string {
	return l.Get(l.defaultLanguage, messageID, data)
}

// Message IDs
const (
	MsgGreeting             = "greeting"
	MsgRateLimited          = "rate_limited"
	MsgFloodLimited         = "flood_limited"
	MsgNotAuthorized        = "not_authorized"
	MsgAIError              = "ai_error"
	MsgAllUnavailable       = "all_providers_unavailable"
	MsgContentBlocked       = "content_blocked"
	MsgHistoryCleared       = "history_cleared"
	MsgNoHistory            = "no_history"
	MsgProcessing           = "processing"
	MsgProcessingImage      = "processing_image"
	MsgChatbotEnabled       = "chatbot_enabled"
	MsgChatbotDisabled      = "chatbot_disabled"
	MsgConnectRejected      = "connect_rejected"
	MsgConnecting           = "connecting"
	MsgQRCaption            = "qr_caption"
	MsgAuthenticated        = "authenticated"
	MsgReady                = "ready"
	MsgAuthFailure          = "auth_failure"
	MsgDisconnected         = "disconnected"
	MsgAbnormalState        = "abnormal_state"
	MsgInitializeFailed     = "initialize_failed"
	MsgPendingPasswordAdd   = "pending_password_add"
	MsgPendingPasswordDel   = "pending_password_remove"
	MsgPendingCancelled     = "pending_cancelled"
	MsgPendingExhausted     = "pending_exhausted"
	MsgPendingWrongPassword = "pending_wrong_password"
	MsgUserAdded            = "user_added"
	MsgUserAlreadyPresent   = "user_already_present"
	MsgUserRemoved          = "user_removed"
	MsgUserNotFound         = "user_not_found"
	MsgAdminRemoveRefused   = "admin_remove_refused"
	MsgRateLimitResetDone   = "rate_limit_reset_done"
	MsgRateLimitResetAdmin  = "rate_limit_reset_admin"
	MsgUsage                = "usage"
	MsgUnknownCommand       = "unknown_command"
	MsgProviderSelected     = "provider_selected"
	MsgTextModelSelected    = "text_model_selected"
	MsgVisionModelSelected  = "vision_model_selected"
	MsgInvalidIndex         = "invalid_index"
	MsgNoVisionModels       = "no_vision_models"
	MsgOCRReplyRequired     = "ocr_reply_required"
	MsgOCRResult            = "ocr_result"
	MsgOCRFailed            = "ocr_failed"
	MsgVersion              = "version"
	MsgHelp                 = "help"
	MsgMyID                 = "my_id"
)
