package whatsapp

import (
	"context"
	"fmt"
	"sync"

	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

// State is the connection lifecycle state of the single WhatsApp session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateQRReceived
	StateAuthenticated
	StateReady
	StateAuthFailure
	StateDisconnected
	StateAbnormal
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateQRReceived:
		return "QR_RECEIVED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateReady:
		return "READY"
	case StateAuthFailure:
		return "AUTH_FAILURE"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateAbnormal:
		return "ABNORMAL"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Notifier is the control-channel surface the state machine reports through.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) (messageID int, err error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// NotifyError escalates to the configured error chat, if any.
	NotifyError(ctx context.Context, text string)
}

// Texts resolves a localized control-channel message.
type Texts func(messageID string, data map[string]interface{}) string

// Messages the state machine emits; wired to the i18n catalog by main.
const (
	TextConnectRejected  = "connect_rejected"
	TextConnecting       = "connecting"
	TextQRCaption        = "qr_caption"
	TextAuthenticated    = "authenticated"
	TextReady            = "ready"
	TextAuthFailure      = "auth_failure"
	TextDisconnected     = "disconnected"
	TextAbnormalState    = "abnormal_state"
	TextInitializeFailed = "initialize_failed"
)

// StateMachine owns the lifecycle of the single WhatsApp client and mirrors
// it to a control chat. Events arrive on the client library's goroutines;
// everything behind mu.
type StateMachine struct {
	factory  ClientFactory
	notifier Notifier
	texts    Texts
	logger   *logrus.Logger

	// onMessage receives inbound messages while the session is READY.
	onMessage func(client Client, msg Message)

	mu             sync.Mutex
	state          State
	abnormalReason string
	client         Client
	controlChatID  int64
	qrPrompt       *models.QrPrompt
	attached       bool
}

func NewStateMachine(factory ClientFactory, notifier Notifier, texts Texts, logger *logrus.Logger) *StateMachine {
	return &StateMachine{
		factory:  factory,
		notifier: notifier,
		texts:    texts,
		logger:   logger,
		state:    StateUninitialized,
	}
}

// SetMessageHandler sets the sink for inbound messages. Must be called
// before the first Initialize.
func (m *StateMachine) SetMessageHandler(fn func(client Client, msg Message)) {
	m.onMessage = fn
}

// State returns the current state and, when ABNORMAL, its reason.
func (m *StateMachine) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.abnormalReason
}

// Client returns the current client instance, which may be nil.
func (m *StateMachine) Client() Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Initialize starts a fresh connection handshake reporting to controlChatID.
// Calls while a handshake or session is live (INITIALIZING, QR_RECEIVED,
// AUTHENTICATED, READY) are rejected with a notification and no side effect.
func (m *StateMachine) Initialize(ctx context.Context, controlChatID int64) error {
	m.mu.Lock()
	switch m.state {
	case StateInitializing, StateQRReceived, StateAuthenticated, StateReady:
		state := m.state
		m.mu.Unlock()
		m.notifier.SendMessage(ctx, controlChatID, m.texts(TextConnectRejected, map[string]interface{}{
			"State": state.String(),
		}))
		return fmt.Errorf("already %s", state)
	}

	old := m.client
	m.client = nil
	m.state = StateInitializing
	m.abnormalReason = ""
	m.attached = false
	m.controlChatID = controlChatID
	m.mu.Unlock()

	m.notifier.SendMessage(ctx, controlChatID, m.texts(TextConnecting, nil))

	// Best-effort teardown of the previous instance.
	if old != nil {
		if err := old.Destroy(ctx); err != nil {
			m.logger.WithError(err).Error("Failed to destroy previous client")
		}
	}

	client, err := m.factory(EventHandlers{
		OnQR:            m.handleQR,
		OnAuthenticated: m.handleAuthenticated,
		OnReady:         m.handleReady,
		OnAuthFailure:   m.handleAuthFailure,
		OnDisconnected:  m.handleDisconnected,
		OnAbnormal:      m.handleAbnormal,
		OnMessage:       m.handleMessage,
	})
	if err == nil {
		m.mu.Lock()
		m.client = client
		m.mu.Unlock()
		err = client.Connect(ctx)
	}

	if err != nil {
		// Do not leave the machine stuck in INITIALIZING.
		m.mu.Lock()
		m.state = StateUninitialized
		m.client = nil
		m.mu.Unlock()
		m.logger.WithError(err).Error("WhatsApp initialize failed")
		text := m.texts(TextInitializeFailed, map[string]interface{}{"Error": err.Error()})
		m.notifier.SendMessage(ctx, controlChatID, text)
		m.notifier.NotifyError(ctx, text)
		return err
	}

	return nil
}

// Shutdown tears the session down on process exit. Best-effort.
func (m *StateMachine) Shutdown(ctx context.Context) {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.state = StateUninitialized
	m.mu.Unlock()

	if client != nil {
		if err := client.Destroy(ctx); err != nil {
			m.logger.WithError(err).Error("Failed to destroy client on shutdown")
		}
	}
}

// handleQR may fire repeatedly while the code is unscanned. The previous
// pairing prompt in the control chat is retracted before each new one, so at
// most one is live at any time.
func (m *StateMachine) handleQR(code string) {
	ctx := context.Background()

	m.mu.Lock()
	m.state = StateQRReceived
	chatID := m.controlChatID
	m.mu.Unlock()

	m.retractQRPrompt(ctx)

	png, err := qrcode.Encode(code, qrcode.Medium, 512)
	if err != nil {
		m.logger.WithError(err).Error("Failed to render pairing code")
		return
	}

	messageID, err := m.notifier.SendPhoto(ctx, chatID, png, m.texts(TextQRCaption, nil))
	if err != nil {
		m.logger.WithError(err).Error("Failed to send pairing prompt")
		return
	}

	m.mu.Lock()
	m.qrPrompt = &models.QrPrompt{ChatID: chatID, MessageID: messageID}
	m.mu.Unlock()
	m.logger.Info("Pairing prompt sent")
}

func (m *StateMachine) handleAuthenticated() {
	ctx := context.Background()

	m.mu.Lock()
	m.state = StateAuthenticated
	chatID := m.controlChatID
	m.mu.Unlock()

	m.retractQRPrompt(ctx)
	m.logger.Info("WhatsApp authenticated")
	m.notifier.SendMessage(ctx, chatID, m.texts(TextAuthenticated, nil))
}

func (m *StateMachine) handleReady() {
	ctx := context.Background()

	m.mu.Lock()
	m.state = StateReady
	m.attached = true
	chatID := m.controlChatID
	m.mu.Unlock()

	m.logger.Info("WhatsApp client ready")
	text := m.texts(TextReady, nil)
	m.notifier.SendMessage(ctx, chatID, text)
	m.notifier.NotifyError(ctx, text)
}

func (m *StateMachine) handleAuthFailure(reason string) {
	ctx := context.Background()

	m.mu.Lock()
	m.state = StateAuthFailure
	m.attached = false
	chatID := m.controlChatID
	m.mu.Unlock()

	m.retractQRPrompt(ctx)
	m.logger.WithField("reason", reason).Error("WhatsApp auth failure")
	text := m.texts(TextAuthFailure, map[string]interface{}{"Reason": reason})
	m.notifier.SendMessage(ctx, chatID, text)
	m.notifier.NotifyError(ctx, text)
}

func (m *StateMachine) handleDisconnected(reason string) {
	ctx := context.Background()

	m.mu.Lock()
	m.state = StateDisconnected
	m.attached = false
	chatID := m.controlChatID
	m.mu.Unlock()

	m.retractQRPrompt(ctx)
	m.logger.WithField("reason", reason).Warn("WhatsApp disconnected")
	text := m.texts(TextDisconnected, map[string]interface{}{"Reason": reason})
	m.notifier.SendMessage(ctx, chatID, text)
	m.notifier.NotifyError(ctx, text)
}

// handleAbnormal enters the sticky ABNORMAL state; only a fresh Initialize
// leaves it.
func (m *StateMachine) handleAbnormal(reason string) {
	ctx := context.Background()

	m.mu.Lock()
	m.state = StateAbnormal
	m.abnormalReason = reason
	m.attached = false
	chatID := m.controlChatID
	m.mu.Unlock()

	m.logger.WithField("reason", reason).Error("WhatsApp abnormal state")
	text := m.texts(TextAbnormalState, map[string]interface{}{"Reason": reason})
	m.notifier.SendMessage(ctx, chatID, text)
	m.notifier.NotifyError(ctx, text)
}

// handleMessage forwards inbound traffic only while the session is READY.
func (m *StateMachine) handleMessage(msg Message) {
	m.mu.Lock()
	state := m.state
	attached := m.attached
	client := m.client
	m.mu.Unlock()

	if state != StateReady || !attached || m.onMessage == nil {
		m.logger.WithField("state", state.String()).Debug("Message ignored, session not ready")
		return
	}
	m.onMessage(client, msg)
}

// retractQRPrompt deletes the live pairing prompt, if any. Idempotent.
func (m *StateMachine) retractQRPrompt(ctx context.Context) {
	m.mu.Lock()
	prompt := m.qrPrompt
	m.qrPrompt = nil
	m.mu.Unlock()

	if prompt == nil {
		return
	}
	if err := m.notifier.DeleteMessage(ctx, prompt.ChatID, prompt.MessageID); err != nil {
		m.logger.WithError(err).Warn("Failed to delete pairing prompt")
	}
}
