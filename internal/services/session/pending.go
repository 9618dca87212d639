package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/sirupsen/logrus"
)

// PendingOutcome reports what a plain-text message did to a pending action.
type PendingOutcome int

const (
	// PendingIgnored: no pending action for the chat, or the sender is not
	// the requester. The message falls through to normal handling.
	PendingIgnored PendingOutcome = iota
	// PendingCancelled: the requester cancelled explicitly.
	PendingCancelled
	// PendingApplied: the password matched and the mutation succeeded.
	PendingApplied
	// PendingMutationFailed: the password matched but the mutation was
	// refused (already present, not found, admin removal).
	PendingMutationFailed
	// PendingWrongPassword: attempts remain.
	PendingWrongPassword
	// PendingExhausted: the last attempt was used up; the action is gone.
	PendingExhausted
)

// PendingResult carries the outcome plus the state a reply needs.
type PendingResult struct {
	Outcome           PendingOutcome
	Action            models.PendingAction
	AttemptsRemaining int
	MutationErr       error
}

const cancelCommand = "/cancel"

// PendingFlow is the two-step confirmation protocol guarding registry
// mutations. One pending action per chat; beginning a new one replaces any
// previous pending state.
type PendingFlow struct {
	mu          sync.Mutex
	pending     map[int64]*models.PendingAction
	registry    *Registry
	password    string
	maxAttempts int
	logger      *logrus.Logger
}

func NewPendingFlow(registry *Registry, password string, maxAttempts int, logger *logrus.Logger) *PendingFlow {
	return &PendingFlow{
		pending:     make(map[int64]*models.PendingAction),
		registry:    registry,
		password:    password,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Begin records a pending add/remove for the chat. Last writer wins: any
// previous pending action in the chat is discarded and the attempt budget
// starts fresh.
func (f *PendingFlow) Begin(chatID, requesterID int64, kind models.PendingKind, targetUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending[chatID] = &models.PendingAction{
		Kind:              kind,
		TargetUserID:      targetUserID,
		RequesterID:       requesterID,
		ChatID:            chatID,
		AttemptsRemaining: f.maxAttempts,
		CreatedAt:         time.Now(),
	}
}

// HasPending reports whether the chat has a live pending action.
func (f *PendingFlow) HasPending(chatID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[chatID]
	return ok
}

// HandleMessage matches a plain-text message against the chat's pending
// action. Messages from anyone but the requester are ignored so they fall
// through to normal handling.
func (f *PendingFlow) HandleMessage(ctx context.Context, chatID, senderID int64, text string) PendingResult {
	f.mu.Lock()
	action, ok := f.pending[chatID]
	if !ok || action.RequesterID != senderID {
		f.mu.Unlock()
		return PendingResult{Outcome: PendingIgnored}
	}

	if strings.EqualFold(strings.TrimSpace(text), cancelCommand) {
		delete(f.pending, chatID)
		f.mu.Unlock()
		return PendingResult{Outcome: PendingCancelled, Action: *action}
	}

	// Other commands pass through untouched; only plain text is a
	// password attempt.
	if strings.HasPrefix(text, "/") {
		f.mu.Unlock()
		return PendingResult{Outcome: PendingIgnored}
	}

	if text != f.password {
		action.AttemptsRemaining--
		if action.AttemptsRemaining <= 0 {
			delete(f.pending, chatID)
			f.mu.Unlock()
			f.logger.WithFields(logrus.Fields{
				"chat_id": chatID,
				"kind":    action.Kind,
				"target":  action.TargetUserID,
			}).Info("Pending action cancelled after attempt exhaustion")
			return PendingResult{Outcome: PendingExhausted, Action: *action}
		}
		remaining := action.AttemptsRemaining
		f.mu.Unlock()
		return PendingResult{Outcome: PendingWrongPassword, Action: *action, AttemptsRemaining: remaining}
	}

	// Password accepted; the pending entry is consumed regardless of the
	// mutation result.
	delete(f.pending, chatID)
	completed := *action
	f.mu.Unlock()

	var err error
	switch completed.Kind {
	case models.PendingAdd:
		err = f.registry.Add(ctx, completed.TargetUserID)
	case models.PendingRemove:
		err = f.registry.Remove(ctx, completed.TargetUserID)
	}

	if err != nil {
		return PendingResult{Outcome: PendingMutationFailed, Action: completed, MutationErr: err}
	}

	f.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"kind":    completed.Kind,
		"target":  completed.TargetUserID,
	}).Info("Authorized-user mutation applied")
	return PendingResult{Outcome: PendingApplied, Action: completed}
}
