package session

import (
	"context"
	"time"

	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/Rozen29/WhaTel-AI/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// RateLimiter enforces a per-user daily message quota. The window is the
// current UTC calendar day. Admins are exempt and never mutate records.
//
// The check-then-increment is not atomic against concurrent messages from
// the same user; two overlapping handlers may both pass the check. Accepted
// trade-off for a single-process bot.
type RateLimiter struct {
	storage    *storage.Manager
	registry   *Registry
	dailyLimit int
	logger     *logrus.Logger
	now        func() time.Time
}

func NewRateLimiter(storage *storage.Manager, registry *Registry, dailyLimit int, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		storage:    storage,
		registry:   registry,
		dailyLimit: dailyLimit,
		logger:     logger,
		now:        time.Now,
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// CheckAndConsume charges one message against the user's daily quota.
// Returns true when the message is allowed.
func (l *RateLimiter) CheckAndConsume(ctx context.Context, userID string) bool {
	if l.registry.IsAdmin(userID) {
		return true
	}

	now := l.now()
	rec, err := l.storage.GetRateLimit(ctx, userID)
	if err != nil {
		l.logger.WithError(err).WithField("user_id", userID).Error("Failed to load rate-limit record, allowing")
		rec = nil
	}

	if rec == nil || !sameDay(rec.LastResetDate, now) {
		rec = &models.RateLimitRecord{MessageCount: 0, LastResetDate: now}
	}

	if rec.MessageCount >= l.dailyLimit {
		if err := l.storage.SaveRateLimit(ctx, userID, rec); err != nil {
			l.logger.WithError(err).Warn("Failed to persist rate-limit record")
		}
		return false
	}

	rec.MessageCount++
	if err := l.storage.SaveRateLimit(ctx, userID, rec); err != nil {
		l.logger.WithError(err).Warn("Failed to persist rate-limit record")
	}
	return true
}

// Reset zeroes the user's counter and refreshes the window date, creating a
// record if none existed. Admins are exempt; the bool result reports whether
// a reset actually happened.
func (l *RateLimiter) Reset(ctx context.Context, userID string) (bool, error) {
	if l.registry.IsAdmin(userID) {
		return false, nil
	}

	rec := &models.RateLimitRecord{MessageCount: 0, LastResetDate: l.now()}
	if err := l.storage.SaveRateLimit(ctx, userID, rec); err != nil {
		return false, err
	}
	return true, nil
}
