package middleware

import (
	"sync"
	"time"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// FloodLimiter throttles message bursts per user. It sits in front of the
// persistent daily quota and only smooths short-term spam; allowance is not
// persisted across restarts.
type FloodLimiter interface {
	Allow(userID string) bool
	Reset(userID string)
}

// UserFloodLimiter implements per-user token-bucket flood limiting.
type UserFloodLimiter struct {
	enabled         bool
	limiters        map[string]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	cleanupInterval time.Duration
}

// NewFloodLimiter creates a new flood limiter from config.
func NewFloodLimiter(cfg *config.Config, logger *logrus.Logger) FloodLimiter {
	if !cfg.RateLimit.Flood.Enabled {
		return &UserFloodLimiter{enabled: false}
	}

	fl := &UserFloodLimiter{
		enabled:         true,
		limiters:        make(map[string]*rate.Limiter),
		rpm:             cfg.RateLimit.Flood.RequestsPerMinute,
		burst:           cfg.RateLimit.Flood.Burst,
		logger:          logger,
		cleanupInterval: 1 * time.Hour,
	}

	go fl.cleanup()

	return fl
}

// Allow checks if a user is allowed to make a request right now.
func (f *UserFloodLimiter) Allow(userID string) bool {
	if !f.enabled {
		return true
	}

	limiter := f.getLimiter(userID)
	allowed := limiter.Allow()

	if !allowed {
		f.logger.WithFields(logrus.Fields{
			"user_id": userID,
		}).Warn("Flood limit exceeded")
	}

	return allowed
}

// Reset drops the limiter state for a user.
func (f *UserFloodLimiter) Reset(userID string) {
	if !f.enabled {
		return
	}

	f.mu.Lock()
	delete(f.limiters, userID)
	f.mu.Unlock()
}

// getLimiter gets or creates a rate limiter for a user.
func (f *UserFloodLimiter) getLimiter(userID string) *rate.Limiter {
	f.mu.RLock()
	limiter, exists := f.limiters[userID]
	f.mu.RUnlock()

	if exists {
		return limiter
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := f.limiters[userID]; exists {
		return limiter
	}

	rps := float64(f.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), f.burst)
	f.limiters[userID] = limiter

	return limiter
}

// cleanup bounds the limiter map size over long uptimes.
func (f *UserFloodLimiter) cleanup() {
	ticker := time.NewTicker(f.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		f.mu.Lock()
		if len(f.limiters) > 10000 {
			f.logger.Warn("Flood limiter map size exceeded threshold, clearing")
			f.limiters = make(map[string]*rate.Limiter)
		}
		f.mu.Unlock()
	}
}
