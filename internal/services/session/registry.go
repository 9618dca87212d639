package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/Rozen29/WhaTel-AI/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// ErrAdminRemoval is returned when a removal targets an admin entry.
var ErrAdminRemoval = fmt.Errorf("cannot remove an admin user")

// ErrNotFound is returned when a removal targets an unknown user.
var ErrNotFound = fmt.Errorf("user not found")

// ErrAlreadyPresent is returned when an addition targets a known user.
var ErrAlreadyPresent = fmt.Errorf("user already authorized")

// Registry owns the admin/user allow lists. The set is loaded once at
// construction (persisting a default when absent) and kept in memory;
// every mutation writes the whole document back.
type Registry struct {
	mu      sync.RWMutex
	set     *models.AuthorizedUserSet
	storage *storage.Manager
	logger  *logrus.Logger
}

// NewRegistry loads the authorized-user set, seeding and persisting an empty
// default when no document exists.
func NewRegistry(ctx context.Context, storage *storage.Manager, logger *logrus.Logger) (*Registry, error) {
	set, err := storage.GetAuthorizedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load authorized users: %w", err)
	}
	if set == nil {
		set = &models.AuthorizedUserSet{Admin: []string{}, Users: []string{}}
		if err := storage.SaveAuthorizedUsers(ctx, set); err != nil {
			return nil, fmt.Errorf("failed to persist default authorized users: %w", err)
		}
		logger.Info("Created default authorized-user set")
	}
	return &Registry{set: set, storage: storage, logger: logger}, nil
}

// IsAdmin reports whether the WhatsApp user is an admin.
func (r *Registry) IsAdmin(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.IsAdmin(userID)
}

// IsAuthorized reports whether the WhatsApp user may talk to the bot.
func (r *Registry) IsAuthorized(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.IsAuthorized(userID)
}

// Snapshot returns a copy of the current allow lists.
func (r *Registry) Snapshot() models.AuthorizedUserSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := models.AuthorizedUserSet{
		Admin: append([]string(nil), r.set.Admin...),
		Users: append([]string(nil), r.set.Users...),
	}
	return out
}

// Add inserts userID into the users list unless it is already present in
// either list, then persists the set.
func (r *Registry) Add(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.set.IsAuthorized(userID) {
		return ErrAlreadyPresent
	}
	r.set.Users = append(r.set.Users, userID)
	return r.persist(ctx)
}

// Remove deletes userID from the users list. Admin entries are refused.
func (r *Registry) Remove(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.set.IsAdmin(userID) {
		return ErrAdminRemoval
	}

	for i, u := range r.set.Users {
		if u == userID {
			r.set.Users = append(r.set.Users[:i], r.set.Users[i+1:]...)
			return r.persist(ctx)
		}
	}
	return ErrNotFound
}

func (r *Registry) persist(ctx context.Context) error {
	if err := r.storage.SaveAuthorizedUsers(ctx, r.set); err != nil {
		r.logger.WithError(err).Error("Failed to persist authorized users")
		return err
	}
	return nil
}

var nonDigits = regexp.MustCompile(`\D`)

// SanitizeWhatsAppID converts a phone-number-ish input to the canonical
// <digits>@c.us form used for WhatsApp user ids. Inputs already in that
// form pass through unchanged.
func SanitizeWhatsAppID(input string) string {
	if strings.HasSuffix(input, "@c.us") {
		return input
	}
	return nonDigits.ReplaceAllString(input, "") + "@c.us"
}
