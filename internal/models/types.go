package models

import (
	"time"
)

// Platform identifies the chat network a conversation belongs to.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
)

// Turn represents one entry in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is the ordered dialogue for one (platform, user) key.
// Invariant: the first turn is always a system turn.
type Conversation struct {
	Platform Platform
	UserID   string
	Turns    []Turn
}

// LastTurn returns the most recent turn, or nil for an empty conversation.
func (c *Conversation) LastTurn() *Turn {
	if len(c.Turns) == 0 {
		return nil
	}
	return &c.Turns[len(c.Turns)-1]
}

// RateLimitRecord tracks one non-admin user's daily usage window.
type RateLimitRecord struct {
	MessageCount  int       `json:"messageCount"`
	LastResetDate time.Time `json:"lastResetDate"`
}

// AuthorizedUserSet holds the admin and regular-user allow lists.
// Admin membership implies rate-limit exemption.
type AuthorizedUserSet struct {
	Admin []string `json:"admin"`
	Users []string `json:"users"`
}

// IsAdmin reports whether id is on the admin list.
func (s *AuthorizedUserSet) IsAdmin(id string) bool {
	return contains(s.Admin, id)
}

// IsAuthorized reports whether id is on either list.
func (s *AuthorizedUserSet) IsAuthorized(id string) bool {
	return contains(s.Admin, id) || contains(s.Users, id)
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// PendingKind discriminates pending administrative mutations.
type PendingKind string

const (
	PendingAdd    PendingKind = "add"
	PendingRemove PendingKind = "remove"
)

// PendingAction is an in-progress password-confirmed registry mutation.
// At most one exists per control chat at any time.
type PendingAction struct {
	Kind              PendingKind
	TargetUserID      string
	RequesterID       int64
	ChatID            int64
	AttemptsRemaining int
	CreatedAt         time.Time
}

// QrPrompt identifies the most recently sent pairing-code message in a
// control chat so it can be retracted when superseded or resolved.
type QrPrompt struct {
	ChatID    int64
	MessageID int
}

// LastLogin is the persisted marker for the once-per-24h startup gate.
type LastLogin struct {
	LastLogin int64 `json:"lastLogin"` // epoch millis
}
