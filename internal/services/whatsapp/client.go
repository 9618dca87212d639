package whatsapp

import (
	"context"
)

// Message is an inbound WhatsApp message as seen through the narrow client
// interface. Raw carries the library-specific handle needed for replies and
// media downloads; the rest of the system never inspects it.
type Message struct {
	ID       string
	SenderID string
	Text     string
	IsGroup  bool
	HasMedia bool
	MimeType string
	Raw      interface{}
}

// Client is the narrow surface this system consumes from the underlying
// WhatsApp library. Implementations are assumed correct; the state machine
// only sequences their lifecycle.
type Client interface {
	// Connect starts the session. Pairing and readiness are reported
	// through the event handlers registered at construction.
	Connect(ctx context.Context) error
	// Destroy tears the session down. Best-effort; errors are logged by
	// callers, not acted on.
	Destroy(ctx context.Context) error
	SendReply(ctx context.Context, msg Message, text string) error
	DownloadMedia(ctx context.Context, msg Message) ([]byte, error)
}

// EventHandlers are registered on a client before Connect so no early event
// is lost.
type EventHandlers struct {
	OnQR            func(code string)
	OnAuthenticated func()
	OnReady         func()
	OnAuthFailure   func(reason string)
	OnDisconnected  func(reason string)
	// OnAbnormal reports blocking conditions (conflict, ban, unsupported
	// version) that require manual re-initialization.
	OnAbnormal func(reason string)
	OnMessage  func(msg Message)
}

// ClientFactory constructs a fresh client with the given handlers wired.
// The state machine calls it on every initialize.
type ClientFactory func(handlers EventHandlers) (Client, error)
