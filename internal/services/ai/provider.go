package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/google/uuid"
)

// Sentinel errors the router and dispatcher branch on. Transport errors are
// wrapped with %w by the providers so callers can still unwrap them.
var (
	// ErrNoCredential: the provider has no API key; no network call is made.
	ErrNoCredential = errors.New("api key not configured")
	// ErrEmptyResponse: the provider answered but produced no usable text.
	ErrEmptyResponse = errors.New("no valid response from provider")
	// ErrNoVisionModel: vision was requested from a text-only provider.
	ErrNoVisionModel = errors.New("provider has no vision models")
	// ErrAllProvidersUnavailable: every failover attempt failed.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")
)

// ContentBlockedError reports a provider-side refusal, distinct from a
// transport failure or an empty response.
type ContentBlockedError struct {
	Provider string
	Reason   string
}

func (e *ContentBlockedError) Error() string {
	return fmt.Sprintf("blocked by %s: %s", e.Provider, e.Reason)
}

// Model is one selectable model of a provider.
type Model struct {
	ID   string
	Name string
}

func newModels(names []string) []Model {
	out := make([]Model, 0, len(names))
	for _, n := range names {
		out = append(out, Model{ID: uuid.NewString(), Name: n})
	}
	return out
}

// Provider is one AI backend with independent text and vision model lists.
// Adding a backend means adding an implementation, not more string branches.
type Provider interface {
	Name() string
	// Available reports whether a credential is configured.
	Available() bool

	// AskText sends the full conversation (system + history + new user
	// turn) translated to the provider's wire format.
	AskText(ctx context.Context, turns []models.Turn) (string, error)
	// AskVision sends a single-turn multimodal request, independent of
	// stored history.
	AskVision(ctx context.Context, prompt string, imageJPEG []byte) (string, error)

	TextModels() []Model
	VisionModels() []Model
	CurrentTextModel() Model
	CurrentVisionModel() (Model, bool)
	SelectTextModel(idx int) error
	SelectVisionModel(idx int) error
}

// Request is one routed ask. A non-nil Image selects vision mode, which
// ignores Turns and uses Prompt only.
type Request struct {
	Turns  []models.Turn
	Prompt string
	Image  []byte
}

// Vision reports whether the request carries an image.
func (r *Request) Vision() bool {
	return len(r.Image) > 0
}
