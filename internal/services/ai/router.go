package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/Rozen29/WhaTel-AI/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Router holds the ordered provider list and routes requests to the active
// one, failing over circularly when it errors.
type Router struct {
	providers []Provider
	logger    *logrus.Logger
	metrics   *middleware.Metrics

	mu      sync.Mutex
	current int
}

// NewRouter builds providers from config in file order. Unrecognized names
// are rejected rather than silently skipped.
func NewRouter(cfgs []config.ProviderConfig, settings *Settings, logger *logrus.Logger) (*Router, error) {
	providers := make([]Provider, 0, len(cfgs))
	for _, cfg := range cfgs {
		switch strings.ToLower(cfg.Name) {
		case "groq":
			providers = append(providers, NewGroqProvider(cfg, settings, logger))
		case "gemini":
			providers = append(providers, NewGeminiProvider(cfg, settings, logger))
		default:
			return nil, fmt.Errorf("unknown provider: %s", cfg.Name)
		}
		logger.WithFields(logrus.Fields{
			"provider":       cfg.Name,
			"text_models":    len(cfg.TextModels),
			"vision_models":  len(cfg.VisionModels),
			"credential_set": cfg.APIKey != "",
		}).Info("Provider registered")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return &Router{providers: providers, logger: logger, metrics: middleware.NewMetrics()}, nil
}

// Providers returns the ordered provider list.
func (r *Router) Providers() []Provider {
	return r.providers
}

// Current returns the active provider and its index.
func (r *Router) Current() (Provider, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[r.current], r.current
}

// SelectProvider switches the active provider. Bounds-checked; no other
// concurrency protection, admin traffic is sequential.
func (r *Router) SelectProvider(idx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.providers) {
		return fmt.Errorf("provider index out of range: %d (0-%d)", idx, len(r.providers)-1)
	}
	r.current = idx
	return nil
}

func (r *Router) advance() {
	r.mu.Lock()
	r.current = (r.current + 1) % len(r.providers)
	r.mu.Unlock()
}

func (r *Router) restore(idx int) {
	r.mu.Lock()
	r.current = idx
	r.mu.Unlock()
}

// Ask routes the request to the active provider, no failover.
func (r *Router) Ask(ctx context.Context, req Request) (string, error) {
	provider, _ := r.Current()
	return r.ask(ctx, provider, req)
}

func (r *Router) ask(ctx context.Context, provider Provider, req Request) (string, error) {
	start := time.Now()
	var text string
	var err error
	if req.Vision() {
		text, err = provider.AskVision(ctx, req.Prompt, req.Image)
	} else {
		text, err = provider.AskText(ctx, req.Turns)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordProviderRequest(provider.Name(), status, time.Since(start))
	return text, err
}

// AskWithFailover tries the active provider and, on any failure, advances
// circularly through the list for up to 2×len(providers) attempts. On total
// failure the original active index is restored and
// ErrAllProvidersUnavailable is returned wrapping the last error.
func (r *Router) AskWithFailover(ctx context.Context, req Request) (string, error) {
	_, original := r.Current()
	maxAttempts := 2 * len(r.providers)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			r.restore(original)
			return "", err
		}

		provider, idx := r.Current()
		text, err := r.ask(ctx, provider, req)
		if err == nil {
			r.restore(original)
			return text, nil
		}

		lastErr = err
		r.logger.WithError(err).WithFields(logrus.Fields{
			"provider": provider.Name(),
			"index":    idx,
			"attempt":  attempt,
		}).Warn("Provider request failed, failing over")
		r.metrics.RecordFailover()
		r.advance()
	}

	r.restore(original)
	return "", fmt.Errorf("%w: %v", ErrAllProvidersUnavailable, lastErr)
}
