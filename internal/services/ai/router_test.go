package ai

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/Rozen29/WhaTel-AI/internal/middleware"
	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// stubProvider scripts text responses for failover tests.
type stubProvider struct {
	name    string
	answers []func() (string, error)
	calls   int
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return true }

func (s *stubProvider) AskText(ctx context.Context, turns []models.Turn) (string, error) {
	idx := s.calls
	if idx >= len(s.answers) {
		idx = len(s.answers) - 1
	}
	s.calls++
	return s.answers[idx]()
}

func (s *stubProvider) AskVision(ctx context.Context, prompt string, imageJPEG []byte) (string, error) {
	return s.AskText(ctx, nil)
}

func (s *stubProvider) TextModels() []Model              { return []Model{{ID: s.name, Name: s.name}} }
func (s *stubProvider) VisionModels() []Model            { return nil }
func (s *stubProvider) CurrentTextModel() Model          { return Model{ID: s.name, Name: s.name} }
func (s *stubProvider) CurrentVisionModel() (Model, bool) { return Model{}, false }
func (s *stubProvider) SelectTextModel(idx int) error    { return nil }
func (s *stubProvider) SelectVisionModel(idx int) error  { return nil }

func succeed(text string) func() (string, error) {
	return func() (string, error) { return text, nil }
}

func fail(msg string) func() (string, error) {
	return func() (string, error) { return "", errors.New(msg) }
}

func newTestRouter(providers ...Provider) *Router {
	return &Router{providers: providers, logger: newTestLogger(), metrics: middleware.NewMetrics()}
}

func TestRouterSelectProvider(t *testing.T) {
	router := newTestRouter(
		&stubProvider{name: "a", answers: []func() (string, error){succeed("from a")}},
		&stubProvider{name: "b", answers: []func() (string, error){succeed("from b")}},
	)

	require.NoError(t, router.SelectProvider(1))
	current, idx := router.Current()
	assert.Equal(t, 1, idx)
	assert.Equal(t, "b", current.Name())

	assert.Error(t, router.SelectProvider(2))
	assert.Error(t, router.SelectProvider(-1))
}

func TestFailoverAdvancesToNextProvider(t *testing.T) {
	a := &stubProvider{name: "a", answers: []func() (string, error){fail("a down")}}
	b := &stubProvider{name: "b", answers: []func() (string, error){succeed("from b")}}
	router := newTestRouter(a, b)

	text, err := router.AskWithFailover(context.Background(), Request{Turns: []models.Turn{{Role: models.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "from b", text)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	// The active index goes back to where it was before the call.
	_, idx := router.Current()
	assert.Equal(t, 0, idx)
}

func TestFailoverAllProvidersDown(t *testing.T) {
	a := &stubProvider{name: "a", answers: []func() (string, error){fail("a down")}}
	b := &stubProvider{name: "b", answers: []func() (string, error){fail("b down")}}
	router := newTestRouter(a, b)

	_, err := router.AskWithFailover(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersUnavailable)
	assert.Contains(t, err.Error(), "b down")

	// Two providers, at most 2x2 attempts, split evenly.
	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 2, b.calls)

	_, idx := router.Current()
	assert.Equal(t, 0, idx)
}

func TestFailoverSecondPassSucceeds(t *testing.T) {
	// Both fail on the first pass; a recovers on the second.
	a := &stubProvider{name: "a", answers: []func() (string, error){fail("flaky"), succeed("recovered")}}
	b := &stubProvider{name: "b", answers: []func() (string, error){fail("b down")}}
	router := newTestRouter(a, b)

	text, err := router.AskWithFailover(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
}

func TestFailoverStartsFromActiveProvider(t *testing.T) {
	a := &stubProvider{name: "a", answers: []func() (string, error){succeed("from a")}}
	b := &stubProvider{name: "b", answers: []func() (string, error){succeed("from b")}}
	router := newTestRouter(a, b)
	require.NoError(t, router.SelectProvider(1))

	text, err := router.AskWithFailover(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "from b", text)
	assert.Zero(t, a.calls)

	_, idx := router.Current()
	assert.Equal(t, 1, idx)
}

func TestFailoverHonorsContextCancellation(t *testing.T) {
	a := &stubProvider{name: "a", answers: []func() (string, error){succeed("unused")}}
	router := newTestRouter(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := router.AskWithFailover(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.calls)
}

func TestNewRouterRejectsUnknownProvider(t *testing.T) {
	_, err := NewRouter([]config.ProviderConfig{{Name: "Mystery"}}, NewSettings(), newTestLogger())
	assert.Error(t, err)

	_, err = NewRouter(nil, NewSettings(), newTestLogger())
	assert.Error(t, err)
}

func TestNewRouterBuildsConfiguredProviders(t *testing.T) {
	router, err := NewRouter([]config.ProviderConfig{
		{Name: "Groq", APIKey: "k1", TextModels: []string{"llama3-70b-8192"}, VisionModels: []string{"llava-v1.5-7b"}},
		{Name: "Gemini", APIKey: "k2", TextModels: []string{"gemini-1.5-pro-latest"}},
	}, NewSettings(), newTestLogger())
	require.NoError(t, err)

	providers := router.Providers()
	require.Len(t, providers, 2)
	assert.Equal(t, "Groq", providers[0].Name())
	assert.Equal(t, "Gemini", providers[1].Name())
	assert.True(t, providers[0].Available())

	current, idx := router.Current()
	assert.Zero(t, idx)
	assert.Equal(t, "llama3-70b-8192", current.CurrentTextModel().Name)
}
