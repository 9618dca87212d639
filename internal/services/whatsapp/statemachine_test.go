package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeClient records lifecycle calls and lets tests fire events through the
// handlers captured at construction.
type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	destroyed  bool
	replies    []string
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	return nil
}

func (c *fakeClient) SendReply(ctx context.Context, msg Message, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, text)
	return nil
}

func (c *fakeClient) DownloadMedia(ctx context.Context, msg Message) ([]byte, error) {
	return nil, errors.New("no media")
}

// fakeNotifier records control-chat traffic.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	photos   int
	deleted  []int
	errors   []string
	nextID   int
}

func (n *fakeNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func (n *fakeNotifier) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.photos++
	n.nextID++
	return n.nextID, nil
}

func (n *fakeNotifier) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, messageID)
	return nil
}

func (n *fakeNotifier) NotifyError(ctx context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, text)
}

func plainTexts(messageID string, data map[string]interface{}) string {
	return fmt.Sprintf("%s %v", messageID, data)
}

// harness wires a state machine against fakes and exposes the captured
// event handlers.
type harness struct {
	sm       *StateMachine
	notifier *fakeNotifier
	client   *fakeClient
	handlers EventHandlers
}

func newHarness(t *testing.T, connectErr error) *harness {
	t.Helper()
	h := &harness{notifier: &fakeNotifier{}}
	factory := func(handlers EventHandlers) (Client, error) {
		h.client = &fakeClient{connectErr: connectErr}
		h.handlers = handlers
		return h.client, nil
	}
	h.sm = NewStateMachine(factory, h.notifier, plainTexts, newTestLogger())
	return h
}

func TestInitializeMovesToInitializing(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sm.Initialize(context.Background(), 100))
	state, _ := h.sm.State()
	assert.Equal(t, StateInitializing, state)
	assert.True(t, h.client.connected)
}

func TestInitializeRejectedWhileLive(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sm.Initialize(context.Background(), 100))

	for _, setup := range []func(){
		func() {},                                  // INITIALIZING
		func() { h.handlers.OnQR("code") },         // QR_RECEIVED
		func() { h.handlers.OnAuthenticated() },    // AUTHENTICATED
		func() { h.handlers.OnReady() },            // READY
	} {
		setup()
		before, _ := h.sm.State()
		err := h.sm.Initialize(context.Background(), 100)
		require.Error(t, err)
		after, _ := h.sm.State()
		assert.Equal(t, before, after, "rejected initialize must not change state")
	}
}

func TestInitializeAllowedAfterDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sm.Initialize(context.Background(), 100))
	h.handlers.OnReady()
	h.handlers.OnDisconnected("stream closed")

	first := h.client
	require.NoError(t, h.sm.Initialize(context.Background(), 100))
	assert.True(t, first.destroyed, "previous client must be torn down")
	state, _ := h.sm.State()
	assert.Equal(t, StateInitializing, state)
}

func TestInitializeConnectFailureRevertsState(t *testing.T) {
	h := newHarness(t, errors.New("dial failed"))

	err := h.sm.Initialize(context.Background(), 100)
	require.Error(t, err)

	state, _ := h.sm.State()
	assert.Equal(t, StateUninitialized, state)
	assert.NotEmpty(t, h.notifier.errors, "failure escalates to the error chat")

	// The machine is immediately ready for another attempt.
	h2 := newHarness(t, nil)
	require.NoError(t, h2.sm.Initialize(context.Background(), 100))
}

func TestQRPromptRetraction(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sm.Initialize(context.Background(), 100))

	h.handlers.OnQR("code-1")
	assert.Equal(t, 1, h.notifier.photos)
	assert.Empty(t, h.notifier.deleted)

	// A refreshed code retracts the stale prompt first.
	h.handlers.OnQR("code-2")
	assert.Equal(t, 2, h.notifier.photos)
	assert.Equal(t, []int{1}, h.notifier.deleted)

	// Authentication retracts the live prompt.
	h.handlers.OnAuthenticated()
	assert.Equal(t, []int{1, 2}, h.notifier.deleted)

	// No prompt is live anymore; nothing further to delete.
	h.handlers.OnDisconnected("bye")
	assert.Equal(t, []int{1, 2}, h.notifier.deleted)
}

func TestMessageForwardingOnlyWhenReady(t *testing.T) {
	h := newHarness(t, nil)
	var received []Message
	h.sm.SetMessageHandler(func(client Client, msg Message) {
		received = append(received, msg)
	})
	require.NoError(t, h.sm.Initialize(context.Background(), 100))

	h.handlers.OnMessage(Message{Text: "too early"})
	assert.Empty(t, received)

	h.handlers.OnReady()
	h.handlers.OnMessage(Message{Text: "hello"})
	require.Len(t, received, 1)
	assert.Equal(t, "hello", received[0].Text)

	h.handlers.OnDisconnected("gone")
	h.handlers.OnMessage(Message{Text: "too late"})
	assert.Len(t, received, 1)
}

func TestAbnormalStateIsSticky(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sm.Initialize(context.Background(), 100))
	h.handlers.OnReady()

	h.handlers.OnAbnormal("session taken over by another connection")
	state, reason := h.sm.State()
	assert.Equal(t, StateAbnormal, state)
	assert.Equal(t, "session taken over by another connection", reason)
	assert.NotEmpty(t, h.notifier.errors)

	// Only a fresh initialize leaves ABNORMAL.
	require.NoError(t, h.sm.Initialize(context.Background(), 100))
	state, reason = h.sm.State()
	assert.Equal(t, StateInitializing, state)
	assert.Empty(t, reason)
}

func TestShutdownDestroysClient(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sm.Initialize(context.Background(), 100))
	h.handlers.OnReady()

	h.sm.Shutdown(context.Background())
	assert.True(t, h.client.destroyed)
	state, _ := h.sm.State()
	assert.Equal(t, StateUninitialized, state)
}
