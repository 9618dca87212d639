package session

import (
	"context"
	"testing"

	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "hunter2"

func TestPendingFlowApply(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, []string{"999@c.us"}, nil)
	flow := NewPendingFlow(registry, testPassword, 3, newTestLogger())

	flow.Begin(10, 7, models.PendingAdd, "123@c.us")
	require.True(t, flow.HasPending(10))

	result := flow.HandleMessage(ctx, 10, 7, testPassword)
	assert.Equal(t, PendingApplied, result.Outcome)
	assert.Equal(t, "123@c.us", result.Action.TargetUserID)
	assert.True(t, registry.IsAuthorized("123@c.us"))
	assert.False(t, flow.HasPending(10))
}

func TestPendingFlowWrongPasswordThenSuccess(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, nil, nil)
	flow := NewPendingFlow(registry, testPassword, 3, newTestLogger())

	flow.Begin(10, 7, models.PendingAdd, "123@c.us")

	result := flow.HandleMessage(ctx, 10, 7, "wrong")
	assert.Equal(t, PendingWrongPassword, result.Outcome)
	assert.Equal(t, 2, result.AttemptsRemaining)

	result = flow.HandleMessage(ctx, 10, 7, testPassword)
	assert.Equal(t, PendingApplied, result.Outcome)
	assert.True(t, registry.IsAuthorized("123@c.us"))
}

func TestPendingFlowExhaustion(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, nil, nil)
	flow := NewPendingFlow(registry, testPassword, 3, newTestLogger())

	flow.Begin(10, 7, models.PendingAdd, "123@c.us")

	assert.Equal(t, PendingWrongPassword, flow.HandleMessage(ctx, 10, 7, "a").Outcome)
	assert.Equal(t, PendingWrongPassword, flow.HandleMessage(ctx, 10, 7, "b").Outcome)
	assert.Equal(t, PendingExhausted, flow.HandleMessage(ctx, 10, 7, "c").Outcome)

	// The action is gone and no mutation happened.
	assert.False(t, flow.HasPending(10))
	assert.False(t, registry.IsAuthorized("123@c.us"))

	// Even the correct password does nothing now.
	assert.Equal(t, PendingIgnored, flow.HandleMessage(ctx, 10, 7, testPassword).Outcome)
}

func TestPendingFlowCancel(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, nil, nil)
	flow := NewPendingFlow(registry, testPassword, 3, newTestLogger())

	flow.Begin(10, 7, models.PendingRemove, "123@c.us")

	result := flow.HandleMessage(ctx, 10, 7, "/CANCEL")
	assert.Equal(t, PendingCancelled, result.Outcome)
	assert.False(t, flow.HasPending(10))
}

func TestPendingFlowIgnoresOtherSendersAndCommands(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, nil, nil)
	flow := NewPendingFlow(registry, testPassword, 3, newTestLogger())

	flow.Begin(10, 7, models.PendingAdd, "123@c.us")

	// Another user in the chat cannot touch the pending action.
	assert.Equal(t, PendingIgnored, flow.HandleMessage(ctx, 10, 8, testPassword).Outcome)
	assert.False(t, registry.IsAuthorized("123@c.us"))

	// Commands other than /cancel pass through without burning attempts.
	assert.Equal(t, PendingIgnored, flow.HandleMessage(ctx, 10, 7, "/status").Outcome)
	require.True(t, flow.HasPending(10))

	result := flow.HandleMessage(ctx, 10, 7, "wrong")
	assert.Equal(t, 2, result.AttemptsRemaining)
}

func TestPendingFlowMutationFailures(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, []string{"999@c.us"}, []string{"123@c.us"})
	flow := NewPendingFlow(registry, testPassword, 3, newTestLogger())

	t.Run("adding an existing user", func(t *testing.T) {
		flow.Begin(10, 7, models.PendingAdd, "123@c.us")
		result := flow.HandleMessage(ctx, 10, 7, testPassword)
		assert.Equal(t, PendingMutationFailed, result.Outcome)
		assert.ErrorIs(t, result.MutationErr, ErrAlreadyPresent)
	})

	t.Run("removing an unknown user", func(t *testing.T) {
		flow.Begin(10, 7, models.PendingRemove, "555@c.us")
		result := flow.HandleMessage(ctx, 10, 7, testPassword)
		assert.Equal(t, PendingMutationFailed, result.Outcome)
		assert.ErrorIs(t, result.MutationErr, ErrNotFound)
	})

	t.Run("removing an admin", func(t *testing.T) {
		flow.Begin(10, 7, models.PendingRemove, "999@c.us")
		result := flow.HandleMessage(ctx, 10, 7, testPassword)
		assert.Equal(t, PendingMutationFailed, result.Outcome)
		assert.ErrorIs(t, result.MutationErr, ErrAdminRemoval)
		assert.True(t, registry.IsAdmin("999@c.us"))
	})
}

func TestPendingFlowLastWriterWins(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, nil, nil)
	flow := NewPendingFlow(registry, testPassword, 3, newTestLogger())

	flow.Begin(10, 7, models.PendingAdd, "111@c.us")
	require.Equal(t, PendingWrongPassword, flow.HandleMessage(ctx, 10, 7, "x").Outcome)

	// A new request replaces the old one with a fresh attempt budget.
	flow.Begin(10, 7, models.PendingAdd, "222@c.us")
	result := flow.HandleMessage(ctx, 10, 7, "y")
	assert.Equal(t, PendingWrongPassword, result.Outcome)
	assert.Equal(t, 2, result.AttemptsRemaining)

	result = flow.HandleMessage(ctx, 10, 7, testPassword)
	require.Equal(t, PendingApplied, result.Outcome)
	assert.Equal(t, "222@c.us", result.Action.TargetUserID)
	assert.False(t, registry.IsAuthorized("111@c.us"))
	assert.True(t, registry.IsAuthorized("222@c.us"))
}
