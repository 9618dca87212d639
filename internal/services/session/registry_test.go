package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMembership(t *testing.T) {
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, []string{"999@c.us"}, []string{"123@c.us"})

	assert.True(t, registry.IsAdmin("999@c.us"))
	assert.False(t, registry.IsAdmin("123@c.us"))

	// Admins are implicitly authorized.
	assert.True(t, registry.IsAuthorized("999@c.us"))
	assert.True(t, registry.IsAuthorized("123@c.us"))
	assert.False(t, registry.IsAuthorized("555@c.us"))
}

func TestRegistryAddRemovePersist(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, []string{"999@c.us"}, nil)

	require.NoError(t, registry.Add(ctx, "123@c.us"))
	assert.ErrorIs(t, registry.Add(ctx, "123@c.us"), ErrAlreadyPresent)
	assert.ErrorIs(t, registry.Add(ctx, "999@c.us"), ErrAlreadyPresent)

	// A registry built from the same storage sees the mutation.
	reloaded, err := NewRegistry(ctx, manager, newTestLogger())
	require.NoError(t, err)
	assert.True(t, reloaded.IsAuthorized("123@c.us"))

	require.NoError(t, registry.Remove(ctx, "123@c.us"))
	assert.ErrorIs(t, registry.Remove(ctx, "123@c.us"), ErrNotFound)
	assert.ErrorIs(t, registry.Remove(ctx, "999@c.us"), ErrAdminRemoval)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, []string{"999@c.us"}, []string{"123@c.us"})

	snap := registry.Snapshot()
	snap.Users[0] = "tampered"
	assert.True(t, registry.IsAuthorized("123@c.us"))
}

func TestRegistryDefaultsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	registry, err := NewRegistry(ctx, manager, newTestLogger())
	require.NoError(t, err)
	assert.False(t, registry.IsAuthorized("123@c.us"))

	// The empty default is persisted on first construction.
	set, err := manager.GetAuthorizedUsers(ctx)
	require.NoError(t, err)
	require.NotNil(t, set)
}

func TestSanitizeWhatsAppID(t *testing.T) {
	cases := map[string]string{
		"+62 812-3456-7890": "6281234567890@c.us",
		"628123456789":      "628123456789@c.us",
		"(62) 81 234":       "6281234@c.us",
	}
	for input, want := range cases {
		assert.Equal(t, want, SanitizeWhatsAppID(input), "input %q", input)
	}
}
