package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterDailyQuota(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, []string{"999@c.us"}, []string{"123@c.us"})
	limiter := NewRateLimiter(manager, registry, 20, newTestLogger())

	for i := 0; i < 20; i++ {
		require.True(t, limiter.CheckAndConsume(ctx, "123@c.us"), "message %d should be allowed", i+1)
	}
	assert.False(t, limiter.CheckAndConsume(ctx, "123@c.us"), "21st message should be refused")
	assert.False(t, limiter.CheckAndConsume(ctx, "123@c.us"), "refusal is stable")
}

func TestRateLimiterResetsOnNewDay(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, nil, []string{"123@c.us"})
	limiter := NewRateLimiter(manager, registry, 2, newTestLogger())

	day1 := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)
	limiter.now = func() time.Time { return day1 }

	require.True(t, limiter.CheckAndConsume(ctx, "123@c.us"))
	require.True(t, limiter.CheckAndConsume(ctx, "123@c.us"))
	require.False(t, limiter.CheckAndConsume(ctx, "123@c.us"))

	// Two minutes later it is a fresh UTC day and the counter restarts.
	limiter.now = func() time.Time { return day1.Add(2 * time.Minute) }
	assert.True(t, limiter.CheckAndConsume(ctx, "123@c.us"))
}

func TestRateLimiterAdminExempt(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, []string{"999@c.us"}, nil)
	limiter := NewRateLimiter(manager, registry, 1, newTestLogger())

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.CheckAndConsume(ctx, "999@c.us"))
	}

	// Exemption leaves no record behind.
	rec, err := manager.GetRateLimit(ctx, "999@c.us")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRateLimiterReset(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	registry := newTestRegistry(t, manager, []string{"999@c.us"}, []string{"123@c.us"})
	limiter := NewRateLimiter(manager, registry, 1, newTestLogger())

	require.True(t, limiter.CheckAndConsume(ctx, "123@c.us"))
	require.False(t, limiter.CheckAndConsume(ctx, "123@c.us"))

	didReset, err := limiter.Reset(ctx, "123@c.us")
	require.NoError(t, err)
	assert.True(t, didReset)
	assert.True(t, limiter.CheckAndConsume(ctx, "123@c.us"))

	// Resetting an admin is a no-op.
	didReset, err = limiter.Reset(ctx, "999@c.us")
	require.NoError(t, err)
	assert.False(t, didReset)

	// Resetting an unknown user creates a usable record.
	didReset, err = limiter.Reset(ctx, "555@c.us")
	require.NoError(t, err)
	assert.True(t, didReset)
}
