package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrompt = "you are a test assistant"

func TestConversationStoreLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("absent conversation is seeded with the system prompt", func(t *testing.T) {
		store := NewConversationStore(newTestManager(t), testPrompt, 50, newTestLogger())

		conv := store.Load(ctx, models.PlatformWhatsApp, "123@c.us")
		require.Len(t, conv.Turns, 1)
		assert.Equal(t, models.RoleSystem, conv.Turns[0].Role)
		assert.Equal(t, testPrompt, conv.Turns[0].Content)

		// The seeded document is persisted, not just returned.
		again := store.Load(ctx, models.PlatformWhatsApp, "123@c.us")
		assert.Equal(t, conv.Turns, again.Turns)
	})

	t.Run("conversation without a system head is reseeded keeping turns", func(t *testing.T) {
		manager := newTestManager(t)
		store := NewConversationStore(manager, testPrompt, 50, newTestLogger())

		err := manager.SaveConversation(ctx, models.PlatformTelegram, "42", []models.Turn{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
		})
		require.NoError(t, err)

		conv := store.Load(ctx, models.PlatformTelegram, "42")
		require.Len(t, conv.Turns, 3)
		assert.Equal(t, models.RoleSystem, conv.Turns[0].Role)
		assert.Equal(t, "hi", conv.Turns[1].Content)
		assert.Equal(t, "hello", conv.Turns[2].Content)
	})
}

func TestConversationStoreSavePrunes(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(newTestManager(t), testPrompt, 50, newTestLogger())

	conv := store.Load(ctx, models.PlatformWhatsApp, "123@c.us")
	for i := 0; i < 52; i++ {
		conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleUser, Content: fmt.Sprintf("msg %d", i)})
	}
	require.NoError(t, store.Save(ctx, conv))

	// System turn plus the most recent 50.
	require.Len(t, conv.Turns, 51)
	assert.Equal(t, models.RoleSystem, conv.Turns[0].Role)
	assert.Equal(t, "msg 2", conv.Turns[1].Content)
	assert.Equal(t, "msg 51", conv.Turns[50].Content)

	reloaded := store.Load(ctx, models.PlatformWhatsApp, "123@c.us")
	assert.Equal(t, conv.Turns, reloaded.Turns)
}

func TestConversationStoreSaveNormalizesHead(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(newTestManager(t), testPrompt, 50, newTestLogger())

	conv := &models.Conversation{
		Platform: models.PlatformTelegram,
		UserID:   "42",
		Turns:    []models.Turn{{Role: models.RoleUser, Content: "hi"}},
	}
	require.NoError(t, store.Save(ctx, conv))

	require.Len(t, conv.Turns, 2)
	assert.Equal(t, models.RoleSystem, conv.Turns[0].Role)
}

func TestConversationStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(newTestManager(t), testPrompt, 50, newTestLogger())

	conv := store.Load(ctx, models.PlatformWhatsApp, "123@c.us")
	conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleUser, Content: "hi"})
	require.NoError(t, store.Save(ctx, conv))

	require.NoError(t, store.Clear(ctx, models.PlatformWhatsApp, "123@c.us"))

	cleared := store.Load(ctx, models.PlatformWhatsApp, "123@c.us")
	require.Len(t, cleared.Turns, 1)
	assert.Equal(t, models.RoleSystem, cleared.Turns[0].Role)
}

func TestConversationStoreHistory(t *testing.T) {
	ctx := context.Background()
	store := NewConversationStore(newTestManager(t), testPrompt, 50, newTestLogger())

	conv := store.Load(ctx, models.PlatformTelegram, "42")
	for i := 0; i < 12; i++ {
		conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleUser, Content: fmt.Sprintf("msg %d", i)})
	}
	require.NoError(t, store.Save(ctx, conv))

	history := store.History(ctx, models.PlatformTelegram, "42", 10)
	require.Len(t, history, 10)
	assert.Equal(t, "msg 2", history[0].Content)
	assert.Equal(t, "msg 11", history[9].Content)

	// System turns never appear in history.
	for _, turn := range history {
		assert.NotEqual(t, models.RoleSystem, turn.Role)
	}
}
