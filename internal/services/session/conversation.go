package session

import (
	"context"

	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/Rozen29/WhaTel-AI/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// ConversationStore loads and saves bounded per-user dialogues. Load always
// returns a conversation whose first turn is a system turn; Save prunes to
// the system turn plus the most recent maxTurns entries.
type ConversationStore struct {
	storage      *storage.Manager
	systemPrompt string
	maxTurns     int
	logger       *logrus.Logger
}

func NewConversationStore(storage *storage.Manager, systemPrompt string, maxTurns int, logger *logrus.Logger) *ConversationStore {
	return &ConversationStore{
		storage:      storage,
		systemPrompt: systemPrompt,
		maxTurns:     maxTurns,
		logger:       logger,
	}
}

// Load returns the persisted conversation for (platform, userID), creating
// and persisting a fresh one seeded with the system prompt when absent or
// unusable. Storage errors degrade to the fresh in-memory conversation.
func (s *ConversationStore) Load(ctx context.Context, platform models.Platform, userID string) *models.Conversation {
	turns, err := s.storage.GetConversation(ctx, platform, userID)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"platform": platform,
			"user_id":  userID,
		}).Error("Failed to load conversation, starting fresh")
		turns = nil
	}

	if len(turns) == 0 || turns[0].Role != models.RoleSystem {
		turns = s.reseed(turns)
		if err := s.storage.SaveConversation(ctx, platform, userID, turns); err != nil {
			s.logger.WithError(err).Warn("Failed to persist reseeded conversation")
		}
	}

	return &models.Conversation{Platform: platform, UserID: userID, Turns: turns}
}

// Save normalizes, prunes and persists the conversation as a whole-document
// replace. A nil turn slice resets the conversation to just the system turn.
func (s *ConversationStore) Save(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		s.logger.Warn("Refusing to save nil conversation")
		return nil
	}

	turns := conv.Turns
	if len(turns) == 0 || turns[0].Role != models.RoleSystem {
		turns = s.reseed(turns)
	}

	turns = s.prune(turns)
	conv.Turns = turns

	return s.storage.SaveConversation(ctx, conv.Platform, conv.UserID, turns)
}

// Clear resets the conversation to its seeded single system turn.
func (s *ConversationStore) Clear(ctx context.Context, platform models.Platform, userID string) error {
	return s.storage.SaveConversation(ctx, platform, userID, s.reseed(nil))
}

// History returns the last n non-system turns, oldest first.
func (s *ConversationStore) History(ctx context.Context, platform models.Platform, userID string, n int) []models.Turn {
	conv := s.Load(ctx, platform, userID)
	var history []models.Turn
	for _, t := range conv.Turns {
		if t.Role != models.RoleSystem {
			history = append(history, t)
		}
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}

// reseed prepends a fresh system turn, keeping any non-system turns.
func (s *ConversationStore) reseed(turns []models.Turn) []models.Turn {
	seeded := []models.Turn{{Role: models.RoleSystem, Content: s.systemPrompt}}
	for _, t := range turns {
		if t.Role != models.RoleSystem {
			seeded = append(seeded, t)
		}
	}
	return seeded
}

// prune retains the system turn plus the most recent maxTurns entries,
// discarding older ones irrecoverably.
func (s *ConversationStore) prune(turns []models.Turn) []models.Turn {
	if len(turns) <= s.maxTurns+1 {
		return turns
	}
	pruned := make([]models.Turn, 0, s.maxTurns+1)
	pruned = append(pruned, turns[0])
	pruned = append(pruned, turns[len(turns)-s.maxTurns:]...)
	return pruned
}
