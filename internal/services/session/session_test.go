package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/Rozen29/WhaTel-AI/internal/services/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestManager(t *testing.T) *storage.Manager {
	t.Helper()
	cfg := &config.Config{}
	cfg.Storage.Type = "memory"
	cfg.Storage.Memory.CleanupInterval = time.Minute

	manager, err := storage.NewManager(cfg, newTestLogger())
	require.NoError(t, err)
	return manager
}

func newTestRegistry(t *testing.T, manager *storage.Manager, admins, users []string) *Registry {
	t.Helper()
	ctx := context.Background()
	err := manager.SaveAuthorizedUsers(ctx, &models.AuthorizedUserSet{Admin: admins, Users: users})
	require.NoError(t, err)

	registry, err := NewRegistry(ctx, manager, newTestLogger())
	require.NoError(t, err)
	return registry
}
