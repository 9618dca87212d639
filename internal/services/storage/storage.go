package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/Rozen29/WhaTel-AI/internal/middleware"
	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Store defines the persisted-document operations. Documents are whole-value
// read-modify-write with no transactions; callers treat a nil result as
// "absent". Malformed persisted JSON is logged and reported as absent.
type Store interface {
	// Conversation documents, keyed by (platform, userID).
	GetConversation(ctx context.Context, platform models.Platform, userID string) ([]models.Turn, error)
	SaveConversation(ctx context.Context, platform models.Platform, userID string, turns []models.Turn) error

	// Per-user daily rate-limit records.
	GetRateLimit(ctx context.Context, userID string) (*models.RateLimitRecord, error)
	SaveRateLimit(ctx context.Context, userID string, rec *models.RateLimitRecord) error

	// Admin/user allow lists.
	GetAuthorizedUsers(ctx context.Context) (*models.AuthorizedUserSet, error)
	SaveAuthorizedUsers(ctx context.Context, set *models.AuthorizedUserSet) error

	// Greeted-user markers.
	IsGreeted(ctx context.Context, userID string) (bool, error)
	MarkGreeted(ctx context.Context, userID string) error

	// Once-per-24h startup gate marker.
	GetLastLogin(ctx context.Context) (*models.LastLogin, error)
	SetLastLogin(ctx context.Context, marker *models.LastLogin) error
}

// Manager selects and fronts a storage backend.
type Manager struct {
	store       Store
	logger      *logrus.Logger
	metrics     *middleware.Metrics
	redisClient *redis.Client
}

// NewManager creates a storage manager for the configured backend.
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{logger: logger, metrics: middleware.NewMetrics()}

	switch cfg.Storage.Type {
	case "redis":
		rs, err := NewRedisStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		manager.store = rs
		manager.redisClient = rs.client
	case "memory":
		manager.store = NewMemoryStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return manager, nil
}

func (m *Manager) GetConversation(ctx context.Context, platform models.Platform, userID string) ([]models.Turn, error) {
	start := time.Now()
	turns, err := m.store.GetConversation(ctx, platform, userID)
	m.record("get_conversation", start, err)
	return turns, err
}

func (m *Manager) SaveConversation(ctx context.Context, platform models.Platform, userID string, turns []models.Turn) error {
	start := time.Now()
	err := m.store.SaveConversation(ctx, platform, userID, turns)
	m.record("save_conversation", start, err)
	return err
}

func (m *Manager) GetRateLimit(ctx context.Context, userID string) (*models.RateLimitRecord, error) {
	start := time.Now()
	rec, err := m.store.GetRateLimit(ctx, userID)
	m.record("get_rate_limit", start, err)
	return rec, err
}

func (m *Manager) SaveRateLimit(ctx context.Context, userID string, rec *models.RateLimitRecord) error {
	start := time.Now()
	err := m.store.SaveRateLimit(ctx, userID, rec)
	m.record("save_rate_limit", start, err)
	return err
}

func (m *Manager) GetAuthorizedUsers(ctx context.Context) (*models.AuthorizedUserSet, error) {
	start := time.Now()
	set, err := m.store.GetAuthorizedUsers(ctx)
	m.record("get_authorized_users", start, err)
	return set, err
}

func (m *Manager) SaveAuthorizedUsers(ctx context.Context, set *models.AuthorizedUserSet) error {
	start := time.Now()
	err := m.store.SaveAuthorizedUsers(ctx, set)
	m.record("save_authorized_users", start, err)
	return err
}

func (m *Manager) IsGreeted(ctx context.Context, userID string) (bool, error) {
	start := time.Now()
	greeted, err := m.store.IsGreeted(ctx, userID)
	m.record("is_greeted", start, err)
	return greeted, err
}

func (m *Manager) MarkGreeted(ctx context.Context, userID string) error {
	start := time.Now()
	err := m.store.MarkGreeted(ctx, userID)
	m.record("mark_greeted", start, err)
	return err
}

func (m *Manager) GetLastLogin(ctx context.Context) (*models.LastLogin, error) {
	start := time.Now()
	marker, err := m.store.GetLastLogin(ctx)
	m.record("get_last_login", start, err)
	return marker, err
}

func (m *Manager) SetLastLogin(ctx context.Context, marker *models.LastLogin) error {
	start := time.Now()
	err := m.store.SetLastLogin(ctx, marker)
	m.record("set_last_login", start, err)
	return err
}

func (m *Manager) record(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordStorageOperation(operation, status, time.Since(start))
}

// GetRedisClient returns the Redis client if the redis backend is active.
func (m *Manager) GetRedisClient() *redis.Client {
	return m.redisClient
}

func conversationKey(platform models.Platform, userID string) string {
	return fmt.Sprintf("conversation:%s:%s", platform, userID)
}

func rateLimitKey(userID string) string {
	return fmt.Sprintf("ratelimit:%s", userID)
}

func greetedKey(userID string) string {
	return fmt.Sprintf("greeted:%s", userID)
}

const (
	authorizedUsersKey = "authorized_users"
	lastLoginKey       = "last_login"
)

// RedisStore persists documents in Redis.
type RedisStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStore(cfg *config.Config, logger *logrus.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, logger: logger}, nil
}

// getJSON reads key into dest. Absent keys and unparsable documents both
// yield found=false; the latter is logged since the document is discarded.
func (r *RedisStore) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Malformed persisted document, treating as absent")
		return false, nil
	}
	return true, nil
}

func (r *RedisStore) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, 0).Err()
}

func (r *RedisStore) GetConversation(ctx context.Context, platform models.Platform, userID string) ([]models.Turn, error) {
	var turns []models.Turn
	found, err := r.getJSON(ctx, conversationKey(platform, userID), &turns)
	if err != nil || !found {
		return nil, err
	}
	return turns, nil
}

func (r *RedisStore) SaveConversation(ctx context.Context, platform models.Platform, userID string, turns []models.Turn) error {
	return r.setJSON(ctx, conversationKey(platform, userID), turns)
}

func (r *RedisStore) GetRateLimit(ctx context.Context, userID string) (*models.RateLimitRecord, error) {
	var rec models.RateLimitRecord
	found, err := r.getJSON(ctx, rateLimitKey(userID), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisStore) SaveRateLimit(ctx context.Context, userID string, rec *models.RateLimitRecord) error {
	return r.setJSON(ctx, rateLimitKey(userID), rec)
}

func (r *RedisStore) GetAuthorizedUsers(ctx context.Context) (*models.AuthorizedUserSet, error) {
	var set models.AuthorizedUserSet
	found, err := r.getJSON(ctx, authorizedUsersKey, &set)
	if err != nil || !found {
		return nil, err
	}
	return &set, nil
}

func (r *RedisStore) SaveAuthorizedUsers(ctx context.Context, set *models.AuthorizedUserSet) error {
	return r.setJSON(ctx, authorizedUsersKey, set)
}

func (r *RedisStore) IsGreeted(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.Exists(ctx, greetedKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) MarkGreeted(ctx context.Context, userID string) error {
	return r.client.Set(ctx, greetedKey(userID), "1", 0).Err()
}

func (r *RedisStore) GetLastLogin(ctx context.Context) (*models.LastLogin, error) {
	var marker models.LastLogin
	found, err := r.getJSON(ctx, lastLoginKey, &marker)
	if err != nil || !found {
		return nil, err
	}
	return &marker, nil
}

func (r *RedisStore) SetLastLogin(ctx context.Context, marker *models.LastLogin) error {
	return r.setJSON(ctx, lastLoginKey, marker)
}

// MemoryStore keeps documents in an in-process cache. Nothing expires;
// this backend exists for tests and single-shot local runs.
type MemoryStore struct {
	docs   *cache.Cache
	logger *logrus.Logger
}

func NewMemoryStore(cfg *config.Config, logger *logrus.Logger) *MemoryStore {
	cleanup := cfg.Storage.Memory.CleanupInterval
	if cleanup == 0 {
		cleanup = 10 * time.Minute
	}
	return &MemoryStore{
		docs:   cache.New(cache.NoExpiration, cleanup),
		logger: logger,
	}
}

func (m *MemoryStore) GetConversation(ctx context.Context, platform models.Platform, userID string) ([]models.Turn, error) {
	if val, found := m.docs.Get(conversationKey(platform, userID)); found {
		return val.([]models.Turn), nil
	}
	return nil, nil
}

func (m *MemoryStore) SaveConversation(ctx context.Context, platform models.Platform, userID string, turns []models.Turn) error {
	// Copy so later caller mutations don't alias the stored document.
	stored := make([]models.Turn, len(turns))
	copy(stored, turns)
	m.docs.Set(conversationKey(platform, userID), stored, cache.NoExpiration)
	return nil
}

func (m *MemoryStore) GetRateLimit(ctx context.Context, userID string) (*models.RateLimitRecord, error) {
	if val, found := m.docs.Get(rateLimitKey(userID)); found {
		rec := *(val.(*models.RateLimitRecord))
		return &rec, nil
	}
	return nil, nil
}

func (m *MemoryStore) SaveRateLimit(ctx context.Context, userID string, rec *models.RateLimitRecord) error {
	stored := *rec
	m.docs.Set(rateLimitKey(userID), &stored, cache.NoExpiration)
	return nil
}

func (m *MemoryStore) GetAuthorizedUsers(ctx context.Context) (*models.AuthorizedUserSet, error) {
	if val, found := m.docs.Get(authorizedUsersKey); found {
		return val.(*models.AuthorizedUserSet), nil
	}
	return nil, nil
}

func (m *MemoryStore) SaveAuthorizedUsers(ctx context.Context, set *models.AuthorizedUserSet) error {
	m.docs.Set(authorizedUsersKey, set, cache.NoExpiration)
	return nil
}

func (m *MemoryStore) IsGreeted(ctx context.Context, userID string) (bool, error) {
	_, found := m.docs.Get(greetedKey(userID))
	return found, nil
}

func (m *MemoryStore) MarkGreeted(ctx context.Context, userID string) error {
	m.docs.Set(greetedKey(userID), true, cache.NoExpiration)
	return nil
}

func (m *MemoryStore) GetLastLogin(ctx context.Context) (*models.LastLogin, error) {
	if val, found := m.docs.Get(lastLoginKey); found {
		return val.(*models.LastLogin), nil
	}
	return nil, nil
}

func (m *MemoryStore) SetLastLogin(ctx context.Context, marker *models.LastLogin) error {
	m.docs.Set(lastLoginKey, marker, cache.NoExpiration)
	return nil
}
