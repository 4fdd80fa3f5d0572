package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"go.uber.org/zap"
)

const sessionKeyPrefix = "session:"

// RedisStore keeps sessions in Redis with native TTL expiry.
// SET NX makes creation atomic, and Redis evicts expired records itself so
// no sweep loop is needed. Multiple service instances share one store.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// RedisStoreOption is a functional option for configuring the store
type RedisStoreOption func(*RedisStore)

// WithRedisStoreLogger sets the logger
func WithRedisStoreLogger(logger *zap.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a Redis-backed session store
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create stores a new session and returns it
func (s *RedisStore) Create(ctx context.Context, userID, groupID uuid.UUID, ttl time.Duration) (*identity.Session, error) {
	sess, err := identity.NewSession(userID, groupID, ttl)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	// NX guards against the astronomically unlikely id collision
	ok, err := s.client.SetNX(ctx, sessionKeyPrefix+sess.ID, data, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return nil, shared.NewDomainError("SESSION_COLLISION", "Session id already exists")
	}

	return sess, nil
}

// Lookup resolves a session id
func (s *RedisStore) Lookup(ctx context.Context, sessionID string) (*identity.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		// Redis evicts on expiry, so a miss covers both cases
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess identity.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	if sess.IsExpired() {
		s.client.Del(ctx, sessionKeyPrefix+sessionID)
		return nil, shared.ErrSessionExpired
	}

	return &sess, nil
}

// Touch extends the session expiry by ttl from now
func (s *RedisStore) Touch(ctx context.Context, sessionID string, ttl time.Duration) error {
	sess, err := s.Lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	sess.Extend(ttl)
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKeyPrefix+sessionID, data, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	return nil
}

// Invalidate removes a session. Idempotent.
func (s *RedisStore) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller
func (s *RedisStore) Close() error {
	return nil
}

// Ensure RedisStore implements SessionStore
var _ identity.SessionStore = (*RedisStore)(nil)
