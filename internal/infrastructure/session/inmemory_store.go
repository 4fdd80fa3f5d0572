package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryStore keeps sessions in process memory.
// Suitable for single-instance deployments and tests; expired entries are
// collected by a background sweep so the map does not grow unbounded.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*identity.Session
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// InMemoryStoreOption is a functional option for configuring the store
type InMemoryStoreOption func(*InMemoryStore)

// WithInMemoryStoreLogger sets the logger
func WithInMemoryStoreLogger(logger *zap.Logger) InMemoryStoreOption {
	return func(s *InMemoryStore) {
		s.logger = logger
	}
}

// NewInMemoryStore creates an in-memory session store.
// sweepInterval <= 0 disables the background sweep.
func NewInMemoryStore(sweepInterval time.Duration, opts ...InMemoryStoreOption) *InMemoryStore {
	s := &InMemoryStore{
		sessions: make(map[string]*identity.Session),
		logger:   zap.NewNop(),
		stopCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}

	return s
}

// Create stores a new session and returns it
func (s *InMemoryStore) Create(ctx context.Context, userID, groupID uuid.UUID, ttl time.Duration) (*identity.Session, error) {
	sess, err := identity.NewSession(userID, groupID, ttl)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess, nil
}

// Lookup resolves a session id
func (s *InMemoryStore) Lookup(ctx context.Context, sessionID string) (*identity.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	if sess.IsExpired() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return nil, shared.ErrSessionExpired
	}

	copy := *sess
	return &copy, nil
}

// Touch extends the session expiry by ttl from now
func (s *InMemoryStore) Touch(ctx context.Context, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return shared.ErrSessionNotFound
	}
	if sess.IsExpired() {
		delete(s.sessions, sessionID)
		return shared.ErrSessionExpired
	}

	sess.Extend(ttl)
	return nil
}

// Invalidate removes a session. Idempotent.
func (s *InMemoryStore) Invalidate(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Close stops the background sweep
func (s *InMemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	return nil
}

// sweepLoop periodically removes expired sessions
func (s *InMemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *InMemoryStore) sweep() {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Swept expired sessions", zap.Int("removed", removed))
	}
}

// Ensure InMemoryStore implements SessionStore
var _ identity.SessionStore = (*InMemoryStore)(nil)
