package cache

import (
	"context"
	"sync"
	"time"

	"github.com/userstack/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryIdempotencyStore tracks processed billing event ids in memory.
// A background loop evicts entries past their TTL.
type InMemoryIdempotencyStore struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewInMemoryIdempotencyStore creates an in-memory idempotency store
func NewInMemoryIdempotencyStore(logger *zap.Logger) *InMemoryIdempotencyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &InMemoryIdempotencyStore{
		entries: make(map[string]time.Time),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// MarkProcessed marks an event as processed.
// Returns false when the event id was already marked and has not expired.
func (s *InMemoryIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.entries[eventID]; ok && now.Before(expiry) {
		return false, nil
	}

	s.entries[eventID] = now.Add(ttl)
	return true, nil
}

// IsProcessed checks if an event has already been processed
func (s *InMemoryIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[eventID]
	return ok && now.Before(expiry), nil
}

// Close stops the cleanup loop
func (s *InMemoryIdempotencyStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	return nil
}

func (s *InMemoryIdempotencyStore) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *InMemoryIdempotencyStore) cleanup() {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for id, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Evicted expired idempotency entries", zap.Int("removed", removed))
	}
}

// Ensure InMemoryIdempotencyStore implements IdempotencyStore
var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
