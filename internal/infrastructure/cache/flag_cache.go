package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/userstack/backend/internal/domain/entitlement"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// flagEntry is a cached flag set with its expiry
type flagEntry struct {
	flags     entitlement.FlagSet
	expiresAt time.Time
}

// FlagCache is a read-through cache over the entitlement engine.
// Concurrent misses for the same group collapse into one computation via
// singleflight. Invalidate drops the entry immediately; TTL expiry exists
// only as a staleness safety net behind missed invalidations.
type FlagCache struct {
	provider entitlement.FlagProvider
	ttl      time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[uuid.UUID]*flagEntry
	gens    map[uuid.UUID]uint64
	group   singleflight.Group

	stopCh   chan struct{}
	stopOnce sync.Once
}

// FlagCacheOption is a functional option for configuring the cache
type FlagCacheOption func(*FlagCache)

// WithFlagCacheLogger sets the logger
func WithFlagCacheLogger(logger *zap.Logger) FlagCacheOption {
	return func(c *FlagCache) {
		c.logger = logger
	}
}

// NewFlagCache creates a flag cache over the given provider
func NewFlagCache(provider entitlement.FlagProvider, ttl time.Duration, opts ...FlagCacheOption) *FlagCache {
	c := &FlagCache{
		provider: provider,
		ttl:      ttl,
		logger:   zap.NewNop(),
		entries:  make(map[uuid.UUID]*flagEntry),
		gens:     make(map[uuid.UUID]uint64),
		stopCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupLoop()

	return c
}

// Flags returns the cached flag set for a group, computing it on a miss
func (c *FlagCache) Flags(ctx context.Context, groupID uuid.UUID) (entitlement.FlagSet, error) {
	c.mu.RLock()
	entry, ok := c.entries[groupID]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.flags.Clone(), nil
	}

	return c.recompute(ctx, groupID)
}

// recompute populates the cache through singleflight so a stampede of
// misses for one group costs a single provider call. The store is fenced
// by the group's invalidation generation: a result computed before an
// Invalidate must not land in the cache after it.
func (c *FlagCache) recompute(ctx context.Context, groupID uuid.UUID) (entitlement.FlagSet, error) {
	v, err, _ := c.group.Do(groupID.String(), func() (interface{}, error) {
		c.mu.RLock()
		gen := c.gens[groupID]
		c.mu.RUnlock()

		flags, err := c.provider.Flags(ctx, groupID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gens[groupID] == gen {
			c.entries[groupID] = &flagEntry{
				flags:     flags,
				expiresAt: time.Now().Add(c.ttl),
			}
		}
		c.mu.Unlock()

		return flags, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(entitlement.FlagSet).Clone(), nil
}

// Invalidate drops the cached flag set for a group.
// The next Flags call recomputes from the provider.
func (c *FlagCache) Invalidate(ctx context.Context, groupID uuid.UUID) error {
	c.mu.Lock()
	delete(c.entries, groupID)
	c.gens[groupID]++
	c.mu.Unlock()

	// Detach any in-flight computation so calls arriving after this point
	// start a fresh one instead of joining a flight that began pre-change
	c.group.Forget(groupID.String())

	c.logger.Debug("Invalidated flag cache entry", zap.String("group_id", groupID.String()))

	return nil
}

// Close stops the cleanup loop
func (c *FlagCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	return nil
}

// cleanupLoop periodically drops entries past their TTL
func (c *FlagCache) cleanupLoop() {
	interval := c.ttl
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *FlagCache) cleanup() {
	now := time.Now()

	c.mu.Lock()
	for id, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()
}

// Ensure FlagCache implements entitlement.FlagCache
var _ entitlement.FlagCache = (*FlagCache)(nil)
