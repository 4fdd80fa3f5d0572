package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/userstack/backend/internal/domain/entitlement"
	"go.uber.org/zap"
)

const invalidationChannel = "flags:invalidate"

// InvalidationFanout propagates flag cache invalidations across instances
// over Redis pub/sub. Each instance wraps its local cache; an Invalidate on
// one instance publishes the group id, and every subscriber drops its local
// entry. Delivery is best effort, which is why the local cache keeps a TTL.
type InvalidationFanout struct {
	local    entitlement.FlagCache
	client   *redis.Client
	logger   *zap.Logger
	pubsub   *redis.PubSub
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// InvalidationFanoutOption is a functional option for configuring the fanout
type InvalidationFanoutOption func(*InvalidationFanout)

// WithFanoutLogger sets the logger
func WithFanoutLogger(logger *zap.Logger) InvalidationFanoutOption {
	return func(f *InvalidationFanout) {
		f.logger = logger
	}
}

// NewInvalidationFanout wraps a local flag cache with Redis fanout.
// The subscription starts immediately and runs until Close.
func NewInvalidationFanout(local entitlement.FlagCache, client *redis.Client, opts ...InvalidationFanoutOption) *InvalidationFanout {
	f := &InvalidationFanout{
		local:  local,
		client: client,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.pubsub = client.Subscribe(context.Background(), invalidationChannel)
	f.wg.Add(1)
	go f.listen()

	return f
}

// Flags delegates to the local cache
func (f *InvalidationFanout) Flags(ctx context.Context, groupID uuid.UUID) (entitlement.FlagSet, error) {
	return f.local.Flags(ctx, groupID)
}

// Invalidate drops the local entry and publishes to other instances
func (f *InvalidationFanout) Invalidate(ctx context.Context, groupID uuid.UUID) error {
	if err := f.local.Invalidate(ctx, groupID); err != nil {
		return err
	}

	if err := f.client.Publish(ctx, invalidationChannel, groupID.String()).Err(); err != nil {
		// Local invalidation already happened; remote caches fall back to TTL
		f.logger.Warn("Failed to publish flag invalidation",
			zap.String("group_id", groupID.String()),
			zap.Error(err))
	}

	return nil
}

// Close stops the subscription and closes the local cache
func (f *InvalidationFanout) Close() error {
	f.stopOnce.Do(func() {
		f.pubsub.Close()
		f.wg.Wait()
	})
	return f.local.Close()
}

// listen applies remote invalidations to the local cache
func (f *InvalidationFanout) listen() {
	defer f.wg.Done()

	for msg := range f.pubsub.Channel() {
		groupID, err := uuid.Parse(msg.Payload)
		if err != nil {
			f.logger.Warn("Ignoring malformed invalidation message", zap.String("payload", msg.Payload))
			continue
		}
		if err := f.local.Invalidate(context.Background(), groupID); err != nil {
			f.logger.Warn("Failed to apply remote invalidation",
				zap.String("group_id", groupID.String()),
				zap.Error(err))
		}
	}
}

// Ensure InvalidationFanout implements entitlement.FlagCache
var _ entitlement.FlagCache = (*InvalidationFanout)(nil)
