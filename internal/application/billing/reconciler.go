package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	domainbilling "github.com/userstack/backend/internal/domain/billing"
	"github.com/userstack/backend/internal/domain/entitlement"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ReconcilerConfig contains configuration for Reconciler
type ReconcilerConfig struct {
	Groups           identity.GroupRepository
	Subscriptions    domainbilling.SubscriptionRepository
	IdempotencyStore shared.IdempotencyStore
	Idempotency      shared.IdempotencyConfig
	FlagCache        entitlement.FlagCache
	EventBus         shared.EventBus
	Logger           *zap.Logger
}

// Reconciler applies normalized billing events to subscription state.
//
// Guarantees, in order:
//  1. idempotency: an event id seen before is acknowledged and skipped
//  2. per-group serialization: events for one group apply one at a time
//  3. ordering: the aggregate rejects events at or below its applied sequence
//
// Out-of-order deliveries therefore converge: [fail seq 4, success seq 5]
// and [success seq 5, fail seq 4] both end with the success applied and the
// failure discarded as stale.
type Reconciler struct {
	groups        identity.GroupRepository
	subscriptions domainbilling.SubscriptionRepository
	idempotency   shared.IdempotencyStore
	idemCfg       shared.IdempotencyConfig
	flagCache     entitlement.FlagCache
	eventBus      shared.EventBus
	logger        *zap.Logger

	groupLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewReconciler creates a new billing event reconciler
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idemCfg := cfg.Idempotency
	if idemCfg.TTL == 0 {
		idemCfg = shared.DefaultIdempotencyConfig()
	}
	return &Reconciler{
		groups:        cfg.Groups,
		subscriptions: cfg.Subscriptions,
		idempotency:   cfg.IdempotencyStore,
		idemCfg:       idemCfg,
		flagCache:     cfg.FlagCache,
		eventBus:      cfg.EventBus,
		logger:        logger,
	}
}

// ProcessResult describes what a processed event did
type ProcessResult struct {
	EventID     string
	Skipped     bool
	SkipReason  string
	PlanChanged bool
	NewState    domainbilling.SubscriptionState
}

// Process applies one billing event. Duplicate and stale events are
// acknowledged as skipped, never surfaced as errors, so the webhook
// endpoint can always answer 200 and stop provider retries.
func (r *Reconciler) Process(ctx context.Context, event *domainbilling.BillingEvent) (*ProcessResult, error) {
	if event == nil {
		return &ProcessResult{Skipped: true, SkipReason: "unhandled event type"}, nil
	}
	if !event.IsValid() {
		return nil, shared.NewDomainError("INVALID_EVENT", "Billing event is missing required fields")
	}

	if r.idemCfg.Enabled {
		processed, err := r.idempotency.IsProcessed(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("idempotency check: %w", err)
		}
		if processed {
			r.logger.Info("Skipping duplicate billing event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
			return &ProcessResult{EventID: event.ID, Skipped: true, SkipReason: shared.ErrDuplicateEvent.Code}, nil
		}
	}

	group, err := r.resolveGroup(ctx, event)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Events for customers we do not know are acknowledged so the
			// provider stops retrying; they may predate group setup.
			r.logger.Warn("No group for billing event, acknowledging",
				zap.String("event_id", event.ID),
				zap.String("customer_id", event.CustomerID),
				zap.String("group_key", event.GroupKey))
			return &ProcessResult{EventID: event.ID, Skipped: true, SkipReason: "unknown group"}, nil
		}
		return nil, err
	}

	// Serialize per group; events for different groups apply concurrently
	lock := r.lockFor(group.ID)
	lock.Lock()
	defer lock.Unlock()

	result, err := r.apply(ctx, group, event)
	if err != nil {
		return nil, err
	}

	if r.idemCfg.Enabled {
		if _, err := r.idempotency.MarkProcessed(ctx, event.ID, r.idemCfg.TTL); err != nil {
			// The state change is already durable; a failed mark only risks
			// one redundant skip-check on redelivery
			r.logger.Warn("Failed to mark billing event processed",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}

	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, group *identity.Group, event *domainbilling.BillingEvent) (*ProcessResult, error) {
	sub, err := r.subscriptions.FindByGroupID(ctx, group.ID)
	if errors.Is(err, shared.ErrNotFound) {
		sub = domainbilling.NewSubscription(group.ID)
	} else if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	applied, err := sub.Apply(event)
	if errors.Is(err, shared.ErrStaleEvent) {
		r.logger.Info("Discarding stale billing event",
			zap.String("event_id", event.ID),
			zap.Int64("event_seq", event.Sequence),
			zap.Int64("applied_seq", sub.LastAppliedSeq))
		return &ProcessResult{EventID: event.ID, Skipped: true, SkipReason: shared.ErrStaleEvent.Code}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.subscriptions.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	if applied.PlanChanged {
		if err := r.commitGroupPlan(ctx, group, applied.NewPlanID); err != nil {
			return nil, err
		}
		if r.flagCache != nil {
			if err := r.flagCache.Invalidate(ctx, group.ID); err != nil {
				r.logger.Warn("Failed to invalidate flag cache",
					zap.String("group_id", group.ID.String()),
					zap.Error(err))
			}
		}
	}

	r.publishEvents(ctx, sub)

	r.logger.Info("Applied billing event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("group_id", group.ID.String()),
		zap.String("old_state", string(applied.OldState)),
		zap.String("new_state", string(applied.NewState)),
		zap.Bool("plan_changed", applied.PlanChanged))

	return &ProcessResult{
		EventID:     event.ID,
		PlanChanged: applied.PlanChanged,
		NewState:    applied.NewState,
	}, nil
}

// commitGroupPlan mirrors the subscription's effective plan onto the group
func (r *Reconciler) commitGroupPlan(ctx context.Context, group *identity.Group, planID string) error {
	if planID == identity.FreePlanID {
		group.ClearPlan()
	} else if err := group.CommitPlan(planID); err != nil {
		return err
	}
	if err := r.groups.Save(ctx, group); err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	r.publishGroupEvents(ctx, group)
	return nil
}

// resolveGroup maps a billing event to the group it concerns.
// Resolution order: explicit group key from checkout metadata, then the
// provider customer id, then the provider subscription id.
func (r *Reconciler) resolveGroup(ctx context.Context, event *domainbilling.BillingEvent) (*identity.Group, error) {
	if event.GroupKey != "" {
		group, err := r.groups.FindByKey(ctx, event.GroupKey)
		if err == nil {
			return group, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	if event.CustomerID != "" {
		group, err := r.groups.FindByStripeCustomerID(ctx, event.CustomerID)
		if err == nil {
			return group, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	if event.SubscriptionID != "" {
		sub, err := r.subscriptions.FindByStripeSubscriptionID(ctx, event.SubscriptionID)
		if err == nil {
			return r.groups.FindByID(ctx, sub.GroupID)
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	return nil, shared.ErrNotFound
}

func (r *Reconciler) lockFor(groupID uuid.UUID) *sync.Mutex {
	v, _ := r.groupLocks.LoadOrStore(groupID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (r *Reconciler) publishEvents(ctx context.Context, sub *domainbilling.Subscription) {
	if r.eventBus == nil {
		return
	}
	events := sub.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := r.eventBus.Publish(ctx, events...); err != nil {
		r.logger.Warn("Failed to publish subscription events", zap.Error(err))
	}
	sub.ClearDomainEvents()
}

func (r *Reconciler) publishGroupEvents(ctx context.Context, group *identity.Group) {
	if r.eventBus == nil {
		return
	}
	events := group.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := r.eventBus.Publish(ctx, events...); err != nil {
		r.logger.Warn("Failed to publish group events", zap.Error(err))
	}
	group.ClearDomainEvents()
}
