package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainbilling "github.com/userstack/backend/internal/domain/billing"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"github.com/userstack/backend/internal/infrastructure/cache"
)

// memGroupRepo is a stateful in-memory group repository
type memGroupRepo struct {
	groups map[uuid.UUID]*identity.Group
}

func newMemGroupRepo() *memGroupRepo {
	return &memGroupRepo{groups: make(map[uuid.UUID]*identity.Group)}
}

func (r *memGroupRepo) FindByID(ctx context.Context, id uuid.UUID) (*identity.Group, error) {
	if g, ok := r.groups[id]; ok {
		copy := *g
		return &copy, nil
	}
	return nil, shared.ErrNotFound
}

func (r *memGroupRepo) FindByKey(ctx context.Context, key string) (*identity.Group, error) {
	for _, g := range r.groups {
		if g.Key == key {
			copy := *g
			return &copy, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memGroupRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (*identity.Group, error) {
	for _, g := range r.groups {
		if g.StripeCustomerID == customerID && customerID != "" {
			copy := *g
			return &copy, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memGroupRepo) Save(ctx context.Context, group *identity.Group) error {
	copy := *group
	r.groups[group.ID] = &copy
	return nil
}

func (r *memGroupRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.groups, id)
	return nil
}

// memSubRepo is a stateful in-memory subscription repository
type memSubRepo struct {
	subs map[uuid.UUID]*domainbilling.Subscription
}

func newMemSubRepo() *memSubRepo {
	return &memSubRepo{subs: make(map[uuid.UUID]*domainbilling.Subscription)}
}

func (r *memSubRepo) FindByGroupID(ctx context.Context, groupID uuid.UUID) (*domainbilling.Subscription, error) {
	if s, ok := r.subs[groupID]; ok {
		copy := *s
		return &copy, nil
	}
	return nil, shared.ErrNotFound
}

func (r *memSubRepo) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*domainbilling.Subscription, error) {
	for _, s := range r.subs {
		if s.StripeSubscriptionID == subscriptionID && subscriptionID != "" {
			copy := *s
			return &copy, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memSubRepo) FindPendingSince(ctx context.Context, cutoff time.Time) ([]domainbilling.Subscription, error) {
	var out []domainbilling.Subscription
	for _, s := range r.subs {
		if s.State == domainbilling.SubscriptionStatePendingUpgrade && s.PendingSince != nil && s.PendingSince.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memSubRepo) Save(ctx context.Context, sub *domainbilling.Subscription) error {
	copy := *sub
	r.subs[sub.GroupID] = &copy
	return nil
}

type reconcilerFixture struct {
	reconciler *Reconciler
	groups     *memGroupRepo
	subs       *memSubRepo
	flags      *fakeFlagCache
	group      *identity.Group
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	groups := newMemGroupRepo()
	subs := newMemSubRepo()
	flags := &fakeFlagCache{}

	group, err := identity.NewGroup("acme", "Acme Corp")
	require.NoError(t, err)
	group.SetStripeCustomerID("cus_acme")
	require.NoError(t, groups.Save(context.Background(), group))

	idem := cache.NewInMemoryIdempotencyStore(nil)
	t.Cleanup(func() { idem.Close() })

	reconciler := NewReconciler(ReconcilerConfig{
		Groups:           groups,
		Subscriptions:    subs,
		IdempotencyStore: idem,
		FlagCache:        flags,
	})

	return &reconcilerFixture{
		reconciler: reconciler,
		groups:     groups,
		subs:       subs,
		flags:      flags,
		group:      group,
	}
}

func succeededEvent(id string, seq int64, planID string) *domainbilling.BillingEvent {
	return &domainbilling.BillingEvent{
		ID:         id,
		Type:       domainbilling.BillingEventPaymentSucceeded,
		CustomerID: "cus_acme",
		GroupKey:   "acme",
		PlanID:     planID,
		Sequence:   seq,
		OccurredAt: time.Now(),
	}
}

func failedEvent(id string, seq int64) *domainbilling.BillingEvent {
	return &domainbilling.BillingEvent{
		ID:         id,
		Type:       domainbilling.BillingEventPaymentFailed,
		CustomerID: "cus_acme",
		Sequence:   seq,
		OccurredAt: time.Now(),
	}
}

func TestProcessCommitsPlanOnPaymentSuccess(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	result, err := f.reconciler.Process(ctx, succeededEvent("evt_1", 1, "plan_ABCDWXYZ"))
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.True(t, result.PlanChanged)
	assert.Equal(t, domainbilling.SubscriptionStateActive, result.NewState)

	group, err := f.groups.FindByID(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan_ABCDWXYZ", group.CurrentPlanID())

	// Plan change invalidates the group's flag cache entry
	require.Len(t, f.flags.invalidated, 1)
	assert.Equal(t, f.group.ID, f.flags.invalidated[0])
}

func TestProcessDuplicateEventIsSkipped(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Process(ctx, succeededEvent("evt_1", 1, "plan_ABCDWXYZ"))
	require.NoError(t, err)

	// Same event id redelivered; acknowledged without reprocessing
	result, err := f.reconciler.Process(ctx, succeededEvent("evt_1", 1, "plan_ABCDWXYZ"))
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "DUPLICATE_EVENT", result.SkipReason)

	sub, err := f.subs.FindByGroupID(ctx, f.group.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sub.LastAppliedSeq)
}

func TestProcessOutOfOrderConvergesSuccessLast(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	// Failure seq 4 then success seq 5: past_due then recovered
	_, err := f.reconciler.Process(ctx, failedEvent("evt_4", 4))
	require.NoError(t, err)
	_, err = f.reconciler.Process(ctx, succeededEvent("evt_5", 5, "plan_ABCDWXYZ"))
	require.NoError(t, err)

	sub, err := f.subs.FindByGroupID(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, domainbilling.SubscriptionStateActive, sub.State)
	assert.Equal(t, "plan_ABCDWXYZ", sub.EffectivePlanID())
}

func TestProcessOutOfOrderConvergesSuccessFirst(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	// Success seq 5 arrives first; the late failure seq 4 is stale
	_, err := f.reconciler.Process(ctx, succeededEvent("evt_5", 5, "plan_ABCDWXYZ"))
	require.NoError(t, err)

	result, err := f.reconciler.Process(ctx, failedEvent("evt_4", 4))
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "STALE_EVENT", result.SkipReason)

	sub, err := f.subs.FindByGroupID(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, domainbilling.SubscriptionStateActive, sub.State)
	assert.Equal(t, "plan_ABCDWXYZ", sub.EffectivePlanID())
}

func TestProcessRepeatedFailureDowngrades(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Process(ctx, succeededEvent("evt_1", 1, "plan_ABCDWXYZ"))
	require.NoError(t, err)
	_, err = f.reconciler.Process(ctx, failedEvent("evt_2", 2))
	require.NoError(t, err)

	sub, err := f.subs.FindByGroupID(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, domainbilling.SubscriptionStatePastDue, sub.State)

	// Second failure reverts to the prior tier
	result, err := f.reconciler.Process(ctx, failedEvent("evt_3", 3))
	require.NoError(t, err)
	assert.Equal(t, domainbilling.SubscriptionStateDowngraded, result.NewState)

	group, err := f.groups.FindByID(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.FreePlanID, group.CurrentPlanID())
}

func TestProcessCancellationRevertsPlan(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Process(ctx, succeededEvent("evt_1", 1, "plan_ABCDWXYZ"))
	require.NoError(t, err)

	result, err := f.reconciler.Process(ctx, &domainbilling.BillingEvent{
		ID:         "evt_2",
		Type:       domainbilling.BillingEventCancelled,
		CustomerID: "cus_acme",
		Sequence:   2,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, domainbilling.SubscriptionStateDowngraded, result.NewState)
	assert.True(t, result.PlanChanged)

	group, err := f.groups.FindByID(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.FreePlanID, group.CurrentPlanID())
}

func TestProcessUnknownGroupIsAcknowledged(t *testing.T) {
	f := newReconcilerFixture(t)

	event := &domainbilling.BillingEvent{
		ID:         "evt_1",
		Type:       domainbilling.BillingEventPaymentSucceeded,
		CustomerID: "cus_stranger",
		Sequence:   1,
		OccurredAt: time.Now(),
	}

	result, err := f.reconciler.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "unknown group", result.SkipReason)
}

func TestProcessNilEventIsSkipped(t *testing.T) {
	f := newReconcilerFixture(t)

	result, err := f.reconciler.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestProcessInvalidEventFails(t *testing.T) {
	f := newReconcilerFixture(t)

	_, err := f.reconciler.Process(context.Background(), &domainbilling.BillingEvent{ID: "evt_1"})
	assert.Error(t, err)
}

func TestProcessPendingUpgradeConfirmedByCheckout(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	// Upgrade intent recorded; plan still free
	sub := domainbilling.NewSubscription(f.group.ID)
	require.NoError(t, sub.InitiateUpgrade("plan_ABCDWXYZ", "https://checkout.stripe.test/cs_1"))
	require.NoError(t, f.subs.Save(ctx, sub))

	group, err := f.groups.FindByID(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.FreePlanID, group.CurrentPlanID())

	// Confirming event commits the recorded target even without metadata
	event := &domainbilling.BillingEvent{
		ID:         "evt_1",
		Type:       domainbilling.BillingEventPaymentSucceeded,
		CustomerID: "cus_acme",
		Sequence:   1,
		OccurredAt: time.Now(),
	}
	result, err := f.reconciler.Process(ctx, event)
	require.NoError(t, err)
	assert.True(t, result.PlanChanged)

	group, err = f.groups.FindByID(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan_ABCDWXYZ", group.CurrentPlanID())
}
