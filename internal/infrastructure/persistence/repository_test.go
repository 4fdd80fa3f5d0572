package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/userstack/backend/internal/domain/billing"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database with the full schema
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&identity.Group{},
		&identity.User{},
		&identity.Plan{},
		&identity.PlanFeature{},
		&billing.Subscription{},
	)
	require.NoError(t, err)

	return db
}

func TestGormGroupRepository_SaveAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormGroupRepository(db)
	ctx := context.Background()

	group, err := identity.NewGroup("Acme", "Acme Corp")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, group))

	found, err := repo.FindByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", found.Key)
	assert.Equal(t, "Acme Corp", found.Name)
	assert.Equal(t, identity.FreePlanID, found.CurrentPlanID())

	// Key lookup is case-insensitive because keys are stored lowercased
	found, err = repo.FindByKey(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, group.ID, found.ID)
}

func TestGormGroupRepository_FindByStripeCustomerID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormGroupRepository(db)
	ctx := context.Background()

	group, err := identity.NewGroup("acme", "Acme")
	require.NoError(t, err)
	group.SetStripeCustomerID("cus_123")
	require.NoError(t, repo.Save(ctx, group))

	found, err := repo.FindByStripeCustomerID(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, group.ID, found.ID)

	_, err = repo.FindByStripeCustomerID(ctx, "")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormGroupRepository_PlanRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormGroupRepository(db)
	ctx := context.Background()

	group, err := identity.NewGroup("acme", "Acme")
	require.NoError(t, err)
	require.NoError(t, group.CommitPlan("plan_ABCDWXYZ"))
	require.NoError(t, repo.Save(ctx, group))

	found, err := repo.FindByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan_ABCDWXYZ", found.CurrentPlanID())
}

func TestGormUserRepository_FindBySubject(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormUserRepository(db)
	ctx := context.Background()
	groupID := uuid.New()

	user, err := identity.NewUser("https://idp.example.com", "sub-1", groupID)
	require.NoError(t, err)
	user.UpdateProfile("jordan@acme.test", "Jordan")
	require.NoError(t, repo.Save(ctx, user))

	found, err := repo.FindBySubject(ctx, "https://idp.example.com", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, "jordan@acme.test", found.Email)

	// Same subject under a different issuer is a different identity
	_, err = repo.FindBySubject(ctx, "https://other.example.com", "sub-1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormPlanRepository_UnknownPlan(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormPlanRepository(db)
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "plan_NOPE")
	assert.ErrorIs(t, err, shared.ErrUnknownPlan)

	exists, err := repo.Exists(ctx, "plan_NOPE")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSeedDefaultPlans(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, SeedDefaultPlans(ctx, db))

	plans := NewGormPlanRepository(db)
	all, err := plans.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	features := NewGormPlanFeatureRepository(db)
	free, err := features.FindByPlan(ctx, identity.FreePlanID)
	require.NoError(t, err)
	assert.NotEmpty(t, free)
	for _, f := range free {
		assert.False(t, f.Enabled)
	}

	enabled, err := features.FindEnabledByPlan(ctx, "plan_business")
	require.NoError(t, err)
	assert.NotEmpty(t, enabled)

	// Seeding twice leaves existing plans untouched
	require.NoError(t, SeedDefaultPlans(ctx, db))
	all, err = plans.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGormPlanFeatureRepository_SaveBatchUpserts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormPlanFeatureRepository(db)
	ctx := context.Background()

	rows := []identity.PlanFeature{
		*identity.NewPlanFeature("plan_custom", "premium_widget", false),
	}
	require.NoError(t, repo.SaveBatch(ctx, rows))

	// Re-saving the same plan/key pair flips the value instead of duplicating
	rows[0].Enabled = true
	require.NoError(t, repo.SaveBatch(ctx, rows))

	found, err := repo.FindByPlan(ctx, "plan_custom")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Enabled)
}

func TestGormSubscriptionRepository_SaveAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormSubscriptionRepository(db)
	ctx := context.Background()
	groupID := uuid.New()

	sub := billing.NewSubscription(groupID)
	require.NoError(t, sub.InitiateUpgrade("plan_ABCDWXYZ", "https://checkout.stripe.test/cs_1"))
	require.NoError(t, repo.Save(ctx, sub))

	found, err := repo.FindByGroupID(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionStatePendingUpgrade, found.State)
	require.NotNil(t, found.TargetPlanID)
	assert.Equal(t, "plan_ABCDWXYZ", *found.TargetPlanID)
}

func TestGormSubscriptionRepository_FindPendingSince(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormSubscriptionRepository(db)
	ctx := context.Background()

	stale := billing.NewSubscription(uuid.New())
	require.NoError(t, stale.InitiateUpgrade("plan_ABCDWXYZ", ""))
	old := time.Now().Add(-2 * time.Hour)
	stale.PendingSince = &old
	require.NoError(t, repo.Save(ctx, stale))

	fresh := billing.NewSubscription(uuid.New())
	require.NoError(t, fresh.InitiateUpgrade("plan_ABCDWXYZ", ""))
	require.NoError(t, repo.Save(ctx, fresh))

	pending, err := repo.FindPendingSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stale.GroupID, pending[0].GroupID)
}

func TestGormSubscriptionRepository_FindByStripeSubscriptionID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormSubscriptionRepository(db)
	ctx := context.Background()

	sub := billing.NewSubscription(uuid.New())
	_, err := sub.Apply(&billing.BillingEvent{
		ID:             "evt_1",
		Type:           billing.BillingEventPaymentSucceeded,
		SubscriptionID: "sub_abc",
		PlanID:         "plan_ABCDWXYZ",
		Sequence:       1,
		OccurredAt:     time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sub))

	found, err := repo.FindByStripeSubscriptionID(ctx, "sub_abc")
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionStateActive, found.State)
	assert.Equal(t, "plan_ABCDWXYZ", found.EffectivePlanID())
}
