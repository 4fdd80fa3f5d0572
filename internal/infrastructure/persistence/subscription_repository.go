package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/userstack/backend/internal/domain/billing"
	"github.com/userstack/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// GormSubscriptionRepository implements SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// FindByGroupID finds the subscription for a group
func (r *GormSubscriptionRepository) FindByGroupID(ctx context.Context, groupID uuid.UUID) (*billing.Subscription, error) {
	var sub billing.Subscription
	if err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindByStripeSubscriptionID finds a subscription by provider reference
func (r *GormSubscriptionRepository) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	if subscriptionID == "" {
		return nil, shared.ErrNotFound
	}
	var sub billing.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", subscriptionID).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindPendingSince returns subscriptions pending an upgrade since before the cutoff
func (r *GormSubscriptionRepository) FindPendingSince(ctx context.Context, cutoff time.Time) ([]billing.Subscription, error) {
	var subs []billing.Subscription
	if err := r.db.WithContext(ctx).
		Where("state = ?", billing.SubscriptionStatePendingUpgrade).
		Where("pending_since IS NOT NULL").
		Where("pending_since < ?", cutoff).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// Save creates or updates a subscription
func (r *GormSubscriptionRepository) Save(ctx context.Context, sub *billing.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

// Ensure GormSubscriptionRepository implements SubscriptionRepository
var _ billing.SubscriptionRepository = (*GormSubscriptionRepository)(nil)
