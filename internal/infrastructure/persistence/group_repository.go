package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// GormGroupRepository implements GroupRepository using GORM
type GormGroupRepository struct {
	db *gorm.DB
}

// NewGormGroupRepository creates a new GormGroupRepository
func NewGormGroupRepository(db *gorm.DB) *GormGroupRepository {
	return &GormGroupRepository{db: db}
}

// FindByID finds a group by its ID
func (r *GormGroupRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Group, error) {
	var group identity.Group
	if err := r.db.WithContext(ctx).First(&group, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

// FindByKey finds a group by its unique key
func (r *GormGroupRepository) FindByKey(ctx context.Context, key string) (*identity.Group, error) {
	var group identity.Group
	if err := r.db.WithContext(ctx).
		Where("key = ?", strings.ToLower(key)).
		First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

// FindByStripeCustomerID finds a group by its billing-provider customer id
func (r *GormGroupRepository) FindByStripeCustomerID(ctx context.Context, customerID string) (*identity.Group, error) {
	if customerID == "" {
		return nil, shared.ErrNotFound
	}
	var group identity.Group
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &group, nil
}

// Save creates or updates a group
func (r *GormGroupRepository) Save(ctx context.Context, group *identity.Group) error {
	return r.db.WithContext(ctx).Save(group).Error
}

// Delete deletes a group
func (r *GormGroupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&identity.Group{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormGroupRepository implements GroupRepository
var _ identity.GroupRepository = (*GormGroupRepository)(nil)
