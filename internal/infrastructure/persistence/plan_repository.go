package persistence

import (
	"context"
	"errors"

	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPlanRepository implements PlanRepository using GORM
type GormPlanRepository struct {
	db *gorm.DB
}

// NewGormPlanRepository creates a new GormPlanRepository
func NewGormPlanRepository(db *gorm.DB) *GormPlanRepository {
	return &GormPlanRepository{db: db}
}

// FindByID finds a plan by its opaque id
func (r *GormPlanRepository) FindByID(ctx context.Context, id string) (*identity.Plan, error) {
	var plan identity.Plan
	if err := r.db.WithContext(ctx).First(&plan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrUnknownPlan
		}
		return nil, err
	}
	return &plan, nil
}

// FindAll returns all configured plans
func (r *GormPlanRepository) FindAll(ctx context.Context) ([]identity.Plan, error) {
	var plans []identity.Plan
	if err := r.db.WithContext(ctx).Order("id").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// Exists checks whether a plan id is configured
func (r *GormPlanRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&identity.Plan{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Save creates or updates a plan
func (r *GormPlanRepository) Save(ctx context.Context, plan *identity.Plan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

// Ensure GormPlanRepository implements PlanRepository
var _ identity.PlanRepository = (*GormPlanRepository)(nil)

// GormPlanFeatureRepository implements PlanFeatureRepository using GORM
type GormPlanFeatureRepository struct {
	db *gorm.DB
}

// NewGormPlanFeatureRepository creates a new GormPlanFeatureRepository
func NewGormPlanFeatureRepository(db *gorm.DB) *GormPlanFeatureRepository {
	return &GormPlanFeatureRepository{db: db}
}

// FindByPlan returns all feature rows for a plan
func (r *GormPlanFeatureRepository) FindByPlan(ctx context.Context, planID string) ([]identity.PlanFeature, error) {
	var features []identity.PlanFeature
	if err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("feature_key").
		Find(&features).Error; err != nil {
		return nil, err
	}
	return features, nil
}

// FindEnabledByPlan returns the enabled feature rows for a plan
func (r *GormPlanFeatureRepository) FindEnabledByPlan(ctx context.Context, planID string) ([]identity.PlanFeature, error) {
	var features []identity.PlanFeature
	if err := r.db.WithContext(ctx).
		Where("plan_id = ? AND enabled = ?", planID, true).
		Order("feature_key").
		Find(&features).Error; err != nil {
		return nil, err
	}
	return features, nil
}

// Save creates or updates a plan feature row
func (r *GormPlanFeatureRepository) Save(ctx context.Context, feature *identity.PlanFeature) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plan_id"}, {Name: "feature_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
		}).
		Create(feature).Error
}

// SaveBatch creates or updates multiple rows
func (r *GormPlanFeatureRepository) SaveBatch(ctx context.Context, features []identity.PlanFeature) error {
	if len(features) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plan_id"}, {Name: "feature_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
		}).
		Create(&features).Error
}

// DeleteByPlan removes all rows for a plan
func (r *GormPlanFeatureRepository) DeleteByPlan(ctx context.Context, planID string) error {
	return r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Delete(&identity.PlanFeature{}).Error
}

// Ensure GormPlanFeatureRepository implements PlanFeatureRepository
var _ identity.PlanFeatureRepository = (*GormPlanFeatureRepository)(nil)

// SeedDefaultPlans writes the built-in plan ladder and its feature rows.
// Existing plans are left untouched so operators can edit them.
func SeedDefaultPlans(ctx context.Context, db *gorm.DB) error {
	plans := NewGormPlanRepository(db)
	features := NewGormPlanFeatureRepository(db)

	for _, plan := range identity.DefaultPlans() {
		exists, err := plans.Exists(ctx, plan.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		p := plan
		if err := plans.Save(ctx, &p); err != nil {
			return err
		}
		if err := features.SaveBatch(ctx, identity.DefaultPlanFeatures(plan.ID)); err != nil {
			return err
		}
	}

	return nil
}
