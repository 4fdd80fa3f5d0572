package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/userstack/backend/internal/domain/shared"
)

// FreePlanID is the implicit plan every group starts on.
// A group with a nil plan reference resolves to this plan.
const FreePlanID = "plan_free"

// planIDPrefix is the documented shape of plan identifiers ("plan_" + alphanumerics)
const planIDPrefix = "plan_"

// Plan represents a named bundle of enabled features tied to a billing tier.
// Plans are immutable once referenced by active subscriptions; a changed
// feature bundle is published as a new plan id.
type Plan struct {
	ID            string `gorm:"type:varchar(64);primaryKey"`
	Name          string `gorm:"type:varchar(200);not null"`
	StripePriceID string `gorm:"type:varchar(100)"` // empty for the free tier
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName returns the table name for GORM
func (Plan) TableName() string {
	return "plans"
}

// NewPlan creates a plan with a validated opaque id
func NewPlan(id, name, stripePriceID string) (*Plan, error) {
	if err := ValidatePlanID(id); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Plan name cannot be empty")
	}

	now := time.Now()
	return &Plan{
		ID:            id,
		Name:          name,
		StripePriceID: stripePriceID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ValidatePlanID checks the documented plan id shape
func ValidatePlanID(id string) error {
	if !strings.HasPrefix(id, planIDPrefix) || len(id) <= len(planIDPrefix) {
		return shared.NewDomainError("INVALID_PLAN_ID", "Plan id must have the form plan_<identifier>")
	}
	if len(id) > 64 {
		return shared.NewDomainError("INVALID_PLAN_ID", "Plan id cannot exceed 64 characters")
	}
	for _, r := range id[len(planIDPrefix):] {
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			return shared.NewDomainError("INVALID_PLAN_ID", "Plan id can only contain letters, numbers, and underscores")
		}
	}
	return nil
}

// PlanFeature represents a feature mapping row for a plan.
// The entitlement engine derives a group's flag set from these rows.
type PlanFeature struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	PlanID     string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_plan_features_plan_key"`
	FeatureKey string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_plan_features_plan_key"`
	Enabled    bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName returns the table name for GORM
func (PlanFeature) TableName() string {
	return "plan_features"
}

// NewPlanFeature creates a new plan feature row
func NewPlanFeature(planID, featureKey string, enabled bool) *PlanFeature {
	now := time.Now()
	return &PlanFeature{
		ID:         uuid.New(),
		PlanID:     planID,
		FeatureKey: featureKey,
		Enabled:    enabled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Enable enables this feature for the plan
func (pf *PlanFeature) Enable() {
	pf.Enabled = true
	pf.UpdatedAt = time.Now()
}

// Disable disables this feature for the plan
func (pf *PlanFeature) Disable() {
	pf.Enabled = false
	pf.UpdatedAt = time.Now()
}

// PlanRepository defines the interface for plan persistence
type PlanRepository interface {
	// FindByID finds a plan by its opaque id
	FindByID(ctx context.Context, id string) (*Plan, error)

	// FindAll returns all configured plans
	FindAll(ctx context.Context) ([]Plan, error)

	// Exists checks whether a plan id is configured
	Exists(ctx context.Context, id string) (bool, error)

	// Save creates or updates a plan
	Save(ctx context.Context, plan *Plan) error
}

// PlanFeatureRepository defines the interface for the plan→feature table
type PlanFeatureRepository interface {
	// FindByPlan returns all feature rows for a plan
	FindByPlan(ctx context.Context, planID string) ([]PlanFeature, error)

	// FindEnabledByPlan returns the enabled feature rows for a plan
	FindEnabledByPlan(ctx context.Context, planID string) ([]PlanFeature, error)

	// Save creates or updates a plan feature row
	Save(ctx context.Context, feature *PlanFeature) error

	// SaveBatch creates or updates multiple rows
	SaveBatch(ctx context.Context, features []PlanFeature) error

	// DeleteByPlan removes all rows for a plan
	DeleteByPlan(ctx context.Context, planID string) error
}

// Well-known feature keys used by the default seed.
// Flag keys are otherwise caller-defined strings; these exist so fresh
// deployments have a sensible tier ladder out of the box.
const (
	FeaturePremiumWidget     = "premium_widget"
	FeatureAdvancedAnalytics = "advanced_analytics"
	FeatureAPIAccess         = "api_access"
	FeatureUnlimitedProjects = "unlimited_projects"
	FeatureSSO               = "sso"
	FeatureAuditLog          = "audit_log"
	FeatureCustomBranding    = "custom_branding"
	FeaturePrioritySupport   = "priority_support"
)

// DefaultPlans returns the built-in plan ladder
func DefaultPlans() []Plan {
	now := time.Now()
	mk := func(id, name, priceID string) Plan {
		return Plan{ID: id, Name: name, StripePriceID: priceID, CreatedAt: now, UpdatedAt: now}
	}
	return []Plan{
		mk(FreePlanID, "Free", ""),
		mk("plan_starter", "Starter", "price_starter"),
		mk("plan_business", "Business", "price_business"),
	}
}

// DefaultPlanFeatures returns the seed feature rows for a built-in plan
func DefaultPlanFeatures(planID string) []PlanFeature {
	switch planID {
	case FreePlanID:
		return []PlanFeature{
			*NewPlanFeature(planID, FeaturePremiumWidget, false),
			*NewPlanFeature(planID, FeatureAdvancedAnalytics, false),
			*NewPlanFeature(planID, FeatureAPIAccess, false),
			*NewPlanFeature(planID, FeatureUnlimitedProjects, false),
			*NewPlanFeature(planID, FeatureSSO, false),
			*NewPlanFeature(planID, FeatureAuditLog, false),
			*NewPlanFeature(planID, FeatureCustomBranding, false),
			*NewPlanFeature(planID, FeaturePrioritySupport, false),
		}
	case "plan_starter":
		return []PlanFeature{
			*NewPlanFeature(planID, FeaturePremiumWidget, true),
			*NewPlanFeature(planID, FeatureAdvancedAnalytics, true),
			*NewPlanFeature(planID, FeatureAPIAccess, true),
			*NewPlanFeature(planID, FeatureUnlimitedProjects, false),
			*NewPlanFeature(planID, FeatureSSO, false),
			*NewPlanFeature(planID, FeatureAuditLog, false),
			*NewPlanFeature(planID, FeatureCustomBranding, false),
			*NewPlanFeature(planID, FeaturePrioritySupport, false),
		}
	case "plan_business":
		return []PlanFeature{
			*NewPlanFeature(planID, FeaturePremiumWidget, true),
			*NewPlanFeature(planID, FeatureAdvancedAnalytics, true),
			*NewPlanFeature(planID, FeatureAPIAccess, true),
			*NewPlanFeature(planID, FeatureUnlimitedProjects, true),
			*NewPlanFeature(planID, FeatureSSO, true),
			*NewPlanFeature(planID, FeatureAuditLog, true),
			*NewPlanFeature(planID, FeatureCustomBranding, true),
			*NewPlanFeature(planID, FeaturePrioritySupport, true),
		}
	default:
		return nil
	}
}
