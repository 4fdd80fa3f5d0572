package entitlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/userstack/backend/internal/domain/identity"
	"go.uber.org/zap"
)

// Engine derives a group's feature flags from its committed plan and the
// plan→feature table. The computation is deterministic: identical
// Group/Plan state always yields an identical flag set, which the flag
// cache relies on for correctness.
type Engine struct {
	groups   identity.GroupRepository
	features identity.PlanFeatureRepository
	logger   *zap.Logger
}

// EngineOption is a functional option for configuring the engine
type EngineOption func(*Engine)

// WithEngineLogger sets the logger
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a new entitlement engine
func NewEngine(groups identity.GroupRepository, features identity.PlanFeatureRepository, opts ...EngineOption) *Engine {
	e := &Engine{
		groups:   groups,
		features: features,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Flags computes the flag set for a group from its current plan.
// A suspended group serves the free tier regardless of committed plan, so
// entitlements lapse immediately on suspension without a plan rewrite.
func (e *Engine) Flags(ctx context.Context, groupID uuid.UUID) (FlagSet, error) {
	group, err := e.groups.FindByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group %s: %w", groupID, err)
	}

	planID := group.CurrentPlanID()
	if group.IsSuspended() {
		planID = identity.FreePlanID
	}

	rows, err := e.features.FindByPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan features for %s: %w", planID, err)
	}

	flags := make(FlagSet, len(rows))
	for _, row := range rows {
		flags[row.FeatureKey] = row.Enabled
	}

	e.logger.Debug("Computed entitlement flags",
		zap.String("group_id", groupID.String()),
		zap.String("plan_id", planID),
		zap.Int("flag_count", len(flags)))

	return flags, nil
}

// Ensure Engine implements FlagProvider
var _ FlagProvider = (*Engine)(nil)
