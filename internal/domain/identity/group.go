package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/userstack/backend/internal/domain/shared"
)

// GroupStatus represents the status of a group
type GroupStatus string

const (
	GroupStatusActive    GroupStatus = "active"
	GroupStatusSuspended GroupStatus = "suspended" // Suspended due to payment issues
)

// Group represents a team/organization that users identify into.
// It is the aggregate root for membership and plan state.
type Group struct {
	shared.BaseAggregateRoot
	Key              string      `gorm:"type:varchar(100);not null;uniqueIndex"`
	Name             string      `gorm:"type:varchar(200);not null"`
	Status           GroupStatus `gorm:"type:varchar(20);not null;default:'active'"`
	PlanID           *string     `gorm:"type:varchar(64);index"` // nil = free tier
	StripeCustomerID string      `gorm:"type:varchar(100);index"`
}

// TableName returns the table name for GORM
func (Group) TableName() string {
	return "groups"
}

// NewGroup creates a new group on the free tier
func NewGroup(key, name string) (*Group, error) {
	if err := validateGroupKey(key); err != nil {
		return nil, err
	}
	if name == "" {
		name = key
	}
	if len(name) > 200 {
		return nil, shared.NewDomainError("INVALID_NAME", "Group name cannot exceed 200 characters")
	}

	group := &Group{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Key:               strings.ToLower(key),
		Name:              name,
		Status:            GroupStatusActive,
		PlanID:            nil,
	}

	group.AddDomainEvent(NewGroupCreatedEvent(group))

	return group, nil
}

// CurrentPlanID returns the effective plan id, falling back to the free plan
func (g *Group) CurrentPlanID() string {
	if g.PlanID == nil {
		return FreePlanID
	}
	return *g.PlanID
}

// CommitPlan sets the group's plan. Only the billing reconciler and
// validated upgrade completion should call this.
func (g *Group) CommitPlan(planID string) error {
	if err := ValidatePlanID(planID); err != nil {
		return err
	}

	oldPlan := g.CurrentPlanID()
	if planID == FreePlanID {
		g.PlanID = nil
	} else {
		g.PlanID = &planID
	}
	g.UpdatedAt = time.Now()
	g.IncrementVersion()

	g.AddDomainEvent(NewGroupPlanChangedEvent(g, oldPlan, planID))

	return nil
}

// ClearPlan reverts the group to the free tier
func (g *Group) ClearPlan() {
	oldPlan := g.CurrentPlanID()
	g.PlanID = nil
	g.UpdatedAt = time.Now()
	g.IncrementVersion()

	if oldPlan != FreePlanID {
		g.AddDomainEvent(NewGroupPlanChangedEvent(g, oldPlan, FreePlanID))
	}
}

// SetStripeCustomerID links the group to a billing-provider customer
func (g *Group) SetStripeCustomerID(customerID string) {
	g.StripeCustomerID = customerID
	g.UpdatedAt = time.Now()
	g.IncrementVersion()
}

// Suspend suspends the group (e.g. repeated payment failure)
func (g *Group) Suspend() error {
	if g.Status == GroupStatusSuspended {
		return shared.NewDomainError("ALREADY_SUSPENDED", "Group is already suspended")
	}

	oldStatus := g.Status
	g.Status = GroupStatusSuspended
	g.UpdatedAt = time.Now()
	g.IncrementVersion()

	g.AddDomainEvent(NewGroupStatusChangedEvent(g, oldStatus, GroupStatusSuspended))

	return nil
}

// Activate activates the group
func (g *Group) Activate() error {
	if g.Status == GroupStatusActive {
		return shared.NewDomainError("ALREADY_ACTIVE", "Group is already active")
	}

	oldStatus := g.Status
	g.Status = GroupStatusActive
	g.UpdatedAt = time.Now()
	g.IncrementVersion()

	g.AddDomainEvent(NewGroupStatusChangedEvent(g, oldStatus, GroupStatusActive))

	return nil
}

// IsActive returns true if the group is active
func (g *Group) IsActive() bool {
	return g.Status == GroupStatusActive
}

// IsSuspended returns true if the group is suspended
func (g *Group) IsSuspended() bool {
	return g.Status == GroupStatusSuspended
}

func validateGroupKey(key string) error {
	if key == "" {
		return shared.NewDomainError("INVALID_GROUP_KEY", "Group key cannot be empty")
	}
	if len(key) > 100 {
		return shared.NewDomainError("INVALID_GROUP_KEY", "Group key cannot exceed 100 characters")
	}
	for _, r := range key {
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.') {
			return shared.NewDomainError("INVALID_GROUP_KEY", "Group key can only contain letters, numbers, dots, underscores, and hyphens")
		}
	}
	return nil
}

// GroupRepository defines the interface for group persistence
type GroupRepository interface {
	// FindByID finds a group by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Group, error)

	// FindByKey finds a group by its unique key
	FindByKey(ctx context.Context, key string) (*Group, error)

	// FindByStripeCustomerID finds a group by its billing-provider customer id
	FindByStripeCustomerID(ctx context.Context, customerID string) (*Group, error)

	// Save creates or updates a group
	Save(ctx context.Context, group *Group) error

	// Delete deletes a group
	Delete(ctx context.Context, id uuid.UUID) error
}
