package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
)

// SubscriptionState represents the billing state of a group's subscription
type SubscriptionState string

const (
	SubscriptionStateNone           SubscriptionState = "none"
	SubscriptionStatePendingUpgrade SubscriptionState = "pending_upgrade"
	SubscriptionStateActive         SubscriptionState = "active"
	SubscriptionStatePastDue        SubscriptionState = "past_due"
	SubscriptionStateDowngraded     SubscriptionState = "downgraded"
)

// Subscription is the aggregate tracking one group's billing state machine:
//
//	none/active -> pending_upgrade   (upgrade initiated, plan not yet changed)
//	pending_upgrade -> active        (confirming payment event commits the plan)
//	active -> past_due               (payment failed)
//	past_due -> active               (recovering payment)
//	past_due -> downgraded           (repeat failure or cancellation, plan reverts)
//
// Plan state only moves through Apply with a validated BillingEvent or
// through pending-upgrade expiry; nothing else commits a plan.
type Subscription struct {
	shared.BaseAggregateRoot
	GroupID              uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex"`
	State                SubscriptionState `gorm:"type:varchar(20);not null;default:'none'"`
	CurrentPlanID        *string           `gorm:"type:varchar(64)"` // nil = free tier
	TargetPlanID         *string           `gorm:"type:varchar(64)"` // set while pending_upgrade
	PriorPlanID          *string           `gorm:"type:varchar(64)"` // tier to revert to on downgrade
	StripeSubscriptionID string            `gorm:"type:varchar(100);index"`
	LastAppliedSeq       int64             `gorm:"not null;default:0"`
	PendingSince         *time.Time
	CheckoutURL          string `gorm:"type:varchar(500)"` // hosted checkout for a pending upgrade
}

// TableName returns the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}

// NewSubscription creates the initial (free tier) subscription for a group
func NewSubscription(groupID uuid.UUID) *Subscription {
	return &Subscription{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		GroupID:           groupID,
		State:             SubscriptionStateNone,
	}
}

// EffectivePlanID returns the committed plan, falling back to the free tier
func (s *Subscription) EffectivePlanID() string {
	if s.CurrentPlanID == nil {
		return identity.FreePlanID
	}
	return *s.CurrentPlanID
}

// InitiateUpgrade records an upgrade intent without changing the committed
// plan. The plan commits only when a confirming payment event arrives.
func (s *Subscription) InitiateUpgrade(targetPlanID, checkoutURL string) error {
	if err := identity.ValidatePlanID(targetPlanID); err != nil {
		return err
	}

	switch s.State {
	case SubscriptionStateNone, SubscriptionStateActive, SubscriptionStateDowngraded:
	case SubscriptionStatePendingUpgrade:
		// Re-initiating replaces the previous intent
	default:
		return shared.NewDomainError("INVALID_STATE", "Cannot initiate upgrade while subscription is "+string(s.State))
	}

	now := time.Now()
	s.State = SubscriptionStatePendingUpgrade
	s.TargetPlanID = &targetPlanID
	s.PendingSince = &now
	s.CheckoutURL = checkoutURL
	s.UpdatedAt = now
	s.IncrementVersion()

	s.AddDomainEvent(NewUpgradeInitiatedEvent(s, targetPlanID))

	return nil
}

// ApplyResult describes the outcome of applying a billing event
type ApplyResult struct {
	OldState    SubscriptionState
	NewState    SubscriptionState
	OldPlanID   string
	NewPlanID   string
	PlanChanged bool
}

// Apply transitions the state machine with a normalized billing event.
// Ordering is resolved by the event's own sequence: events at or below the
// last applied sequence fail with shared.ErrStaleEvent and change nothing.
// Idempotency by event id is enforced by the reconciler before Apply.
func (s *Subscription) Apply(event *BillingEvent) (*ApplyResult, error) {
	if !event.IsValid() {
		return nil, shared.NewDomainError("INVALID_EVENT", "Billing event is missing required fields")
	}
	if event.Sequence <= s.LastAppliedSeq {
		return nil, shared.ErrStaleEvent
	}

	result := &ApplyResult{
		OldState:  s.State,
		OldPlanID: s.EffectivePlanID(),
	}

	switch event.Type {
	case BillingEventPaymentSucceeded:
		s.applyPaymentSucceeded(event)
	case BillingEventPaymentFailed:
		s.applyPaymentFailed()
	case BillingEventCancelled:
		s.applyCancelled()
	}

	s.LastAppliedSeq = event.Sequence
	if event.SubscriptionID != "" {
		s.StripeSubscriptionID = event.SubscriptionID
	}
	s.UpdatedAt = time.Now()
	s.IncrementVersion()

	result.NewState = s.State
	result.NewPlanID = s.EffectivePlanID()
	result.PlanChanged = result.OldPlanID != result.NewPlanID

	if result.OldState != result.NewState || result.PlanChanged {
		s.AddDomainEvent(NewSubscriptionStateChangedEvent(s, result.OldState, result.NewState))
	}

	return result, nil
}

func (s *Subscription) applyPaymentSucceeded(event *BillingEvent) {
	// Resolve the plan the payment confirms: explicit plan metadata wins,
	// then the recorded upgrade target, then the current plan (renewal).
	planID := s.EffectivePlanID()
	if event.PlanID != "" {
		planID = event.PlanID
	} else if s.State == SubscriptionStatePendingUpgrade && s.TargetPlanID != nil {
		planID = *s.TargetPlanID
	}

	s.commitPlan(planID)
	s.State = SubscriptionStateActive
	s.clearPending()
}

func (s *Subscription) applyPaymentFailed() {
	switch s.State {
	case SubscriptionStateActive:
		s.State = SubscriptionStatePastDue
	case SubscriptionStatePastDue:
		// Second failure downgrades to the prior tier
		s.revertPlan()
		s.State = SubscriptionStateDowngraded
	case SubscriptionStatePendingUpgrade:
		// Checkout never completed; fall back to the committed plan's state
		s.clearPending()
		if s.CurrentPlanID == nil {
			s.State = SubscriptionStateNone
		} else {
			s.State = SubscriptionStateActive
		}
	}
}

func (s *Subscription) applyCancelled() {
	s.revertPlan()
	s.State = SubscriptionStateDowngraded
	s.clearPending()
	s.StripeSubscriptionID = ""
}

// commitPlan records a newly paid plan, remembering the previous tier
func (s *Subscription) commitPlan(planID string) {
	if s.EffectivePlanID() == planID {
		return
	}
	s.PriorPlanID = s.CurrentPlanID
	if planID == identity.FreePlanID {
		s.CurrentPlanID = nil
	} else {
		s.CurrentPlanID = &planID
	}
}

// revertPlan drops back to the prior tier (free when none was recorded)
func (s *Subscription) revertPlan() {
	s.CurrentPlanID = s.PriorPlanID
	s.PriorPlanID = nil
}

func (s *Subscription) clearPending() {
	s.TargetPlanID = nil
	s.PendingSince = nil
	s.CheckoutURL = ""
}

// IsPendingExpired reports whether an upgrade intent has been abandoned.
// Pending upgrades with no confirming payment inside the window are expired
// by the scheduler rather than lingering forever.
func (s *Subscription) IsPendingExpired(window time.Duration) bool {
	if s.State != SubscriptionStatePendingUpgrade || s.PendingSince == nil {
		return false
	}
	return time.Since(*s.PendingSince) > window
}

// ExpirePending abandons a pending upgrade and restores the prior state
func (s *Subscription) ExpirePending() error {
	if s.State != SubscriptionStatePendingUpgrade {
		return shared.NewDomainError("INVALID_STATE", "Subscription has no pending upgrade")
	}

	oldState := s.State
	s.clearPending()
	if s.CurrentPlanID == nil {
		s.State = SubscriptionStateNone
	} else {
		s.State = SubscriptionStateActive
	}
	s.UpdatedAt = time.Now()
	s.IncrementVersion()

	s.AddDomainEvent(NewSubscriptionStateChangedEvent(s, oldState, s.State))

	return nil
}

// SubscriptionRepository defines the interface for subscription persistence
type SubscriptionRepository interface {
	// FindByGroupID finds the subscription for a group
	FindByGroupID(ctx context.Context, groupID uuid.UUID) (*Subscription, error)

	// FindByStripeSubscriptionID finds a subscription by provider reference
	FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error)

	// FindPendingSince returns subscriptions pending an upgrade since before the cutoff
	FindPendingSince(ctx context.Context, cutoff time.Time) ([]Subscription, error)

	// Save creates or updates a subscription
	Save(ctx context.Context, sub *Subscription) error
}
