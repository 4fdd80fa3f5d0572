package billing

import (
	"github.com/userstack/backend/internal/domain/shared"
)

// Event type constants for billing domain events
const (
	EventTypeUpgradeInitiated         = "UpgradeInitiated"
	EventTypeSubscriptionStateChanged = "SubscriptionStateChanged"
)

// Aggregate type constant
const AggregateTypeSubscription = "Subscription"

// UpgradeInitiatedEvent is published when a group starts an upgrade
type UpgradeInitiatedEvent struct {
	shared.BaseDomainEvent
	TargetPlanID string `json:"target_plan_id"`
}

// NewUpgradeInitiatedEvent creates a new UpgradeInitiatedEvent
func NewUpgradeInitiatedEvent(sub *Subscription, targetPlanID string) *UpgradeInitiatedEvent {
	return &UpgradeInitiatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeUpgradeInitiated, AggregateTypeSubscription, sub.ID, sub.GroupID),
		TargetPlanID:    targetPlanID,
	}
}

// SubscriptionStateChangedEvent is published on every state machine transition
type SubscriptionStateChangedEvent struct {
	shared.BaseDomainEvent
	OldState SubscriptionState `json:"old_state"`
	NewState SubscriptionState `json:"new_state"`
	PlanID   string            `json:"plan_id"`
}

// NewSubscriptionStateChangedEvent creates a new SubscriptionStateChangedEvent
func NewSubscriptionStateChangedEvent(sub *Subscription, oldState, newState SubscriptionState) *SubscriptionStateChangedEvent {
	return &SubscriptionStateChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSubscriptionStateChanged, AggregateTypeSubscription, sub.ID, sub.GroupID),
		OldState:        oldState,
		NewState:        newState,
		PlanID:          sub.EffectivePlanID(),
	}
}
