package identity

import (
	"github.com/userstack/backend/internal/domain/shared"
)

// Event type constants for identity domain events
const (
	EventTypeGroupCreated       = "GroupCreated"
	EventTypeGroupPlanChanged   = "GroupPlanChanged"
	EventTypeGroupStatusChanged = "GroupStatusChanged"
)

// Aggregate type constant
const AggregateTypeGroup = "Group"

// GroupCreatedEvent is published when a group is created on first identify
type GroupCreatedEvent struct {
	shared.BaseDomainEvent
	Key  string `json:"key"`
	Name string `json:"name"`
}

// NewGroupCreatedEvent creates a new GroupCreatedEvent
func NewGroupCreatedEvent(group *Group) *GroupCreatedEvent {
	return &GroupCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeGroupCreated, AggregateTypeGroup, group.ID, group.ID),
		Key:             group.Key,
		Name:            group.Name,
	}
}

// GroupPlanChangedEvent is published when a group's plan commitment changes
type GroupPlanChangedEvent struct {
	shared.BaseDomainEvent
	OldPlanID string `json:"old_plan_id"`
	NewPlanID string `json:"new_plan_id"`
}

// NewGroupPlanChangedEvent creates a new GroupPlanChangedEvent
func NewGroupPlanChangedEvent(group *Group, oldPlanID, newPlanID string) *GroupPlanChangedEvent {
	return &GroupPlanChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeGroupPlanChanged, AggregateTypeGroup, group.ID, group.ID),
		OldPlanID:       oldPlanID,
		NewPlanID:       newPlanID,
	}
}

// GroupStatusChangedEvent is published when a group is suspended or reactivated
type GroupStatusChangedEvent struct {
	shared.BaseDomainEvent
	OldStatus GroupStatus `json:"old_status"`
	NewStatus GroupStatus `json:"new_status"`
}

// NewGroupStatusChangedEvent creates a new GroupStatusChangedEvent
func NewGroupStatusChangedEvent(group *Group, oldStatus, newStatus GroupStatus) *GroupStatusChangedEvent {
	return &GroupStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeGroupStatusChanged, AggregateTypeGroup, group.ID, group.ID),
		OldStatus:       oldStatus,
		NewStatus:       newStatus,
	}
}
