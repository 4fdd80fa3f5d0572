package billing

import "time"

// BillingEventType classifies normalized billing-provider notifications
type BillingEventType string

const (
	BillingEventPaymentSucceeded BillingEventType = "payment_succeeded"
	BillingEventPaymentFailed    BillingEventType = "payment_failed"
	BillingEventCancelled        BillingEventType = "cancelled"
)

// BillingEvent is a provider-neutral subscription notification.
// The provider adapter normalizes raw webhook payloads into this shape
// before the reconciler sees them.
//
// ID is the provider's event id and serves as the idempotency key:
// applying the same id twice must be a no-op. Sequence orders events by
// their creation at the provider, not by arrival; an event whose sequence
// is not newer than the applied state is discarded as stale.
type BillingEvent struct {
	ID             string           `json:"id"`
	Type           BillingEventType `json:"type"`
	CustomerID     string           `json:"customer_id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	GroupKey       string           `json:"group_key,omitempty"`
	PlanID         string           `json:"plan_id,omitempty"`
	Sequence       int64            `json:"sequence"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// IsValid reports whether the event carries the minimum required fields
func (e *BillingEvent) IsValid() bool {
	if e.ID == "" || e.Sequence <= 0 {
		return false
	}
	switch e.Type {
	case BillingEventPaymentSucceeded, BillingEventPaymentFailed, BillingEventCancelled:
	default:
		return false
	}
	return e.CustomerID != "" || e.SubscriptionID != "" || e.GroupKey != ""
}
