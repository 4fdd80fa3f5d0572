package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	domainbilling "github.com/userstack/backend/internal/domain/billing"
	"go.uber.org/zap"
)

// WebhookNormalizer verifies Stripe webhook payloads and translates them
// into provider-neutral billing events. Only the event types the
// subscription state machine consumes produce an event; everything else
// normalizes to nil and is acknowledged without processing.
type WebhookNormalizer struct {
	secret string
	logger *zap.Logger
}

// NewWebhookNormalizer creates a normalizer with the given signing secret
func NewWebhookNormalizer(secret string, logger *zap.Logger) *WebhookNormalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNormalizer{secret: secret, logger: logger}
}

// Normalize verifies the payload signature and maps the Stripe event to a
// BillingEvent. Sequence is the provider-side creation timestamp, which
// orders events regardless of delivery order.
func (n *WebhookNormalizer) Normalize(payload []byte, signature string) (*domainbilling.BillingEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, n.secret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	return n.normalizeEvent(event)
}

func (n *WebhookNormalizer) normalizeEvent(event stripe.Event) (*domainbilling.BillingEvent, error) {
	out := &domainbilling.BillingEvent{
		ID:         event.ID,
		Sequence:   event.Created,
		OccurredAt: time.Unix(event.Created, 0),
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("unmarshal checkout session: %w", err)
		}
		out.Type = domainbilling.BillingEventPaymentSucceeded
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}
		out.GroupKey = sess.Metadata["group_key"]
		out.PlanID = sess.Metadata["plan_id"]

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("unmarshal invoice: %w", err)
		}
		out.Type = domainbilling.BillingEventPaymentSucceeded
		n.fillFromInvoice(out, &inv)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("unmarshal invoice: %w", err)
		}
		out.Type = domainbilling.BillingEventPaymentFailed
		n.fillFromInvoice(out, &inv)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("unmarshal subscription: %w", err)
		}
		out.Type = domainbilling.BillingEventCancelled
		out.SubscriptionID = sub.ID
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		out.GroupKey = sub.Metadata["group_key"]

	default:
		n.logger.Debug("Ignoring unhandled webhook event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return nil, nil
	}

	return out, nil
}

func (n *WebhookNormalizer) fillFromInvoice(out *domainbilling.BillingEvent, inv *stripe.Invoice) {
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
		out.GroupKey = inv.Subscription.Metadata["group_key"]
		out.PlanID = inv.Subscription.Metadata["plan_id"]
	}
	if out.GroupKey == "" {
		out.GroupKey = inv.Metadata["group_key"]
	}
}
