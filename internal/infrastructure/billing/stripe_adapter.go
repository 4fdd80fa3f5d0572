package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"go.uber.org/zap"
)

// CheckoutInput describes an upgrade checkout to start on Stripe
type CheckoutInput struct {
	GroupID       uuid.UUID
	GroupKey      string
	CustomerID    string // empty when the group has no Stripe customer yet
	CustomerEmail string
	PlanID        string
	PriceID       string
	SuccessURL    string // optional, defaults to configured URL
	CancelURL     string // optional, defaults to configured URL
}

// CheckoutOutput is the started checkout the caller redirects to
type CheckoutOutput struct {
	SessionID   string
	CustomerID  string
	RedirectURL string
}

// StripeAdapter implements Stripe billing operations for plan upgrades
type StripeAdapter struct {
	config *StripeConfig
	logger *zap.Logger
}

// NewStripeAdapter creates a new Stripe adapter
func NewStripeAdapter(config *StripeConfig, logger *zap.Logger) (*StripeAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.InitStripeClient()

	if logger == nil {
		logger = zap.NewNop()
	}

	return &StripeAdapter{
		config: config,
		logger: logger,
	}, nil
}

// EnsureCustomer returns the group's Stripe customer id, creating the
// customer on first use
func (a *StripeAdapter) EnsureCustomer(ctx context.Context, input CheckoutInput) (string, error) {
	if input.CustomerID != "" {
		return input.CustomerID, nil
	}

	a.logger.Debug("Creating Stripe customer",
		zap.String("group_id", input.GroupID.String()),
		zap.String("email", input.CustomerEmail))

	params := &stripe.CustomerParams{
		Email: stripe.String(input.CustomerEmail),
		Name:  stripe.String(input.GroupKey),
	}
	params.Metadata = map[string]string{
		"group_id":  input.GroupID.String(),
		"group_key": input.GroupKey,
	}

	cust, err := customer.New(params)
	if err != nil {
		a.logger.Error("Failed to create Stripe customer",
			zap.String("group_id", input.GroupID.String()),
			zap.Error(err))
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	a.logger.Info("Created Stripe customer",
		zap.String("group_id", input.GroupID.String()),
		zap.String("customer_id", cust.ID))

	return cust.ID, nil
}

// CreateCheckout starts a subscription checkout session for an upgrade.
// The plan commits only when the confirming webhook event arrives; the
// checkout itself never changes local state.
func (a *StripeAdapter) CreateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutOutput, error) {
	customerID, err := a.EnsureCustomer(ctx, input)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Creating Stripe checkout session",
		zap.String("group_id", input.GroupID.String()),
		zap.String("customer_id", customerID),
		zap.String("plan_id", input.PlanID))

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(input.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(firstNonEmpty(input.SuccessURL, a.config.SuccessURL)),
		CancelURL:  stripe.String(firstNonEmpty(input.CancelURL, a.config.CancelURL)),
	}
	params.Metadata = map[string]string{
		"group_id":  input.GroupID.String(),
		"group_key": input.GroupKey,
		"plan_id":   input.PlanID,
	}
	params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
		Metadata: map[string]string{
			"group_key": input.GroupKey,
			"plan_id":   input.PlanID,
		},
	}

	sess, err := session.New(params)
	if err != nil {
		a.logger.Error("Failed to create Stripe checkout session",
			zap.String("group_id", input.GroupID.String()),
			zap.String("customer_id", customerID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	a.logger.Info("Created Stripe checkout session",
		zap.String("group_id", input.GroupID.String()),
		zap.String("session_id", sess.ID))

	return &CheckoutOutput{
		SessionID:   sess.ID,
		CustomerID:  customerID,
		RedirectURL: sess.URL,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
