package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	domainbilling "github.com/userstack/backend/internal/domain/billing"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	infrabilling "github.com/userstack/backend/internal/infrastructure/billing"
	"go.uber.org/zap"
)

// CheckoutStarter starts a hosted checkout at the billing provider
type CheckoutStarter interface {
	CreateCheckout(ctx context.Context, input infrabilling.CheckoutInput) (*infrabilling.CheckoutOutput, error)
}

// UpgradeServiceConfig contains configuration for UpgradeService
type UpgradeServiceConfig struct {
	Groups        identity.GroupRepository
	Users         identity.UserRepository
	Plans         identity.PlanRepository
	Subscriptions domainbilling.SubscriptionRepository
	Checkout      CheckoutStarter
	EventBus      shared.EventBus
	Logger        *zap.Logger
}

// UpgradeService starts plan upgrades. Starting an upgrade never changes
// the committed plan; the group stays on its current tier until the
// reconciler applies a confirming payment event.
type UpgradeService struct {
	groups        identity.GroupRepository
	users         identity.UserRepository
	plans         identity.PlanRepository
	subscriptions domainbilling.SubscriptionRepository
	checkout      CheckoutStarter
	eventBus      shared.EventBus
	logger        *zap.Logger
}

// NewUpgradeService creates a new UpgradeService
func NewUpgradeService(cfg UpgradeServiceConfig) *UpgradeService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UpgradeService{
		groups:        cfg.Groups,
		users:         cfg.Users,
		plans:         cfg.Plans,
		subscriptions: cfg.Subscriptions,
		checkout:      cfg.Checkout,
		eventBus:      cfg.EventBus,
		logger:        logger,
	}
}

// UpgradeInput describes an upgrade request from an identified user
type UpgradeInput struct {
	UserID     uuid.UUID
	GroupID    uuid.UUID
	PlanID     string
	SuccessURL string // optional override for the checkout success redirect
	CancelURL  string // optional override for the checkout cancel redirect
}

// UpgradeOutput is the started upgrade the caller redirects to
type UpgradeOutput struct {
	RedirectURL string `json:"redirect_url"`
	PlanID      string `json:"plan_id"`
}

// StartUpgrade validates the target plan, records the upgrade intent, and
// returns the provider checkout URL.
// Unknown plan ids fail with shared.ErrUnknownPlan before any state changes.
func (s *UpgradeService) StartUpgrade(ctx context.Context, input UpgradeInput) (*UpgradeOutput, error) {
	if err := identity.ValidatePlanID(input.PlanID); err != nil {
		return nil, shared.ErrUnknownPlan
	}

	plan, err := s.plans.FindByID(ctx, input.PlanID)
	if err != nil {
		if errors.Is(err, shared.ErrUnknownPlan) || errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUnknownPlan
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan.StripePriceID == "" {
		// The free tier is not a checkout target
		return nil, shared.ErrUnknownPlan
	}

	group, err := s.groups.FindByID(ctx, input.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}

	sub, err := s.subscriptions.FindByGroupID(ctx, group.ID)
	if errors.Is(err, shared.ErrNotFound) {
		sub = domainbilling.NewSubscription(group.ID)
	} else if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	email := ""
	if user, err := s.users.FindByID(ctx, input.UserID); err == nil {
		email = user.Email
	}

	checkout, err := s.checkout.CreateCheckout(ctx, infrabilling.CheckoutInput{
		GroupID:       group.ID,
		GroupKey:      group.Key,
		CustomerID:    group.StripeCustomerID,
		CustomerEmail: email,
		PlanID:        plan.ID,
		PriceID:       plan.StripePriceID,
		SuccessURL:    input.SuccessURL,
		CancelURL:     input.CancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("start checkout: %w", err)
	}

	if err := sub.InitiateUpgrade(plan.ID, checkout.RedirectURL); err != nil {
		return nil, err
	}
	if err := s.subscriptions.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	if group.StripeCustomerID != checkout.CustomerID {
		group.SetStripeCustomerID(checkout.CustomerID)
		if err := s.groups.Save(ctx, group); err != nil {
			return nil, fmt.Errorf("save group: %w", err)
		}
	}

	if s.eventBus != nil {
		if events := sub.GetDomainEvents(); len(events) > 0 {
			if err := s.eventBus.Publish(ctx, events...); err != nil {
				s.logger.Warn("Failed to publish upgrade events", zap.Error(err))
			}
			sub.ClearDomainEvents()
		}
	}

	s.logger.Info("Started plan upgrade",
		zap.String("group_id", group.ID.String()),
		zap.String("plan_id", plan.ID))

	return &UpgradeOutput{
		RedirectURL: checkout.RedirectURL,
		PlanID:      plan.ID,
	}, nil
}
