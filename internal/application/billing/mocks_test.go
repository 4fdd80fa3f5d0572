package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	domainbilling "github.com/userstack/backend/internal/domain/billing"
	"github.com/userstack/backend/internal/domain/entitlement"
	"github.com/userstack/backend/internal/domain/identity"
	infrabilling "github.com/userstack/backend/internal/infrastructure/billing"
)

// MockGroupRepository is a mock implementation of GroupRepository
type MockGroupRepository struct {
	mock.Mock
}

func (m *MockGroupRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Group, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Group), args.Error(1)
}

func (m *MockGroupRepository) FindByKey(ctx context.Context, key string) (*identity.Group, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Group), args.Error(1)
}

func (m *MockGroupRepository) FindByStripeCustomerID(ctx context.Context, customerID string) (*identity.Group, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Group), args.Error(1)
}

func (m *MockGroupRepository) Save(ctx context.Context, group *identity.Group) error {
	args := m.Called(ctx, group)
	return args.Error(0)
}

func (m *MockGroupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

func (m *MockUserRepository) FindBySubject(ctx context.Context, issuer, subject string) (*identity.User, error) {
	args := m.Called(ctx, issuer, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.User), args.Error(1)
}

func (m *MockUserRepository) Save(ctx context.Context, user *identity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockPlanRepository is a mock implementation of PlanRepository
type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) FindByID(ctx context.Context, id string) (*identity.Plan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Plan), args.Error(1)
}

func (m *MockPlanRepository) FindAll(ctx context.Context) ([]identity.Plan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]identity.Plan), args.Error(1)
}

func (m *MockPlanRepository) Exists(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockPlanRepository) Save(ctx context.Context, plan *identity.Plan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

// MockSubscriptionRepository is a mock implementation of SubscriptionRepository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) FindByGroupID(ctx context.Context, groupID uuid.UUID) (*domainbilling.Subscription, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainbilling.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*domainbilling.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainbilling.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindPendingSince(ctx context.Context, cutoff time.Time) ([]domainbilling.Subscription, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domainbilling.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Save(ctx context.Context, sub *domainbilling.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

// MockCheckoutStarter is a mock implementation of CheckoutStarter
type MockCheckoutStarter struct {
	mock.Mock
}

func (m *MockCheckoutStarter) CreateCheckout(ctx context.Context, input infrabilling.CheckoutInput) (*infrabilling.CheckoutOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*infrabilling.CheckoutOutput), args.Error(1)
}

// fakeFlagCache records invalidations for assertions
type fakeFlagCache struct {
	invalidated []uuid.UUID
}

func (f *fakeFlagCache) Flags(ctx context.Context, groupID uuid.UUID) (entitlement.FlagSet, error) {
	return entitlement.FlagSet{}, nil
}

func (f *fakeFlagCache) Invalidate(ctx context.Context, groupID uuid.UUID) error {
	f.invalidated = append(f.invalidated, groupID)
	return nil
}

func (f *fakeFlagCache) Close() error {
	return nil
}
