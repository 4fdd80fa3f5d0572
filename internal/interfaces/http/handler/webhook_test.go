package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
	billingapp "github.com/userstack/backend/internal/application/billing"
	domainbilling "github.com/userstack/backend/internal/domain/billing"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	infrabilling "github.com/userstack/backend/internal/infrastructure/billing"
	"github.com/userstack/backend/internal/infrastructure/cache"
)

const testWebhookSecret = "whsec_test_secret"

// stubSubscriptionRepo is an in-memory billing.SubscriptionRepository
type stubSubscriptionRepo struct {
	subs map[uuid.UUID]*domainbilling.Subscription
}

func (r *stubSubscriptionRepo) FindByGroupID(ctx context.Context, groupID uuid.UUID) (*domainbilling.Subscription, error) {
	if s, ok := r.subs[groupID]; ok {
		return s, nil
	}
	return nil, shared.ErrNotFound
}

func (r *stubSubscriptionRepo) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*domainbilling.Subscription, error) {
	for _, s := range r.subs {
		if s.StripeSubscriptionID == subscriptionID && subscriptionID != "" {
			return s, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *stubSubscriptionRepo) FindPendingSince(ctx context.Context, cutoff time.Time) ([]domainbilling.Subscription, error) {
	return nil, nil
}

func (r *stubSubscriptionRepo) Save(ctx context.Context, sub *domainbilling.Subscription) error {
	r.subs[sub.GroupID] = sub
	return nil
}

type webhookFixture struct {
	engine *gin.Engine
	groups *stubGroupRepo
	subs   *stubSubscriptionRepo
	group  *identity.Group
}

func setupWebhookRouter(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	group, err := identity.NewGroup("acme", "Acme Corp")
	require.NoError(t, err)
	group.SetStripeCustomerID("cus_acme")

	groups := &stubGroupRepo{groups: map[uuid.UUID]*identity.Group{group.ID: group}}
	subs := &stubSubscriptionRepo{subs: make(map[uuid.UUID]*domainbilling.Subscription)}

	idem := cache.NewInMemoryIdempotencyStore(nil)
	t.Cleanup(func() { idem.Close() })

	reconciler := billingapp.NewReconciler(billingapp.ReconcilerConfig{
		Groups:           groups,
		Subscriptions:    subs,
		IdempotencyStore: idem,
		FlagCache:        &stubFlagCache{},
	})

	engine := gin.New()
	NewWebhookHandler(infrabilling.NewWebhookNormalizer(testWebhookSecret, nil), reconciler).RegisterRoutes(engine)

	return &webhookFixture{engine: engine, groups: groups, subs: subs, group: group}
}

// signedEvent builds a Stripe event payload signed with the test secret
func signedEvent(t *testing.T, eventID, eventType string, created int64, dataObject string) (payload []byte, signature string) {
	t.Helper()
	raw := fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"api_version": "2024-11-20.acacia",
		"created": %d,
		"type": %q,
		"data": {"object": %s}
	}`, eventID, created, eventType, dataObject)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(raw),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func postWebhook(t *testing.T, engine *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(string(payload)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func checkoutCompletedObject() string {
	return `{
		"id": "cs_1",
		"object": "checkout.session",
		"customer": {"id": "cus_acme"},
		"subscription": {"id": "sub_1", "metadata": {}},
		"metadata": {"group_key": "acme", "plan_id": "plan_ABCDWXYZ"}
	}`
}

func TestWebhookCommitsPlanOnCheckoutCompleted(t *testing.T) {
	f := setupWebhookRouter(t)

	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed", 100, checkoutCompletedObject())
	w := postWebhook(t, f.engine, payload, sig)
	require.Equal(t, http.StatusOK, w.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	assert.Equal(t, "evt_1", resp.EventID)
	assert.Empty(t, resp.Message)

	group, err := f.groups.FindByID(context.Background(), f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan_ABCDWXYZ", group.CurrentPlanID())

	sub, err := f.subs.FindByGroupID(context.Background(), f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, domainbilling.SubscriptionStateActive, sub.State)
}

func TestWebhookDuplicateEventAcknowledged(t *testing.T) {
	f := setupWebhookRouter(t)

	payload, sig := signedEvent(t, "evt_1", "checkout.session.completed", 100, checkoutCompletedObject())
	w := postWebhook(t, f.engine, payload, sig)
	require.Equal(t, http.StatusOK, w.Code)

	w = postWebhook(t, f.engine, payload, sig)
	require.Equal(t, http.StatusOK, w.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	assert.NotEmpty(t, resp.Message)
}

func TestWebhookUnhandledEventTypeAcknowledged(t *testing.T) {
	f := setupWebhookRouter(t)

	payload, sig := signedEvent(t, "evt_2", "customer.created", 100, `{"id": "cus_other", "object": "customer"}`)
	w := postWebhook(t, f.engine, payload, sig)

	require.Equal(t, http.StatusOK, w.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
}

func TestWebhookBadSignature(t *testing.T) {
	f := setupWebhookRouter(t)

	payload, _ := signedEvent(t, "evt_3", "checkout.session.completed", 100, checkoutCompletedObject())
	w := postWebhook(t, f.engine, payload, "t=1,v1=deadbeef")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookMissingSignature(t *testing.T) {
	f := setupWebhookRouter(t)

	payload, _ := signedEvent(t, "evt_4", "checkout.session.completed", 100, checkoutCompletedObject())
	w := postWebhook(t, f.engine, payload, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
