package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/userstack/backend/internal/domain/entitlement"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"github.com/userstack/backend/internal/infrastructure/auth"
	"github.com/userstack/backend/internal/infrastructure/session"
)

// fakeVerifier returns canned claims per raw token
type fakeVerifier struct {
	claims map[string]*auth.IdentityClaims
}

func (v *fakeVerifier) Verify(ctx context.Context, rawToken string) (*auth.IdentityClaims, error) {
	if c, ok := v.claims[rawToken]; ok {
		return c, nil
	}
	return nil, shared.ErrInvalidToken
}

// memUserRepo is a stateful in-memory user repository
type memUserRepo struct {
	users map[uuid.UUID]*identity.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*identity.User)}
}

func (r *memUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	if u, ok := r.users[id]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, shared.ErrNotFound
}

func (r *memUserRepo) FindBySubject(ctx context.Context, issuer, subject string) (*identity.User, error) {
	for _, u := range r.users {
		if u.Issuer == issuer && u.Subject == subject {
			copy := *u
			return &copy, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memUserRepo) Save(ctx context.Context, user *identity.User) error {
	copy := *user
	r.users[user.ID] = &copy
	return nil
}

func (r *memUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.users, id)
	return nil
}

// memGroupRepo is a stateful in-memory group repository
type memGroupRepo struct {
	groups map[uuid.UUID]*identity.Group
}

func newMemGroupRepo() *memGroupRepo {
	return &memGroupRepo{groups: make(map[uuid.UUID]*identity.Group)}
}

func (r *memGroupRepo) FindByID(ctx context.Context, id uuid.UUID) (*identity.Group, error) {
	if g, ok := r.groups[id]; ok {
		copy := *g
		return &copy, nil
	}
	return nil, shared.ErrNotFound
}

func (r *memGroupRepo) FindByKey(ctx context.Context, key string) (*identity.Group, error) {
	for _, g := range r.groups {
		if g.Key == key {
			copy := *g
			return &copy, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memGroupRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (*identity.Group, error) {
	for _, g := range r.groups {
		if g.StripeCustomerID == customerID && customerID != "" {
			copy := *g
			return &copy, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memGroupRepo) Save(ctx context.Context, group *identity.Group) error {
	copy := *group
	r.groups[group.ID] = &copy
	return nil
}

func (r *memGroupRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.groups, id)
	return nil
}

// countingFlagCache serves canned flags and counts computations
type countingFlagCache struct {
	flags       map[uuid.UUID]entitlement.FlagSet
	computes    int
	invalidated int
	failWith    error
}

func (c *countingFlagCache) Flags(ctx context.Context, groupID uuid.UUID) (entitlement.FlagSet, error) {
	c.computes++
	if c.failWith != nil {
		return nil, c.failWith
	}
	if f, ok := c.flags[groupID]; ok {
		return f.Clone(), nil
	}
	return entitlement.FlagSet{}, nil
}

func (c *countingFlagCache) Invalidate(ctx context.Context, groupID uuid.UUID) error {
	c.invalidated++
	return nil
}

func (c *countingFlagCache) Close() error {
	return nil
}

// recordingSessions wraps a session store and remembers created ids
type recordingSessions struct {
	identity.SessionStore
	created []string
}

func (r *recordingSessions) Create(ctx context.Context, userID, groupID uuid.UUID, ttl time.Duration) (*identity.Session, error) {
	s, err := r.SessionStore.Create(ctx, userID, groupID, ttl)
	if err == nil {
		r.created = append(r.created, s.ID)
	}
	return s, err
}

type identifyFixture struct {
	svc      *IdentifyService
	users    *memUserRepo
	groups   *memGroupRepo
	flags    *countingFlagCache
	sessions *recordingSessions
}

func newIdentifyFixture(t *testing.T, ttl time.Duration) *identifyFixture {
	t.Helper()

	verifier := &fakeVerifier{claims: map[string]*auth.IdentityClaims{
		"token-jordan": {
			Subject:  "sub-jordan",
			Issuer:   "https://idp.example.com",
			Email:    "jordan@acme.test",
			Name:     "Jordan",
			GroupKey: "acme",
		},
		"token-no-group": {
			Subject: "sub-solo",
			Issuer:  "https://idp.example.com",
			Email:   "solo@example.test",
		},
	}}

	users := newMemUserRepo()
	groups := newMemGroupRepo()
	flags := &countingFlagCache{flags: make(map[uuid.UUID]entitlement.FlagSet)}
	store := session.NewInMemoryStore(0)
	t.Cleanup(func() { store.Close() })
	sessions := &recordingSessions{SessionStore: store}

	svc := NewIdentifyService(IdentifyServiceConfig{
		Verifier:   verifier,
		Users:      users,
		Groups:     groups,
		Sessions:   sessions,
		Flags:      flags,
		SessionTTL: ttl,
	})

	return &identifyFixture{svc: svc, users: users, groups: groups, flags: flags, sessions: sessions}
}

func TestIdentifyProvisionsUserAndGroup(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)
	ctx := context.Background()

	result, err := f.svc.Identify(ctx, "token-jordan", "")
	require.NoError(t, err)

	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "acme", result.GroupKey)
	assert.Equal(t, identity.FreePlanID, result.PlanID)
	assert.NotNil(t, result.Flags)

	group, err := f.groups.FindByKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, result.GroupID, group.ID.String())

	user, err := f.users.FindBySubject(ctx, "https://idp.example.com", "sub-jordan")
	require.NoError(t, err)
	assert.Equal(t, "jordan@acme.test", user.Email)
}

func TestIdentifyReusesExistingGroup(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)
	ctx := context.Background()

	first, err := f.svc.Identify(ctx, "token-jordan", "")
	require.NoError(t, err)
	second, err := f.svc.Identify(ctx, "token-jordan", "")
	require.NoError(t, err)

	// Two identifies, one group, two independent sessions
	assert.Equal(t, first.GroupID, second.GroupID)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Len(t, f.groups.groups, 1)
	assert.Len(t, f.users.users, 1)
}

func TestIdentifyInvalidToken(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)

	_, err := f.svc.Identify(context.Background(), "garbage", "")
	assert.ErrorIs(t, err, shared.ErrInvalidToken)

	// No state was created
	assert.Empty(t, f.users.users)
	assert.Empty(t, f.groups.groups)
}

func TestIdentifyFlagFailureLeavesNoSession(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)
	ctx := context.Background()

	f.flags.failWith = errors.New("flag backend down")

	_, err := f.svc.Identify(ctx, "token-jordan", "")
	require.Error(t, err)

	// The session created before the failure was revoked
	require.Len(t, f.sessions.created, 1)
	_, err = f.sessions.Lookup(ctx, f.sessions.created[0])
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestIdentifyWithoutGroupClaimUsesPersonalGroup(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)

	result, err := f.svc.Identify(context.Background(), "token-no-group", "")
	require.NoError(t, err)
	assert.Equal(t, "user-sub-solo", result.GroupKey)
}

func TestIdentifyGroupHintOverridesClaim(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)
	ctx := context.Background()

	result, err := f.svc.Identify(ctx, "token-jordan", "Beta-Testers")
	require.NoError(t, err)
	assert.Equal(t, "beta-testers", result.GroupKey)

	// A later hint rebinds the existing user to the hinted group
	moved, err := f.svc.Identify(ctx, "token-jordan", "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", moved.GroupKey)

	user, err := f.users.FindBySubject(ctx, "https://idp.example.com", "sub-jordan")
	require.NoError(t, err)
	assert.Equal(t, moved.GroupID, user.GroupID.String())
}

func TestRefreshExtendsSessionAndRecomputesFlags(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)
	ctx := context.Background()

	identified, err := f.svc.Identify(ctx, "token-jordan", "")
	require.NoError(t, err)
	computesBefore := f.flags.computes

	refreshed, err := f.svc.Refresh(ctx, identified.SessionID)
	require.NoError(t, err)

	assert.Equal(t, identified.SessionID, refreshed.SessionID)
	assert.Greater(t, refreshed.ExpiresAt, time.Now().Add(50*time.Minute))

	// Refresh bypasses the cache: one invalidation, one recomputation
	assert.Equal(t, 1, f.flags.invalidated)
	assert.Equal(t, computesBefore+1, f.flags.computes)
}

func TestRefreshUnknownSession(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)

	_, err := f.svc.Refresh(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestRefreshExpiredSession(t *testing.T) {
	f := newIdentifyFixture(t, 10*time.Millisecond)
	ctx := context.Background()

	identified, err := f.svc.Identify(ctx, "token-jordan", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = f.svc.Refresh(ctx, identified.SessionID)
	assert.ErrorIs(t, err, shared.ErrSessionExpired)
}

func TestGetFlagsForSession(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)
	ctx := context.Background()

	identified, err := f.svc.Identify(ctx, "token-jordan", "")
	require.NoError(t, err)

	groupID, err := uuid.Parse(identified.GroupID)
	require.NoError(t, err)
	f.flags.flags[groupID] = entitlement.FlagSet{"premium_widget": true}

	flags, err := f.svc.GetFlags(ctx, identified.SessionID)
	require.NoError(t, err)
	assert.True(t, flags.Enabled("premium_widget"))
	assert.False(t, flags.Enabled("unknown_key"))
}

func TestLogoutRevokesOnlyOneSession(t *testing.T) {
	f := newIdentifyFixture(t, time.Hour)
	ctx := context.Background()

	a, err := f.svc.Identify(ctx, "token-jordan", "")
	require.NoError(t, err)
	b, err := f.svc.Identify(ctx, "token-jordan", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, a.SessionID))

	_, err = f.svc.GetFlags(ctx, a.SessionID)
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	_, err = f.svc.GetFlags(ctx, b.SessionID)
	assert.NoError(t, err)

	// Logout is idempotent
	assert.NoError(t, f.svc.Logout(ctx, a.SessionID))
}
