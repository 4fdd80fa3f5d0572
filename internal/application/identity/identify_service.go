package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/userstack/backend/internal/domain/entitlement"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"github.com/userstack/backend/internal/infrastructure/auth"
	"go.uber.org/zap"
)

// TokenVerifier validates a provider token and extracts identity claims
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*auth.IdentityClaims, error)
}

// IdentifyServiceConfig contains configuration for IdentifyService
type IdentifyServiceConfig struct {
	Verifier   TokenVerifier
	Users      identity.UserRepository
	Groups     identity.GroupRepository
	Sessions   identity.SessionStore
	Flags      entitlement.FlagCache
	EventBus   shared.EventBus
	SessionTTL time.Duration
	Logger     *zap.Logger
}

// IdentifyService implements the client-facing session lifecycle:
// identify exchanges a provider token for a session, refresh extends it,
// flags answer entitlement checks, and logout revokes it.
type IdentifyService struct {
	verifier   TokenVerifier
	users      identity.UserRepository
	groups     identity.GroupRepository
	sessions   identity.SessionStore
	flags      entitlement.FlagCache
	eventBus   shared.EventBus
	sessionTTL time.Duration
	logger     *zap.Logger
}

// NewIdentifyService creates a new IdentifyService
func NewIdentifyService(cfg IdentifyServiceConfig) *IdentifyService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdentifyService{
		verifier:   cfg.Verifier,
		users:      cfg.Users,
		groups:     cfg.Groups,
		sessions:   cfg.Sessions,
		flags:      cfg.Flags,
		eventBus:   cfg.EventBus,
		sessionTTL: ttl,
		logger:     logger,
	}
}

// IdentifyResult is the outcome of a successful identify or refresh
type IdentifyResult struct {
	SessionID string              `json:"session_id"`
	ExpiresAt time.Time           `json:"expires_at"`
	UserID    string              `json:"user_id"`
	GroupID   string              `json:"group_id"`
	GroupKey  string              `json:"group_key"`
	PlanID    string              `json:"plan_id"`
	Flags     entitlement.FlagSet `json:"flags"`
}

// Identify verifies a provider token, provisions the user and group on
// first sight, and opens a session. An explicit groupHint takes precedence
// over the token's group claim when resolving the group. Verification
// failures surface as shared.ErrInvalidToken; no session is created on
// any failure.
func (s *IdentifyService) Identify(ctx context.Context, rawToken, groupHint string) (*IdentifyResult, error) {
	claims, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	user, group, err := s.resolveIdentity(ctx, claims, groupHint)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(ctx, user.ID, group.ID, s.sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	flags, err := s.flags.Flags(ctx, group.ID)
	if err != nil {
		// A failed identify must not leave a live session behind
		if revokeErr := s.sessions.Invalidate(ctx, session.ID); revokeErr != nil {
			s.logger.Warn("Failed to revoke session after flag computation failure",
				zap.Error(revokeErr))
		}
		return nil, fmt.Errorf("compute flags: %w", err)
	}

	s.logger.Info("Identified user",
		zap.String("user_id", user.ID.String()),
		zap.String("group_key", group.Key))

	return &IdentifyResult{
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
		UserID:    user.ID.String(),
		GroupID:   group.ID.String(),
		GroupKey:  group.Key,
		PlanID:    group.CurrentPlanID(),
		Flags:     flags,
	}, nil
}

// Refresh extends a live session and returns freshly computed flags.
// The flag cache is bypassed so a refresh always reflects the current
// plan, even if an invalidation was missed.
func (s *IdentifyService) Refresh(ctx context.Context, sessionID string) (*IdentifyResult, error) {
	if err := s.sessions.Touch(ctx, sessionID, s.sessionTTL); err != nil {
		return nil, err
	}

	session, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	group, err := s.groups.FindByID(ctx, session.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}

	if err := s.flags.Invalidate(ctx, group.ID); err != nil {
		s.logger.Warn("Failed to invalidate flag cache on refresh",
			zap.String("group_id", group.ID.String()),
			zap.Error(err))
	}
	flags, err := s.flags.Flags(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("compute flags: %w", err)
	}

	return &IdentifyResult{
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
		UserID:    session.UserID.String(),
		GroupID:   group.ID.String(),
		GroupKey:  group.Key,
		PlanID:    group.CurrentPlanID(),
		Flags:     flags,
	}, nil
}

// GetFlags resolves a session and returns its group's cached flag set
func (s *IdentifyService) GetFlags(ctx context.Context, sessionID string) (entitlement.FlagSet, error) {
	session, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.flags.Flags(ctx, session.GroupID)
}

// Resolve returns the session record for a live session id
func (s *IdentifyService) Resolve(ctx context.Context, sessionID string) (*identity.Session, error) {
	return s.sessions.Lookup(ctx, sessionID)
}

// Logout revokes a single session. Idempotent; other sessions of the
// same user stay live.
func (s *IdentifyService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Invalidate(ctx, sessionID)
}

// resolveIdentity finds or provisions the user and group for verified claims
func (s *IdentifyService) resolveIdentity(ctx context.Context, claims *auth.IdentityClaims, groupHint string) (*identity.User, *identity.Group, error) {
	user, err := s.users.FindBySubject(ctx, claims.Issuer, claims.Subject)
	switch {
	case err == nil:
		group, err := s.groups.FindByID(ctx, user.GroupID)
		if err != nil {
			return nil, nil, fmt.Errorf("load group: %w", err)
		}

		// A hint naming a different group rebinds the user; a user belongs
		// to exactly one group at a time.
		if groupHint != "" && !strings.EqualFold(groupHint, group.Key) {
			group, err = s.resolveGroup(ctx, claims, groupHint)
			if err != nil {
				return nil, nil, err
			}
			user.MoveToGroup(group.ID)
		}

		user.UpdateProfile(claims.Email, claims.Name)
		if err := s.users.Save(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("save user: %w", err)
		}
		return user, group, nil

	case errors.Is(err, shared.ErrNotFound):
		group, err := s.resolveGroup(ctx, claims, groupHint)
		if err != nil {
			return nil, nil, err
		}

		user, err := identity.NewUser(claims.Issuer, claims.Subject, group.ID)
		if err != nil {
			return nil, nil, err
		}
		user.UpdateProfile(claims.Email, claims.Name)
		if err := s.users.Save(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("save user: %w", err)
		}

		s.logger.Info("Provisioned new user",
			zap.String("user_id", user.ID.String()),
			zap.String("group_key", group.Key))

		return user, group, nil

	default:
		return nil, nil, err
	}
}

// resolveGroup finds or creates the group for an identify call. Key
// precedence: explicit hint, then the token's group claim, then a
// personal group derived from the subject id.
func (s *IdentifyService) resolveGroup(ctx context.Context, claims *auth.IdentityClaims, groupHint string) (*identity.Group, error) {
	key := groupHint
	if key == "" {
		key = claims.GroupKey
	}
	if key == "" {
		key = personalGroupKey(claims.Subject)
	}
	key = strings.ToLower(key)

	group, err := s.groups.FindByKey(ctx, key)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	group, err = identity.NewGroup(key, key)
	if err != nil {
		return nil, err
	}
	if err := s.groups.Save(ctx, group); err != nil {
		return nil, fmt.Errorf("save group: %w", err)
	}

	if s.eventBus != nil {
		if events := group.GetDomainEvents(); len(events) > 0 {
			if err := s.eventBus.Publish(ctx, events...); err != nil {
				s.logger.Warn("Failed to publish group events", zap.Error(err))
			}
			group.ClearDomainEvents()
		}
	}

	s.logger.Info("Provisioned new group", zap.String("group_key", group.Key))

	return group, nil
}

// personalGroupKey derives a valid group key from a provider subject id
func personalGroupKey(subject string) string {
	var b strings.Builder
	b.WriteString("user-")
	for _, r := range subject {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	key := b.String()
	if len(key) > 100 {
		key = key[:100]
	}
	return key
}
