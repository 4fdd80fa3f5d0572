package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/userstack/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// IdentityClaims are the claims extracted from a verified provider token
type IdentityClaims struct {
	Subject  string
	Issuer   string
	Email    string
	Name     string
	GroupKey string
}

// providerClaims is the raw claim shape issued by the identity provider
type providerClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Name     string `json:"name"`
	GroupKey string `json:"group"`
}

// TokenVerifier validates provider-issued JWTs against the published key set.
// Every failure mode a caller can trigger with a bad token maps to
// shared.ErrInvalidToken; only provider unavailability surfaces as
// shared.ErrUpstreamTimeout.
type TokenVerifier struct {
	issuer    string
	audience  string
	jwks      *JWKSCache
	parser    *jwt.Parser
	clockSkew time.Duration
	logger    *zap.Logger
}

// VerifierOption is a functional option for configuring the verifier
type VerifierOption func(*TokenVerifier)

// WithVerifierLogger sets the logger
func WithVerifierLogger(logger *zap.Logger) VerifierOption {
	return func(v *TokenVerifier) {
		v.logger = logger
	}
}

// WithClockSkew sets the leeway allowed on time-based claims
func WithClockSkew(skew time.Duration) VerifierOption {
	return func(v *TokenVerifier) {
		v.clockSkew = skew
	}
}

// NewTokenVerifier creates a verifier bound to one issuer and key set
func NewTokenVerifier(issuer, audience string, jwks *JWKSCache, opts ...VerifierOption) *TokenVerifier {
	v := &TokenVerifier{
		issuer:    issuer,
		audience:  audience,
		jwks:      jwks,
		clockSkew: 30 * time.Second,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(v)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.clockSkew),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	v.parser = jwt.NewParser(parserOpts...)

	return v
}

// Verify validates a raw token and extracts the identity claims.
// A signature failure triggers a single key set refresh and one retry,
// which covers tokens signed by a freshly rotated key.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (*IdentityClaims, error) {
	claims, err := v.parse(ctx, rawToken)
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		if refreshErr := v.jwks.Refresh(ctx); refreshErr != nil {
			return nil, refreshErr
		}
		claims, err = v.parse(ctx, rawToken)
	}
	if err != nil {
		if errors.Is(err, shared.ErrUpstreamTimeout) {
			return nil, err
		}
		v.logger.Debug("Token verification failed", zap.Error(err))
		return nil, shared.ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, shared.ErrInvalidToken
	}

	return &IdentityClaims{
		Subject:  claims.Subject,
		Issuer:   claims.Issuer,
		Email:    claims.Email,
		Name:     claims.Name,
		GroupKey: claims.GroupKey,
	}, nil
}

func (v *TokenVerifier) parse(ctx context.Context, rawToken string) (*providerClaims, error) {
	claims := &providerClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, shared.ErrInvalidToken
		}
		return v.jwks.Key(ctx, kid)
	})
	if err != nil {
		// Keyfunc errors come back wrapped; surface upstream failures as-is
		if errors.Is(err, shared.ErrUpstreamTimeout) {
			return nil, shared.ErrUpstreamTimeout
		}
		return nil, err
	}
	return claims, nil
}
