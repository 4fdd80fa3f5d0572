package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/userstack/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// jwksDocument is the JSON key set document served by the identity provider
type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSCache fetches and caches the identity provider's signing keys.
// Keys are refetched at most once per verification attempt when an unknown
// kid shows up, which is how key rotation is absorbed without a restart.
type JWKSCache struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

// JWKSOption is a functional option for configuring the cache
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient sets the HTTP client used for key fetches
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		c.client = client
	}
}

// WithJWKSLogger sets the logger
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		c.logger = logger
	}
}

// NewJWKSCache creates a key cache for the given JWKS endpoint
func NewJWKSCache(url string, fetchTimeout time.Duration, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: fetchTimeout},
		logger: zap.NewNop(),
		keys:   make(map[string]*rsa.PublicKey),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Key returns the public key for a kid, fetching the key set on a miss.
// A kid still unknown after a fresh fetch is an invalid token, not an
// upstream failure.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, shared.ErrInvalidToken
	}
	return key, nil
}

// Refresh fetches the key set from the provider, replacing the cache.
// Network failures and timeouts map to shared.ErrUpstreamTimeout so callers
// can distinguish a broken provider from a bad token.
func (c *JWKSCache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("JWKS fetch failed", zap.String("url", c.url), zap.Error(err))
		return shared.ErrUpstreamTimeout
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("JWKS fetch returned non-200", zap.String("url", c.url), zap.Int("status", resp.StatusCode))
		return shared.ErrUpstreamTimeout
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := decodeRSAKey(k)
		if err != nil {
			c.logger.Warn("Skipping malformed JWKS key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}

	if len(keys) == 0 {
		return errors.New("jwks document contains no usable keys")
	}

	c.mu.Lock()
	c.keys = keys
	c.fetched = time.Now()
	c.mu.Unlock()

	c.logger.Debug("Refreshed JWKS key set", zap.Int("keys", len(keys)))

	return nil
}

// decodeRSAKey builds an RSA public key from the base64url modulus and exponent
func decodeRSAKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("zero exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
