package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// sessionIDBytes is the entropy of a session identifier (256 bits).
// The id space must be large enough that guessing is negligible.
const sessionIDBytes = 32

// Session binds an opaque identifier to a verified user and their group.
// The identifier is never parsed by callers; it is transported as-is
// (typically in a cookie or the X-Session-ID header).
type Session struct {
	ID        string    `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	GroupID   uuid.UUID `json:"group_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewSession creates a session record with a fresh random identifier
func NewSession(userID, groupID uuid.UUID, ttl time.Duration) (*Session, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Session{
		ID:        id,
		UserID:    userID,
		GroupID:   groupID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// GenerateSessionID returns a cryptographically random opaque identifier
func GenerateSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsExpired returns true if the session has passed its expiry
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Extend moves the expiry ttl into the future from now
func (s *Session) Extend(ttl time.Duration) {
	s.ExpiresAt = time.Now().Add(ttl)
}

// SessionStore persists session records keyed by their opaque identifier.
// Implementations must make Create atomic: either the full record becomes
// visible or none of it does. Concurrent creates for the same user/group
// produce independent sessions; revocation is always per-session.
type SessionStore interface {
	// Create stores a new session and returns it
	Create(ctx context.Context, userID, groupID uuid.UUID, ttl time.Duration) (*Session, error)

	// Lookup resolves a session id.
	// Fails with shared.ErrSessionNotFound or shared.ErrSessionExpired.
	Lookup(ctx context.Context, sessionID string) (*Session, error)

	// Touch extends the session expiry by ttl from now
	Touch(ctx context.Context, sessionID string, ttl time.Duration) error

	// Invalidate removes a session. Idempotent.
	Invalidate(ctx context.Context, sessionID string) error

	// Close releases store resources
	Close() error
}
