package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/userstack/backend/internal/domain/shared"
)

// User represents an externally authenticated identity.
// The identity provider owns credentials; we only keep the stable subject
// id and a profile snapshot taken at the last identify call.
type User struct {
	shared.BaseEntity
	Subject    string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_users_issuer_subject"`
	Issuer     string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_users_issuer_subject"`
	Email      string    `gorm:"type:varchar(255);index"`
	Name       string    `gorm:"type:varchar(200)"`
	GroupID    uuid.UUID `gorm:"type:uuid;not null;index"`
	LastSeenAt time.Time
}

// TableName returns the table name for GORM
func (User) TableName() string {
	return "users"
}

// NewUser creates a user record for a verified external identity
func NewUser(issuer, subject string, groupID uuid.UUID) (*User, error) {
	if subject == "" {
		return nil, shared.NewDomainError("INVALID_SUBJECT", "Identity subject cannot be empty")
	}
	if issuer == "" {
		return nil, shared.NewDomainError("INVALID_ISSUER", "Identity issuer cannot be empty")
	}

	return &User{
		BaseEntity: shared.NewBaseEntity(),
		Subject:    subject,
		Issuer:     issuer,
		GroupID:    groupID,
		LastSeenAt: time.Now(),
	}, nil
}

// UpdateProfile refreshes the profile snapshot from token claims
func (u *User) UpdateProfile(email, name string) {
	u.Email = email
	u.Name = name
	u.LastSeenAt = time.Now()
	u.UpdatedAt = time.Now()
}

// MoveToGroup reassigns the user's active group
func (u *User) MoveToGroup(groupID uuid.UUID) {
	u.GroupID = groupID
	u.UpdatedAt = time.Now()
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// FindByID finds a user by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)

	// FindBySubject finds a user by issuer and provider subject id
	FindBySubject(ctx context.Context, issuer, subject string) (*User, error)

	// Save creates or updates a user
	Save(ctx context.Context, user *User) error

	// Delete deletes a user
	Delete(ctx context.Context, id uuid.UUID) error
}
