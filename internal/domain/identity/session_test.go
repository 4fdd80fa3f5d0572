package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionExpiry(t *testing.T) {
	sess, err := NewSession(uuid.New(), uuid.New(), time.Hour)
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.False(t, sess.IsExpired())
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Second)
}

func TestSessionIsExpired(t *testing.T) {
	sess, err := NewSession(uuid.New(), uuid.New(), -time.Minute)
	require.NoError(t, err)

	assert.True(t, sess.IsExpired())
}

func TestSessionExtend(t *testing.T) {
	sess, err := NewSession(uuid.New(), uuid.New(), -time.Minute)
	require.NoError(t, err)
	require.True(t, sess.IsExpired())

	sess.Extend(time.Hour)

	assert.False(t, sess.IsExpired())
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Second)
}
