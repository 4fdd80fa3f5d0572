package entitlement

import (
	"context"

	"github.com/google/uuid"
)

// FlagSet maps feature keys to their enabled state for one group
type FlagSet map[string]bool

// Enabled reports whether a feature key is on.
// Unknown or unconfigured keys are false, never an error.
func (f FlagSet) Enabled(key string) bool {
	return f[key]
}

// Clone returns an independent copy of the flag set
func (f FlagSet) Clone() FlagSet {
	out := make(FlagSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// FlagProvider computes the current flag set for a group
type FlagProvider interface {
	Flags(ctx context.Context, groupID uuid.UUID) (FlagSet, error)
}

// FlagCache serves flag sets with read-through population and explicit
// invalidation. Invalidate must force recomputation before the next Get
// for that group returns; TTL expiry is only a staleness safety net.
type FlagCache interface {
	FlagProvider

	// Invalidate drops the cached flag set for a group
	Invalidate(ctx context.Context, groupID uuid.UUID) error

	// Close releases cache resources
	Close() error
}
