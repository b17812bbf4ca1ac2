package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrProfileNotFound is returned by a ProfileStore when the account has no
// role profile.
var ErrProfileNotFound = errors.New("role profile not found")

// ProfileStore looks up the role recorded for an account.
type ProfileStore interface {
	RoleByUserID(ctx context.Context, userID uuid.UUID) (Role, error)
}

// Resolution is the outcome of resolving an account into an Identity.
type Resolution struct {
	Identity *Identity
	// Anomaly is set when the account had no role profile and the
	// patient default was applied.
	Anomaly bool
}

// IdentityResolver turns an authenticated account id into an Identity.
type IdentityResolver struct {
	profiles ProfileStore
	logger   zerolog.Logger
}

func NewIdentityResolver(profiles ProfileStore, logger zerolog.Logger) *IdentityResolver {
	return &IdentityResolver{profiles: profiles, logger: logger}
}

// Resolve loads the account's role. A missing profile falls back to the
// patient role and is logged as an integrity anomaly; it is never escalated.
// Any other store failure is returned so the request fails closed.
func (r *IdentityResolver) Resolve(ctx context.Context, userID uuid.UUID) (*Resolution, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthenticated
	}

	role, err := r.profiles.RoleByUserID(ctx, userID)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		r.logger.Warn().
			Str("type", "integrity_anomaly").
			Str("user_id", userID.String()).
			Msg("account has no role profile, defaulting to patient")
		return &Resolution{Identity: &Identity{ID: userID, Role: RolePatient}, Anomaly: true}, nil
	case err != nil:
		return nil, fmt.Errorf("lookup role for %s: %w", userID, err)
	}

	id, err := NewIdentity(userID, role)
	if err != nil {
		return nil, err
	}
	return &Resolution{Identity: id}, nil
}
