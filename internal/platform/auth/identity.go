package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Role is the single role an account holds at a time.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RoleNurse   Role = "nurse"
	RolePatient Role = "patient"
)

// ParseRole converts a stored or claimed role string into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleDoctor, RoleNurse, RolePatient:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) String() string { return string(r) }

// IsClinician reports whether r is a doctor or nurse.
func (r Role) IsClinician() bool {
	return r == RoleDoctor || r == RoleNurse
}

// Identity is an authenticated principal. Role is always set; there is no
// "missing profile" state once an Identity exists.
type Identity struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// NewIdentity builds an Identity, rejecting nil ids and unknown roles.
func NewIdentity(id uuid.UUID, role Role) (*Identity, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: identity id is required", ErrInvalidRequest)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
	}
	return &Identity{ID: id, Role: role}, nil
}

func (i *Identity) IsAdmin() bool   { return i != nil && i.Role == RoleAdmin }
func (i *Identity) IsDoctor() bool  { return i != nil && i.Role == RoleDoctor }
func (i *Identity) IsNurse() bool   { return i != nil && i.Role == RoleNurse }
func (i *Identity) IsPatient() bool { return i != nil && i.Role == RolePatient }

// Authenticated reports whether i represents a logged-in principal.
func (i *Identity) Authenticated() bool {
	return i != nil && i.ID != uuid.Nil
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity stored by the auth middleware,
// or nil for unauthenticated requests.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// UserIDFromContext returns the caller's id as a string, or "" when
// unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id.Authenticated() {
		return id.ID.String()
	}
	return ""
}

// RoleFromContext returns the caller's role, or "" when unauthenticated.
func RoleFromContext(ctx context.Context) Role {
	if id := IdentityFromContext(ctx); id.Authenticated() {
		return id.Role
	}
	return ""
}
