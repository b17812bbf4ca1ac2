package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	// ErrUnauthenticated means no identity was presented.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrInvalidRequest marks programming errors: unknown roles, resource
	// types or actions.
	ErrInvalidRequest = errors.New("invalid authorization request")
)

// ReasonCode explains a denial for audit logging.
type ReasonCode string

const (
	ReasonNone             ReasonCode = ""
	ReasonNotAuthenticated ReasonCode = "NOT_AUTHENTICATED"
	ReasonRoleForbidden    ReasonCode = "ROLE_FORBIDDEN"
	ReasonNotCareTeam      ReasonCode = "NOT_CARE_TEAM"
	ReasonDeleteForbidden  ReasonCode = "DELETE_FORBIDDEN"
	ReasonPatientSelfOnly  ReasonCode = "PATIENT_SELF_ONLY"
	ReasonStatusLocked     ReasonCode = "STATUS_LOCKED"
)

// Decision is the evaluator's verdict.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  ReasonCode `json:"reason,omitempty"`
	// Restricted marks an allowed update that the caller must limit to a
	// field subset (nurse edits).
	Restricted bool `json:"restricted,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func allowRestricted() Decision { return Decision{Allowed: true, Restricted: true} }

func deny(reason ReasonCode) Decision { return Decision{Reason: reason} }

func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return "deny(" + string(d.Reason) + ")"
}

// ForbiddenError is the error form of a denial.
type ForbiddenError struct {
	Reason ReasonCode
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// Err returns nil for allowed decisions, ErrUnauthenticated for
// unauthenticated callers and a *ForbiddenError otherwise.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonNotAuthenticated:
		return ErrUnauthenticated
	default:
		return &ForbiddenError{Reason: d.Reason}
	}
}

// HTTPError translates a denial into the user-visible rejection.
func (d Decision) HTTPError() *echo.HTTPError {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonNotAuthenticated:
		return echo.NewHTTPError(http.StatusUnauthorized, string(d.Reason))
	default:
		return echo.NewHTTPError(http.StatusForbidden, string(d.Reason))
	}
}
