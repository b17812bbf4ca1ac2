package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Enforcer applies the Evaluator inside echo handlers: it reads the caller
// from the request context, logs denials and converts them to HTTP errors.
type Enforcer struct {
	evaluator *Evaluator
	logger    zerolog.Logger
	observer  DecisionObserver
}

// DecisionObserver is told about every completed authorization decision.
type DecisionObserver interface {
	ObserveDecision(res ResourceType, act Action, d Decision)
}

func NewEnforcer(evaluator *Evaluator, logger zerolog.Logger) *Enforcer {
	return &Enforcer{evaluator: evaluator, logger: logger}
}

// WithObserver registers o to receive every decision.
func (f *Enforcer) WithObserver(o DecisionObserver) *Enforcer {
	f.observer = o
	return f
}

// Evaluator returns the wrapped evaluator.
func (f *Enforcer) Evaluator() *Evaluator { return f.evaluator }

// Check authorizes act on res for the request's caller. On denial the
// returned error is an *echo.HTTPError ready to be returned by the handler.
func (f *Enforcer) Check(c echo.Context, res Resource, act Action) (Decision, error) {
	ctx := c.Request().Context()
	id := IdentityFromContext(ctx)

	d, err := f.evaluator.Authorize(ctx, id, res, act)
	if err != nil {
		evt := f.logger.Error().Err(err)
		if errors.Is(err, ErrInvalidRequest) {
			evt = evt.Str("kind", "programming_error")
		}
		evt.Str("request_id", requestID(c)).
			Str("resource_type", string(res.Type)).
			Str("action", string(act)).
			Msg("authorization check failed")
		return d, echo.NewHTTPError(http.StatusInternalServerError, "authorization check failed")
	}
	if f.observer != nil {
		f.observer.ObserveDecision(res.Type, act, d)
	}
	if !d.Allowed {
		f.logger.Warn().
			Str("type", "authz_deny").
			Str("request_id", requestID(c)).
			Str("user_id", UserIDFromContext(ctx)).
			Str("role", string(RoleFromContext(ctx))).
			Str("resource_type", string(res.Type)).
			Str("patient_id", res.Patient.ID.String()).
			Str("action", string(act)).
			Str("reason", string(d.Reason)).
			Msg("access denied")
		return d, d.HTTPError()
	}
	return d, nil
}

// Caller returns the authenticated identity or a 401.
func Caller(c echo.Context) (*Identity, error) {
	id := IdentityFromContext(c.Request().Context())
	if !id.Authenticated() {
		return nil, deny(ReasonNotAuthenticated).HTTPError()
	}
	return id, nil
}

func requestID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}
