package auth

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// DefaultTokenLifetime bounds how long a per-user cutoff must be kept.
const DefaultTokenLifetime = 12 * time.Hour

// revokeTokenRequest is the request body for POST /auth/revoke.
type revokeTokenRequest struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id,omitempty"`
}

// revokeUserRequest is the request body for POST /auth/revoke-user.
type revokeUserRequest struct {
	UserID string `json:"user_id"`
}

// RevocationHandler serves logout and token revocation endpoints.
type RevocationHandler struct {
	store         RevocationStore
	tokenLifetime time.Duration
}

func NewRevocationHandler(store RevocationStore, tokenLifetime time.Duration) *RevocationHandler {
	if tokenLifetime <= 0 {
		tokenLifetime = DefaultTokenLifetime
	}
	return &RevocationHandler{store: store, tokenLifetime: tokenLifetime}
}

// RegisterRoutes mounts /auth endpoints. Logout is open to every
// authenticated caller; revocation of other tokens is admin only.
func (h *RevocationHandler) RegisterRoutes(g *echo.Group) {
	authed := RequireAuthenticated()
	g.POST("/auth/logout", h.Logout, authed)

	admin := RequireRole(RoleAdmin)
	g.POST("/auth/revoke", h.RevokeToken, authed, admin)
	g.POST("/auth/revoke-user", h.RevokeUser, authed, admin)
}

// Logout revokes the bearer token used for this request.
func (h *RevocationHandler) Logout(c echo.Context) error {
	id, err := Caller(c)
	if err != nil {
		return err
	}
	jti, _ := c.Get(ctxTokenID).(string)
	if jti == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token has no jti")
	}
	expiresAt, ok := c.Get(ctxTokenExpiresAt).(time.Time)
	if !ok {
		expiresAt = time.Now().Add(h.tokenLifetime)
	}
	if err := h.store.Revoke(c.Request().Context(), jti, id.ID.String(), expiresAt); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeToken revokes a specific token by JTI.
func (h *RevocationHandler) RevokeToken(c echo.Context) error {
	var req revokeTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.JTI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "jti is required")
	}
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = time.Now().Add(h.tokenLifetime)
	}
	if err := h.store.Revoke(c.Request().Context(), req.JTI, req.UserID, req.ExpiresAt); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeUser invalidates every token issued so far to an account.
func (h *RevocationHandler) RevokeUser(c echo.Context) error {
	var req revokeUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id must be a uuid")
	}
	if err := h.store.RevokeAllForUser(c.Request().Context(), req.UserID, time.Now(), h.tokenLifetime); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
