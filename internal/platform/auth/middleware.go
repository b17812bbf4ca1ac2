package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Echo context keys set by JWTMiddleware for the revocation handlers.
const (
	ctxTokenID        = "jwt_jti"
	ctxTokenExpiresAt = "jwt_expires_at"
)

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	Resolver   *IdentityResolver
	// Revocations is optional; when nil revocation checks are skipped.
	Revocations RevocationStore
	Logger      zerolog.Logger
}

// JWTMiddleware authenticates HS256 bearer tokens. The token subject is the
// account id; the role always comes from the account's profile so that role
// changes take effect without reissuing tokens.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}

			ctx := c.Request().Context()
			if cfg.Revocations != nil {
				revoked, err := isTokenRevoked(c, cfg.Revocations, claims)
				if err != nil {
					cfg.Logger.Error().Err(err).Msg("revocation check failed")
					return echo.NewHTTPError(http.StatusServiceUnavailable, "token validation unavailable")
				}
				if revoked {
					return echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
				}
			}

			res, err := cfg.Resolver.Resolve(ctx, userID)
			if err != nil {
				cfg.Logger.Error().Err(err).Str("user_id", userID.String()).Msg("identity resolution failed")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "identity resolution failed")
			}

			c.Set(ctxTokenID, claims.ID)
			if claims.ExpiresAt != nil {
				c.Set(ctxTokenExpiresAt, claims.ExpiresAt.Time)
			}
			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, res.Identity)))
			return next(c)
		}
	}
}

func isTokenRevoked(c echo.Context, store RevocationStore, claims *jwt.RegisteredClaims) (bool, error) {
	ctx := c.Request().Context()
	if claims.ID != "" {
		revoked, err := store.IsRevoked(ctx, claims.ID)
		if err != nil || revoked {
			return revoked, err
		}
	}
	issuedAt := time.Time{}
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	return store.IsUserRevoked(ctx, claims.Subject, issuedAt)
}

// DevUserID is the identity used by DevAuthMiddleware when no override
// headers are sent.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// DevAuthMiddleware is a permissive middleware for development. Requests
// without headers act as an admin; X-Dev-User and X-Dev-Role select another
// identity.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := &Identity{ID: DevUserID, Role: RoleAdmin}
			if raw := c.Request().Header.Get("X-Dev-User"); raw != "" {
				uid, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid X-Dev-User")
				}
				id.ID = uid
			}
			if raw := c.Request().Header.Get("X-Dev-Role"); raw != "" {
				role, err := ParseRole(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid X-Dev-Role")
				}
				id.Role = role
			}
			ctx := WithIdentity(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
