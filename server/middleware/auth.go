package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/construkt/server/auth"
	chaterrors "github.com/hrygo/construkt/server/internal/errors"
	"github.com/hrygo/construkt/server/router"
)

// claimsKey is where verified claims live on the echo context.
const claimsKey = "construkt.claims"

// RequireAuth wraps a routed handler so it only runs for callers presenting a
// valid bearer token. Every rejection looks the same to the caller.
func RequireAuth(authenticator *auth.Authenticator) func(router.HandlerFunc) router.HandlerFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c echo.Context, params router.Params) error {
			claims, ok := authenticator.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return writeError(c, chaterrors.Unauthorized())
			}
			setClaims(c, claims)
			return next(c, params)
		}
	}
}

// OptionalAuth attaches claims when a valid token is presented and lets the
// request through either way.
func OptionalAuth(authenticator *auth.Authenticator) func(router.HandlerFunc) router.HandlerFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c echo.Context, params router.Params) error {
			if claims, ok := authenticator.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization)); ok {
				setClaims(c, claims)
			}
			return next(c, params)
		}
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(roles ...string) func(router.HandlerFunc) router.HandlerFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c echo.Context, params router.Params) error {
			claims, ok := Claims(c)
			if !ok {
				return writeError(c, chaterrors.Unauthorized())
			}
			if !auth.HasRole(claims, roles...) {
				slog.Debug("role check failed", "owner_id", claims.OwnerID(), "role", claims.Role)
				return writeError(c, chaterrors.Forbidden("Insufficient permissions"))
			}
			return next(c, params)
		}
	}
}

// Claims returns the verified claims attached by RequireAuth or OptionalAuth.
func Claims(c echo.Context) (*auth.Claims, bool) {
	claims, ok := c.Get(claimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

func setClaims(c echo.Context, claims *auth.Claims) {
	c.Set(claimsKey, claims)
	req := c.Request()
	c.SetRequest(req.WithContext(auth.SetClaimsInContext(req.Context(), claims)))
}

func writeError(c echo.Context, err error) error {
	status, body := chaterrors.Envelope(err)
	return c.JSON(status, body)
}
