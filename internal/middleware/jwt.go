package middleware // middleware contains reusable HTTP middleware for protected routes

import (
	"net/http" // HTTP status codes for responses
	"strings"  // prefix checking and trimming for the Authorization header

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/erp-auth/internal/utils" // token verification
)

// Context keys populated by JWTAuth for downstream middleware and handlers.
const (
	CtxUserID      = "user_id"
	CtxEmail       = "email"
	CtxRole        = "role"
	CtxPermissions = "permissions"
)

// JWTAuth returns an Echo middleware that validates a Bearer access
// token and injects the verified identity into the request context.
// The provided secret must match the one used when issuing tokens.
// The failure cause (missing, malformed, bad signature, expired) is
// logged server-side; the caller always sees the same generic 401 so
// token probing reveals nothing.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "no token provided"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "no token provided"})
			}

			claims, err := utils.VerifyAccessToken(secret, raw)
			if err != nil {
				// Distinct causes stay in the server log only.
				c.Logger().Warnf("auth: token rejected (%v) path=%s ip=%s", err, c.Path(), c.RealIP())
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}
			uid, err := claims.UserID()
			if err != nil {
				c.Logger().Warnf("auth: token subject unusable path=%s", c.Path())
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			c.Set(CtxUserID, uid)
			c.Set(CtxEmail, claims.Email)
			c.Set(CtxRole, claims.Role)
			c.Set(CtxPermissions, claims.Permissions)
			return next(c)
		}
	}
}

// CurrentUserID returns the authenticated user's ID from context.
func CurrentUserID(c echo.Context) (uint64, bool) {
	v, ok := c.Get(CtxUserID).(uint64)
	return v, ok
}

// CurrentEmail returns the authenticated user's email from context.
func CurrentEmail(c echo.Context) string {
	v, _ := c.Get(CtxEmail).(string)
	return v
}

// CurrentRole returns the authenticated user's role key from context.
func CurrentRole(c echo.Context) string {
	v, _ := c.Get(CtxRole).(string)
	return v
}

// CurrentPermissions returns the permission snapshot carried by the
// presented access token. It reflects the role's permissions at
// issuance time, not necessarily the live set.
func CurrentPermissions(c echo.Context) []string {
	v, _ := c.Get(CtxPermissions).([]string)
	return v
}
