package middleware // middleware provides shared request processing for handlers

import (
	"net/http" // standard HTTP status codes
	"strings"  // joins the required keys for the audit detail

	"github.com/labstack/echo/v4" // echo provides middleware chaining and context

	"github.com/iliyamo/erp-auth/internal/model"
	"github.com/iliyamo/erp-auth/internal/queue"
	queue_publisher "github.com/iliyamo/erp-auth/internal/service"
)

// RequirePermission returns a middleware that enforces that the
// authenticated user's token snapshot contains at least one of the
// given permission keys ("any of" semantics). It assumes JWTAuth has
// already populated the context. Denials are logged with the principal
// and the denied resource for audit, and answered with 403.
func RequirePermission(keys ...string) echo.MiddlewareFunc {
	// Build a set of acceptable keys for constant-time lookups.
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, p := range CurrentPermissions(c) {
				if wanted[p] {
					return next(c)
				}
			}
			uid, _ := CurrentUserID(c)
			c.Logger().Warnf("authz: denied user=%d email=%s role=%s required=%v path=%s",
				uid, CurrentEmail(c), CurrentRole(c), keys, c.Path())
			queue_publisher.Emit(queue.AuthEvent{
				Type:       queue.EventDenied,
				ActorID:    uid,
				ActorEmail: CurrentEmail(c),
				ActorRole:  CurrentRole(c),
				Resource:   c.Path(),
				Detail:     "required " + strings.Join(keys, "|"),
				IP:         c.RealIP(),
			})
			return c.JSON(http.StatusForbidden, echo.Map{
				"error":    "insufficient permission",
				"required": keys,
			})
		}
	}
}

// RequireAdmin returns a middleware that gates an operation on the
// administrative role itself rather than a permission key. Used for
// irreversible operations such as role deletion, where holding a
// delegated permission is not enough.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if CurrentRole(c) == model.AdminRoleKey {
				return next(c)
			}
			uid, _ := CurrentUserID(c)
			c.Logger().Warnf("authz: admin-only denied user=%d email=%s role=%s path=%s",
				uid, CurrentEmail(c), CurrentRole(c), c.Path())
			queue_publisher.Emit(queue.AuthEvent{
				Type:       queue.EventDenied,
				ActorID:    uid,
				ActorEmail: CurrentEmail(c),
				ActorRole:  CurrentRole(c),
				Resource:   c.Path(),
				Detail:     "required role " + model.AdminRoleKey,
				IP:         c.RealIP(),
			})
			return c.JSON(http.StatusForbidden, echo.Map{"error": "administrator role required"})
		}
	}
}
