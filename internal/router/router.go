package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // Echo web framework used for routing

	"github.com/iliyamo/erp-auth/internal/handler"
	"github.com/iliyamo/erp-auth/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check for load balancers and
// monitoring systems.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth wires the authentication endpoints. Login and refresh
// are unauthenticated but rate limited (credential guessing burns the
// bucket, not the database); logout and me require a valid access
// token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limiter echo.MiddlewareFunc, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login, limiter)
	g.POST("/refresh", a.Refresh, limiter)
	g.POST("/logout", a.Logout, middleware.JWTAuth(jwtSecret))
	g.GET("/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterAdmin wires the user, role and permission management
// endpoints. Every route sits behind JWTAuth plus a permission gate;
// the destructive operations (user and role deletion) additionally
// require the administrative role itself, not just a delegated
// permission.
func RegisterAdmin(e *echo.Echo, uh *handler.UserHandler, rh *handler.RoleHandler, ph *handler.PermissionHandler, jwtSecret string) {
	admin := e.Group("/v1", middleware.JWTAuth(jwtSecret))

	users := admin.Group("/users", middleware.RequirePermission("users.view"))
	users.GET("", uh.List)
	users.POST("", uh.Create)
	users.PUT("/:id", uh.Update)
	users.DELETE("/:id", uh.Delete, middleware.RequireAdmin())

	roles := admin.Group("/roles", middleware.RequirePermission("roles.view"))
	roles.GET("", rh.List)
	roles.GET("/:id", rh.Get)
	roles.POST("", rh.Create)
	roles.PUT("/:id", rh.Update)
	roles.PUT("/:id/permissions", rh.ReplacePermissions)
	roles.DELETE("/:id", rh.Delete, middleware.RequireAdmin())

	admin.GET("/permissions", ph.List, middleware.RequirePermission("roles.view"))
}
