package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/community-hub/internal/api/http/handlers"
	"github.com/spec-kit/community-hub/internal/auth"
	"github.com/spec-kit/community-hub/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Users          *handlers.UsersHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)

	authn := cfg.AuthMiddleware.Handle
	authGroup.Post("/logout", authn, cfg.Auth.Logout)
	authGroup.Get("/session", authn, cfg.Auth.Session)
	authGroup.Post("/password/change", authn, cfg.Auth.ChangePassword)

	app.Get("/users/:id", authn, auth.RequireOwner("id"), cfg.Users.Get)

	admin := app.Group("/admin")
	admin.Get("/sessions", cfg.AuthMiddleware.Require(auth.WithCapability(domain.CapabilityViewSessions)), cfg.Admin.Sessions)
	admin.Get("/metrics", cfg.AuthMiddleware.Require(auth.AnyOf(domain.RoleAdmin)), cfg.Admin.Metrics)
}
