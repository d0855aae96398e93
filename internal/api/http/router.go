package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/edu-portal/portal-identity/internal/api/http/handlers"
	"github.com/edu-portal/portal-identity/internal/auth"
	"github.com/edu-portal/portal-identity/internal/domain"
	"github.com/edu-portal/portal-identity/internal/events"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Admin          *handlers.AdminHandler
	Audit          *handlers.AuditHandler
	AuthMiddleware *auth.AuthMiddleware
	Dispatcher     events.Dispatcher
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Get("/verify", cfg.Auth.Verify)

	protected := authGroup.Group("", cfg.AuthMiddleware.Handle)
	protected.Post("/logout", cfg.Auth.Logout)
	protected.Post("/logout-all", cfg.Auth.LogoutAll)

	admin := api.Group("/admin",
		cfg.AuthMiddleware.Handle,
		auth.RequireRoles(cfg.Dispatcher, domain.RoleSuperadmin),
	)
	admin.Get("/users", cfg.Admin.ListUsers)
	admin.Post("/users", cfg.Admin.CreateUser)
	admin.Get("/users/:id", cfg.Admin.GetUser)
	admin.Put("/users/:id", cfg.Admin.UpdateUser)
	admin.Delete("/users/:id", cfg.Admin.DeleteUser)
	admin.Get("/audit-logs", cfg.Audit.ListEntries)
}
