package routes

import (
	"github.com/covella/loginguard/internal/auth"
	"github.com/covella/loginguard/internal/handlers"
	"github.com/covella/loginguard/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	guardHandler *handlers.GuardHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
) {
	rateLimitConfig := middleware.DefaultGuardRateLimit()

	// Guard endpoints - called by the storefront login flow
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))

		r.Post("/v1/guard/check", guardHandler.Check)
		r.Post("/v1/guard/status", guardHandler.Status)

		// Legacy single-endpoint protocol
		r.Post("/v1/guard", guardHandler.Dispatch)
	})

	// Admin surface - bearer token required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAdminToken(tokenManager))

		r.Get("/v1/admin/lockouts", adminHandler.ListLockouts)
		r.Delete("/v1/admin/lockouts/{identifier}", adminHandler.Unlock)
		r.Get("/v1/admin/attempts/{identifier}", adminHandler.ListAttempts)
	})
}
