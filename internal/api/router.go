package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gatekeep-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Credential endpoints (no session required)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/activate", s.handleActivate)
		r.Post("/auth/forgot-password", s.handleForgotPassword)
		r.Post("/auth/reset-password", s.handleResetPassword)

		// Session-holder routes
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Patch("/auth/me", s.handleUpdateSelfProfile)
			r.Delete("/auth/me", s.handleDeleteSelf)
			r.Post("/auth/change-password", s.handleChangePassword)

			// Event stream is admin-facing; tickets keep session tokens
			// out of WebSocket URLs.
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleAdmin))
				r.Post("/auth/ws-ticket", s.handleWSTicket)
			})
			r.Get("/ws", s.handleWebSocket)

			// Account administration. The route gate keeps unprivileged
			// roles out; the policy engine decides each operation.
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleAdmin, auth.RoleOrgAdmin, auth.RoleOrgSales, auth.RoleOrgBuilder))

				r.Route("/accounts", func(r chi.Router) {
					r.Post("/", s.handleCreateAccount)
					r.Get("/search", s.handleSearchAccounts)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetAccount)
						r.Patch("/handle", s.handleUpdateHandle)
						r.Patch("/profile", s.handleUpdateProfile)
						r.Delete("/", s.handleDeleteAccount)
						r.Post("/resend-activation", s.handleResendActivation)

						r.Get("/orgs", s.handleListAccountOrgs)
						r.Put("/orgs/{orgID}", s.handleAddMembership)
						r.Delete("/orgs/{orgID}", s.handleRemoveMembership)
					})
				})

				r.Route("/orgs", func(r chi.Router) {
					r.Get("/", s.handleListOrgs)
					r.Post("/", s.handleCreateOrg)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetOrg)
						r.Patch("/", s.handleRenameOrg)
						r.Delete("/", s.handleDeleteOrg)
					})
				})
			})

			// Audit trail is admin-only.
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleAdmin))
				r.Get("/audit", s.handleListAuditLogs)
			})
		})
	})

	return r
}
