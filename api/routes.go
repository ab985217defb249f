package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roadworks-hub/core/rbac"
)

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.securityHeadersMiddleware)

	s.registerObservabilityRoutes()

	apiRouter := chi.NewRouter()
	apiRouter.Use(s.jsonMiddleware)

	apiRouter.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.rateLimitMiddleware(s.register))
		r.Post("/login", s.rateLimitMiddleware(s.login))
		r.Get("/status", s.authStatus)
		r.Patch("/users/{uid}", s.withToken(s.requirePermission(rbac.PermProfileEdit)(s.updateProfile)))
		r.Get("/sync/status", s.withToken(s.requirePermission(rbac.PermSyncView)(s.syncStatus)))
	})

	apiRouter.Route("/admin", func(r chi.Router) {
		r.Post("/users/{uid}/block", s.withToken(s.requirePermission(rbac.PermUsersBlock)(s.blockUser)))
		r.Post("/users/{uid}/unblock", s.withToken(s.requirePermission(rbac.PermUsersBlock)(s.unblockUser)))
		r.Post("/users/import", s.withToken(s.requirePermission(rbac.PermUsersImport)(s.importUsers)))
		r.Post("/sync", s.withToken(s.requirePermission(rbac.PermSyncRun)(s.forceSync)))
		r.Get("/sync/status", s.withToken(s.requirePermission(rbac.PermSyncStatus)(s.adminSyncStatus)))
		r.Get("/lockouts", s.withToken(s.requirePermission(rbac.PermLockoutsView)(s.lockouts)))
		r.Post("/connectivity/check", s.withToken(s.requirePermission(rbac.PermConnectivityCk)(s.connectivityCheck)))
	})

	s.router.Mount("/api", apiRouter)
}
