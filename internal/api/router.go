package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/linkpulse/internal/auth"
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

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	// WebSocket authenticates with a ticket, not cookies
	r.Get(s.wsPath(), s.handleWebSocket)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/google-auth", s.handleGoogleAuth)
		r.Post("/logout", s.handleLogout)
		r.Post("/send-reset-password-token", s.handleSendResetCode)
		r.Post("/reset-password", s.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(s.protect)
			r.Post("/is-user-logged-in", s.handleIsUserLoggedIn)
			r.Post("/ws-ticket", s.handleWSTicket)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(s.protect)
		r.With(s.authorize(auth.PermUserCreate)).Post("/", s.handleCreateUser)
		r.With(s.authorize(auth.PermUserRead)).Get("/", s.handleListUsers)
		r.With(s.authorize(auth.PermUserUpdate)).Get("/audit", s.handleListAuditLogs)
		r.With(s.authorize(auth.PermUserUpdate)).Patch("/{id}", s.handleUpdateUser)
	})

	r.Route("/links", func(r chi.Router) {
		// Public redirect
		r.Get("/r/{id}", s.handleRedirect)

		r.Group(func(r chi.Router) {
			r.Use(s.protect)
			r.With(s.authorize(auth.PermLinkCreate)).Post("/", s.handleCreateLink)
			r.With(s.authorize(auth.PermLinkRead)).Get("/", s.handleListLinks)
			r.With(s.authorize(auth.PermLinkRead)).Post("/analytics", s.handleLinkAnalytics)

			r.Route("/{id}", func(r chi.Router) {
				r.With(s.authorize(auth.PermLinkRead)).Get("/", s.handleGetLink)
				r.With(s.authorize(auth.PermLinkUpdate)).Put("/", s.handleUpdateLink)
				r.With(s.authorize(auth.PermLinkDelete)).Delete("/", s.handleDeleteLink)
			})
		})
	})

	r.Route("/payments", func(r chi.Router) {
		// Signed by the gateway, no session
		r.Post("/webhook", s.handlePaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.protect)
			r.Use(s.authorize(auth.PermPaymentCreate))
			r.Get("/packs", s.handleListPacks)
			r.Post("/verify-order", s.handleVerifyOrder)
		})
	})

	return r
}

// wsPath returns the configured WebSocket endpoint path.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
