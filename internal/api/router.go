package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/shotsearch/internal/api/middleware"
	"github.com/kiranshivaraju/shotsearch/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	UploadHandler      http.HandlerFunc
	ProcessHandler     http.HandlerFunc
	AnalyzeHandler     http.HandlerFunc
	EmbeddingsHandler  http.HandlerFunc
	RetryHandler       http.HandlerFunc
	StatusHandler      http.HandlerFunc
	SearchHandler      http.HandlerFunc
	SuggestionsHandler http.HandlerFunc
	CreateKeyHandler   http.HandlerFunc
	ListKeysHandler    http.HandlerFunc
	RevokeKeyHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/screenshots", orNotImplemented(deps.UploadHandler))
		r.Post("/process", orNotImplemented(deps.ProcessHandler))
		r.Post("/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Post("/embeddings", orNotImplemented(deps.EmbeddingsHandler))
		r.Post("/retry", orNotImplemented(deps.RetryHandler))
		r.Get("/status", orNotImplemented(deps.StatusHandler))

		r.Post("/search", orNotImplemented(deps.SearchHandler))
		r.Get("/search", orNotImplemented(deps.SuggestionsHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "Endpoint not yet implemented")
	}
}
