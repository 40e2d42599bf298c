package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router. Public routes (health, unsubscribe
// links clicked from email clients) sit outside /api.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// One-click links embedded in sent emails.
	r.Get("/unsubscribe", h.Unsubscribe)

	r.Route("/api", func(r chi.Router) {
		r.Post("/subscribe", h.Subscribe)
		r.Post("/unsubscribe", h.Unsubscribe)
		r.Post("/resubscribe", h.Resubscribe)

		r.Route("/subscribers", func(r chi.Router) {
			r.Get("/", h.ListSubscribers)
			r.Get("/check", h.CheckEmail)
			r.Get("/stats", h.SubscriberStats)
		})

		r.Route("/consent", func(r chi.Router) {
			r.Get("/status", h.ConsentStatus)
			r.Get("/history", h.ConsentHistory)
			r.Post("/policy-update", h.ConsentPolicyUpdate)
		})

		r.Route("/privacy", func(r chi.Router) {
			r.Post("/access", h.PrivacyAccess)
			r.Post("/deletion", h.PrivacyDeletion)
			r.Post("/rectification", h.PrivacyRectification)
		})
	})

	return r
}
