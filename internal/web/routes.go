package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/photo-consent/internal/web/handlers"
	"github.com/kozaktomas/photo-consent/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	photosHandler := handlers.NewPhotosHandler(s.deps.Photos, s.log)
	consentHandler := handlers.NewConsentHandler(s.deps.Consent, s.log)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Identities, s.log)
	healthHandler := handlers.NewHealthHandler(s.deps.Ping)

	// No auth required
	s.router.Get("/api/v1/health", healthHandler.Check)
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		// The derived image is the public artefact.
		r.Get("/photos/{id}/image", photosHandler.Image)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireIdentity(s.config.Auth.JWTSecret))

			// Photos
			r.Post("/photos", photosHandler.Upload)
			r.Get("/photos/{id}", photosHandler.Get)
			r.Delete("/photos/{id}", photosHandler.Delete)
			r.Get("/photos/{id}/original", photosHandler.Original)
			r.Get("/photos/{id}/faces", photosHandler.Faces)
			r.Post("/photos/{id}/regenerate", photosHandler.Regenerate)

			// Consent
			r.Get("/consent-requests", consentHandler.List)
			r.Post("/consent-requests/{id}/decision", consentHandler.Decide)

			// Identities
			r.Get("/identities/me", identitiesHandler.Me)
			r.Put("/identities/me/sharing", identitiesHandler.SetSharing)
			r.Put("/identities/me/profile-image", identitiesHandler.SetProfileImage)
		})
	})
}
