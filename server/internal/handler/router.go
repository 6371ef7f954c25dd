package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/middleware"
)

// NewRouter builds the HTTP routes served by leadclaim.
func NewRouter(h *Handler, log *zap.Logger) http.Handler {
	cfg := h.cfg
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SanitizedLogger(log))
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKey))

		// Event streams stay open, so they sit outside the request timeout.
		r.Get("/agents/{agentId}/events", h.Events)
		r.Get("/agents/{agentId}/events/ws", h.EventsWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

			r.Post("/claim-lead", h.ClaimLead)
			r.Get("/leads/{leadId}", h.GetLead)
			r.Post("/leads/{leadId}/first-contact", h.RecordFirstContact)

			r.Get("/agents/{agentId}/claimable-leads", h.ListClaimableLeads)
			r.Get("/agents/{agentId}/notifications", h.ListNotifications)
			r.Post("/notifications/{notificationId}/read", h.MarkNotificationRead)

			r.Post("/sweeps/claim-window", h.SweepClaimWindows)
			r.Post("/sweeps/contact-window", h.SweepContactWindows)
		})
	})

	return r
}
