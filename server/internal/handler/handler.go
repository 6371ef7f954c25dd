package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
	"github.com/delsolprimehomes/leadclaim/server/internal/events"
	"github.com/delsolprimehomes/leadclaim/server/internal/service"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

// Handler contains all HTTP handlers
type Handler struct {
	cfg                 *config.Config
	claimService        *service.ClaimService
	leadService         *service.LeadService
	notificationService *service.NotificationService
	slaService          *service.SLAService
	eventBroker         *events.Broker
	log                 *zap.Logger
}

// New creates a new Handler. eventBroker may be nil, in which case claims and
// breaches are not announced and the event stream is unavailable.
func New(s *store.Store, cfg *config.Config, eventBroker *events.Broker, log *zap.Logger) *Handler {
	var (
		claimPub  service.ClaimPublisher
		breachPub service.BreachPublisher
	)
	if eventBroker != nil {
		claimPub = eventBroker
		breachPub = eventBroker
	}

	return &Handler{
		cfg:                 cfg,
		claimService:        service.NewClaimService(s, claimPub, cfg.SLA.ContactWindow, log),
		leadService:         service.NewLeadService(s),
		notificationService: service.NewNotificationService(s),
		slaService: service.NewSLAService(s, breachPub, service.SLAConfig{
			ClaimWindow:    cfg.SLA.ClaimWindow,
			ContactWindow:  cfg.SLA.ContactWindow,
			DefaultAdminID: cfg.SLA.DefaultAdminID,
		}, log),
		eventBroker: eventBroker,
		log:         log.With(zap.String("component", "handler")),
	}
}

// SLAService returns the handler's SLA service.
// Used by main.go to schedule the watcher sweeps.
func (h *Handler) SLAService() *service.SLAService {
	return h.slaService
}

// JSON helper to write JSON responses
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error helper to write error responses
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// errorResponse is the failure body of the claim API.
type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	ClaimedBy string `json:"claimedBy,omitempty"`
}

// Fail writes a {success:false, error, code} body.
func (h *Handler) Fail(w http.ResponseWriter, status int, code, message string) {
	h.JSON(w, status, errorResponse{Error: message, Code: code})
}

// DecodeJSON helper to decode request body
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
