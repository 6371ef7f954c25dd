package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/service"
)

// SweepClaimWindows runs the claim-window sweep once.
// POST /api/sweeps/claim-window
func (h *Handler) SweepClaimWindows(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, h.slaService.SweepClaimWindows)
}

// SweepContactWindows runs the contact-window sweep once.
// POST /api/sweeps/contact-window
func (h *Handler) SweepContactWindows(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, h.slaService.SweepContactWindows)
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request, sweep func(context.Context) (*service.SweepReport, error)) {
	report, err := sweep(r.Context())
	if err != nil {
		h.log.Error("sweep failed", zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "Sweep failed")
		return
	}
	h.JSON(w, http.StatusOK, report)
}
