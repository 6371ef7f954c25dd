package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

// ListNotifications returns an agent's inbox, newest first.
// GET /api/agents/{agentId}/notifications?unread=&limit=
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	q := r.URL.Query()

	unreadOnly := false
	if v := q.Get("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "unread must be a boolean")
			return
		}
		unreadOnly = b
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	notifications, err := h.notificationService.ListNotifications(r.Context(), agentID, unreadOnly, limit)
	if err != nil {
		h.log.Error("failed to list notifications", zap.String("agent_id", agentID), zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

// MarkNotificationRead marks one notification as read.
// POST /api/notifications/{notificationId}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationId")

	err := h.notificationService.MarkRead(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		h.log.Error("failed to mark notification read", zap.String("notification_id", id), zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "Failed to mark notification read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
