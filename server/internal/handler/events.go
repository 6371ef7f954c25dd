package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/events"
)

// keepAliveInterval keeps idle streams open through proxies.
const keepAliveInterval = 25 * time.Second

// Events handles SSE event streaming for an agent.
// GET /api/agents/{agentId}/events
// Query parameters:
//   - since: RFC3339 timestamp (or Unix seconds) to replay events after
//   - after: Event ID to replay events after (takes precedence over since)
//
// If neither is provided, only new events from the time of connection are
// streamed. An agent sees broadcast events and events addressed to it.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		h.Error(w, http.StatusBadRequest, "missing agent ID")
		return
	}
	if h.eventBroker == nil {
		h.Error(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Subscribe BEFORE replaying history so nothing falls between the two.
	sub := h.eventBroker.Subscribe(agentID)
	defer h.eventBroker.Unsubscribe(sub)

	fmt.Fprintf(w, "event: connected\ndata: {\"agentId\":%q}\n\n", agentID)
	flusher.Flush()

	// Replayed IDs, so the live stream does not repeat them.
	sent := make(map[string]bool)

	history, err := h.replay(r, agentID)
	if err != nil {
		writeStreamError(w, err.Error())
	}
	for _, event := range history {
		if writeEvent(w, event) {
			sent[event.ID] = true
		}
	}
	flusher.Flush()

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if sent[event.ID] {
				delete(sent, event.ID)
				continue
			}
			if writeEvent(w, event) {
				flusher.Flush()
			}
		}
	}
}

var (
	errInvalidSince = errors.New("invalid since parameter, use RFC3339 format")
	errReplayFailed = errors.New("failed to get historical events")
)

// replay loads the history a stream asked for with ?after= or ?since=.
// No query parameters means no history.
func (h *Handler) replay(r *http.Request, agentID string) ([]*events.Event, error) {
	q := r.URL.Query()
	var (
		history []*events.Event
		err     error
	)
	switch {
	case q.Get("after") != "":
		history, err = h.eventBroker.GetEventsAfterID(r.Context(), agentID, q.Get("after"))
	case q.Get("since") != "":
		since, perr := parseSince(q.Get("since"))
		if perr != nil {
			return nil, errInvalidSince
		}
		history, err = h.eventBroker.GetEventsSince(r.Context(), agentID, since)
	}
	if err != nil {
		h.log.Warn("failed to replay events", zap.String("agent_id", agentID), zap.Error(err))
		return nil, errReplayFailed
	}
	return history, nil
}

// parseSince accepts RFC3339 or Unix seconds.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}

// writeEvent writes one event in SSE format: event: <type>\ndata: <json>\n\n
func writeEvent(w http.ResponseWriter, event *events.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return true
}

func writeStreamError(w http.ResponseWriter, message string) {
	fmt.Fprintf(w, "event: error\ndata: {\"error\":%q}\n\n", message)
}
