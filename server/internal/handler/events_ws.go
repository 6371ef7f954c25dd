package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// Origins are enforced by CORS and the API key, not the upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// wsMessage is one frame on the event socket.
type wsMessage struct {
	Type    string        `json:"type"`
	AgentID string        `json:"agentId,omitempty"`
	Event   *events.Event `json:"event,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// EventsWebSocket streams the same events as Events over a WebSocket.
// GET /api/agents/{agentId}/events/ws
// Accepts the same since/after replay parameters. Every frame is a JSON
// wsMessage: "connected" first, then "event" frames, or "error".
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		h.Error(w, http.StatusBadRequest, "missing agent ID")
		return
	}
	if h.eventBroker == nil {
		h.Error(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.eventBroker.Subscribe(agentID)
	defer h.eventBroker.Unsubscribe(sub)

	// The read side only handles control frames; it ends when the client goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg) == nil
	}

	if !send(wsMessage{Type: "connected", AgentID: agentID}) {
		return
	}

	sent := make(map[string]bool)
	history, err := h.replay(r, agentID)
	if err != nil && !send(wsMessage{Type: "error", Error: err.Error()}) {
		return
	}
	for _, event := range history {
		if !send(wsMessage{Type: "event", Event: event}) {
			return
		}
		sent[event.ID] = true
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if sent[event.ID] {
				delete(sent, event.ID)
				continue
			}
			if !send(wsMessage{Type: "event", Event: event}) {
				return
			}
		}
	}
}
