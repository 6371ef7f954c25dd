package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/events"
)

func dialEvents(t *testing.T, srv *httptest.Server, agentID, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/agents/" + agentID + "/events/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return msg
}

func TestEventsWebSocket_Live(t *testing.T) {
	env := newTestEnv(t)
	a1 := env.agent(t, "a1")
	a2 := env.agent(t, "a2")
	l := env.lead(t, false)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialEvents(t, srv, a2.ID, "")
	if msg := readFrame(t, conn); msg.Type != "connected" || msg.AgentID != a2.ID {
		t.Fatalf("first frame = %+v", msg)
	}

	rec := env.do(t, http.MethodPost, "/api/claim-lead", ClaimLeadRequest{LeadID: l.ID, AgentID: a1.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim = %d %s", rec.Code, rec.Body.String())
	}

	msg := readFrame(t, conn)
	if msg.Type != "event" || msg.Event == nil {
		t.Fatalf("expected event frame, got %+v", msg)
	}
	if msg.Event.Type != events.EventTypeLeadClaimed || msg.Event.LeadID != l.ID {
		t.Errorf("unexpected event %+v", msg.Event)
	}
}

func TestEventsWebSocket_ReplaySince(t *testing.T) {
	env := newTestEnv(t)
	a1 := env.agent(t, "a1")
	l := env.lead(t, false)

	if rec := env.do(t, http.MethodPost, "/api/claim-lead", ClaimLeadRequest{LeadID: l.ID, AgentID: a1.ID}); rec.Code != http.StatusOK {
		t.Fatalf("claim = %d %s", rec.Code, rec.Body.String())
	}

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialEvents(t, srv, a1.ID, "?since=0")
	if msg := readFrame(t, conn); msg.Type != "connected" {
		t.Fatalf("first frame = %+v", msg)
	}
	msg := readFrame(t, conn)
	if msg.Type != "event" || msg.Event == nil || msg.Event.LeadID != l.ID {
		t.Fatalf("expected replayed claim, got %+v", msg)
	}
}

func TestEventsWebSocket_InvalidSince(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialEvents(t, srv, "a1", "?since=yesterday")
	readFrame(t, conn)
	msg := readFrame(t, conn)
	if msg.Type != "error" || msg.Error != errInvalidSince.Error() {
		t.Errorf("expected invalid since error, got %+v", msg)
	}
}

func TestEventsWebSocket_NoBroker(t *testing.T) {
	h := &Handler{log: zap.NewNop()}
	r := chi.NewRouter()
	r.Get("/agents/{agentId}/events/ws", h.EventsWebSocket)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents/a1/events/ws", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
