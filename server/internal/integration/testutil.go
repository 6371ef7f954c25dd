package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
	"github.com/delsolprimehomes/leadclaim/server/internal/database"
	"github.com/delsolprimehomes/leadclaim/server/internal/events"
	"github.com/delsolprimehomes/leadclaim/server/internal/handler"
	"github.com/delsolprimehomes/leadclaim/server/internal/model"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
	"github.com/delsolprimehomes/leadclaim/server/internal/watcher"
)

// TestServer wraps a test HTTP server with helpers
type TestServer struct {
	Server      *httptest.Server
	Store       *store.Store
	Config      *config.Config
	Handler     *handler.Handler
	DB          *database.DB
	EventPoller *events.Poller
	Watcher     *watcher.Service
	T           *testing.T
}

// testDSN picks the database for a test: the Postgres container when
// TEST_POSTGRES=1, TEST_DATABASE_DSN when set, else a temp-dir SQLite file.
func testDSN(t *testing.T) (dsn, driver string) {
	if PostgresEnabled() {
		return PostgresDSN(), "postgres"
	}
	if envDSN := os.Getenv("TEST_DATABASE_DSN"); envDSN != "" {
		if strings.HasPrefix(envDSN, "postgres") {
			return envDSN, "postgres"
		}
		return envDSN, "sqlite"
	}
	// A file, not :memory:, so every pooled connection sees the same database.
	return fmt.Sprintf("sqlite3://%s/test.db", t.TempDir()), "sqlite"
}

// NewTestServer creates a test server backed by SQLite or PostgreSQL with a
// running event poller and SLA watcher.
func NewTestServer(t *testing.T, mutate ...func(*config.Config)) *TestServer {
	t.Helper()

	dsn, driver := testDSN(t)
	cfg := config.Default()
	cfg.DatabaseDSN = dsn
	cfg.DatabaseDriver = driver
	cfg.Events.PollInterval = 10 * time.Millisecond // Fast polling for tests
	cfg.Watcher.HeartbeatInterval = 50 * time.Millisecond
	cfg.Watcher.HeartbeatTimeout = 500 * time.Millisecond
	cfg.Watcher.TaskTimeout = 5 * time.Second
	for _, m := range mutate {
		m(cfg)
	}

	log := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	db, err := database.New(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	// For PostgreSQL, clean tables before each test to ensure isolation
	if driver == "postgres" {
		cleanTables(db)
	}

	s := store.New(db.DB)

	pollerCfg := events.DefaultPollerConfig()
	pollerCfg.PollInterval = cfg.Events.PollInterval
	eventPoller := events.NewPoller(s, pollerCfg, log)
	if err := eventPoller.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start event poller: %v", err)
	}
	eventBroker := events.NewBroker(s, eventPoller, nil, log)

	h := handler.New(s, cfg, eventBroker, log)

	var w *watcher.Service
	if cfg.Watcher.Enabled {
		w = watcher.NewService(s, cfg.Watcher, log)
		if err := watcher.RegisterTasks(w, h.SLAService(), eventBroker, cfg); err != nil {
			t.Fatalf("Failed to register watcher tasks: %v", err)
		}
		w.Start(context.Background())
	}

	server := httptest.NewServer(handler.NewRouter(h, log))

	ts := &TestServer{
		Server:      server,
		Store:       s,
		Config:      cfg,
		Handler:     h,
		DB:          db,
		EventPoller: eventPoller,
		Watcher:     w,
		T:           t,
	}

	t.Cleanup(func() {
		if w != nil {
			w.Stop()
		}
		eventPoller.Stop()
		server.Close()
		db.Close()
	})

	return ts
}

// CreateTestAgent inserts an active agent.
func (ts *TestServer) CreateTestAgent(name string) *model.Agent {
	ts.T.Helper()
	agent := &model.Agent{
		Email:     strings.ToLower(name) + "@example.com",
		FirstName: name,
		LastName:  "Agent",
		Role:      model.RoleAgent,
		Languages: "en,es",
		IsActive:  true,
	}
	if err := ts.Store.CreateAgent(context.Background(), agent); err != nil {
		ts.T.Fatalf("Failed to create test agent: %v", err)
	}
	return agent
}

// CreateTestLead inserts an unclaimed lead whose claim window ends after
// claimWindow.
func (ts *TestServer) CreateTestLead(name, language string, claimWindow time.Duration) *model.Lead {
	ts.T.Helper()
	expires := time.Now().UTC().Add(claimWindow)
	lead := &model.Lead{
		FirstName:           name,
		LastName:            "Buyer",
		Email:               strPtr(strings.ToLower(name) + "@buyer.example.com"),
		PhoneNumber:         strPtr("+34 600 000 000"),
		Language:            language,
		LeadSource:          "website",
		LeadPriority:        "high",
		ClaimTimerExpiresAt: &expires,
	}
	if err := ts.Store.CreateLead(context.Background(), lead); err != nil {
		ts.T.Fatalf("Failed to create test lead: %v", err)
	}
	return lead
}

// OfferLead sends a new_lead_available notification for lead to each agent.
func (ts *TestServer) OfferLead(lead *model.Lead, agents ...*model.Agent) {
	ts.T.Helper()
	for _, a := range agents {
		if err := ts.Store.CreateNotification(context.Background(), &model.Notification{
			AgentID:          a.ID,
			LeadID:           strPtr(lead.ID),
			NotificationType: model.NotificationNewLeadAvailable,
			Title:            "New lead available",
			Message:          lead.FullName() + " is waiting to be claimed",
		}); err != nil {
			ts.T.Fatalf("Failed to offer lead: %v", err)
		}
	}
}

// Get makes a GET request against the test server.
func (ts *TestServer) Get(path string) *http.Response {
	ts.T.Helper()
	return ts.do(http.MethodGet, path, nil)
}

// Post makes a POST request with a JSON body.
func (ts *TestServer) Post(path string, body interface{}) *http.Response {
	ts.T.Helper()
	return ts.do(http.MethodPost, path, body)
}

func (ts *TestServer) do(method, path string, body interface{}) *http.Response {
	ts.T.Helper()

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			ts.T.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		ts.T.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ts.Config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ts.Config.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.T.Fatalf("Request failed: %v", err)
	}
	return resp
}

// ParseJSON parses the response body as JSON
func ParseJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("Failed to parse JSON: %v\nBody: %s", err, string(body))
	}
}

// AssertStatus checks the response status code
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("Expected status %d, got %d\nBody: %s", expected, resp.StatusCode, string(body))
	}
}

func strPtr(s string) *string {
	return &s
}

// cleanTables truncates all tables for test isolation (PostgreSQL only)
func cleanTables(db *database.DB) {
	tables := []string{
		"lead_events",
		"crm_notifications",
		"crm_activities",
		"crm_leads",
		"crm_round_robin_config",
		"crm_agents",
		"watcher_leaders",
	}

	for _, table := range tables {
		db.Exec("TRUNCATE TABLE " + table + " CASCADE")
	}
}
