package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
	"github.com/delsolprimehomes/leadclaim/server/internal/database"
	"github.com/delsolprimehomes/leadclaim/server/internal/model"
	"github.com/delsolprimehomes/leadclaim/server/internal/store"
)

func newSQLiteStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := &config.Config{
		DatabaseDSN:    fmt.Sprintf("sqlite3://%s/test.db", t.TempDir()),
		DatabaseDriver: "sqlite",
	}
	db, err := database.New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return store.New(db.DB)
}

func createTestAgent(t *testing.T, s *store.Store, name string) *model.Agent {
	t.Helper()
	agent := &model.Agent{
		Email:     name + "@example.com",
		FirstName: name,
		LastName:  "Agent",
		IsActive:  true,
	}
	if err := s.CreateAgent(context.Background(), agent); err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}
	return agent
}

func createTestLead(t *testing.T, s *store.Store, language string, claimExpiresAt *time.Time) *model.Lead {
	t.Helper()
	email := "buyer@example.com"
	phone := "+34 600 000 000"
	lead := &model.Lead{
		FirstName:           "Ana",
		LastName:            "Buyer",
		Email:               &email,
		PhoneNumber:         &phone,
		Language:            language,
		ClaimTimerExpiresAt: claimExpiresAt,
	}
	if err := s.CreateLead(context.Background(), lead); err != nil {
		t.Fatalf("Failed to create lead: %v", err)
	}
	return lead
}

func offerTestLead(t *testing.T, s *store.Store, leadID string, agents ...*model.Agent) {
	t.Helper()
	for _, a := range agents {
		lid := leadID
		if err := s.CreateNotification(context.Background(), &model.Notification{
			AgentID:          a.ID,
			LeadID:           &lid,
			NotificationType: model.NotificationNewLeadAvailable,
			Title:            "New lead available",
			Message:          "A new lead is waiting to be claimed",
		}); err != nil {
			t.Fatalf("Failed to create notification: %v", err)
		}
	}
}
