// Package model defines the database models used throughout the application.
// These models work with both PostgreSQL and SQLite via GORM.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Agent roles.
const (
	RoleAgent = "agent"
)

// Agent is a sales representative who can claim leads.
type Agent struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null;type:text" json:"email"`
	FirstName string    `gorm:"column:first_name;not null;type:text" json:"first_name"`
	LastName  string    `gorm:"column:last_name;not null;type:text" json:"last_name"`
	Role      string    `gorm:"not null;type:text;default:agent" json:"role"`
	Languages string    `gorm:"type:text" json:"languages"` // comma-separated language codes
	IsActive  bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Agent) TableName() string { return "crm_agents" }

func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// FullName returns "First Last".
func (a *Agent) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// Assignment methods recorded on a lead.
const (
	AssignmentMethodClaimed = "claimed"
)

// Lead is a prospective customer inquiry. Ownership (AssignedAgentID, Claimed)
// only changes through the guarded claim update in the store.
type Lead struct {
	ID           string  `gorm:"primaryKey;type:text" json:"id"`
	FirstName    string  `gorm:"column:first_name;not null;type:text" json:"first_name"`
	LastName     string  `gorm:"column:last_name;not null;type:text" json:"last_name"`
	Email        *string `gorm:"type:text" json:"email,omitempty"`
	PhoneNumber  *string `gorm:"column:phone_number;type:text" json:"phone_number,omitempty"`
	Language     string  `gorm:"not null;type:text;index" json:"language"`
	LeadSource   string  `gorm:"column:lead_source;type:text" json:"lead_source"`
	LeadSegment  string  `gorm:"column:lead_segment;type:text" json:"lead_segment"`
	BudgetRange  string  `gorm:"column:budget_range;type:text" json:"budget_range"`
	Timeframe    string  `gorm:"type:text" json:"timeframe"`
	LeadPriority string  `gorm:"column:lead_priority;type:text" json:"lead_priority"`
	Message      string  `gorm:"type:text" json:"message"`

	AssignedAgentID  *string    `gorm:"column:assigned_agent_id;type:text;index" json:"assigned_agent_id"`
	Claimed          bool       `gorm:"not null;default:false;index" json:"claimed"`
	ClaimedBy        *string    `gorm:"column:claimed_by;type:text" json:"claimed_by"`
	AssignedAt       *time.Time `gorm:"column:assigned_at" json:"assigned_at"`
	AssignmentMethod *string    `gorm:"column:assignment_method;type:text" json:"assignment_method"`

	ClaimTimerExpiresAt   *time.Time `gorm:"column:claim_timer_expires_at" json:"claim_timer_expires_at"`
	ContactTimerStartedAt *time.Time `gorm:"column:contact_timer_started_at" json:"contact_timer_started_at"`
	ContactTimerExpiresAt *time.Time `gorm:"column:contact_timer_expires_at" json:"contact_timer_expires_at"`
	ClaimSLABreached      bool       `gorm:"column:claim_sla_breached;not null;default:false" json:"claim_sla_breached"`
	ContactSLABreached    bool       `gorm:"column:contact_sla_breached;not null;default:false" json:"contact_sla_breached"`
	FirstActionCompleted  bool       `gorm:"column:first_action_completed;not null;default:false" json:"first_action_completed"`

	Archived  bool      `gorm:"not null;default:false" json:"archived"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	AssignedAgent *Agent `gorm:"foreignKey:AssignedAgentID" json:"-"`
}

func (Lead) TableName() string { return "crm_leads" }

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// FullName returns "First Last".
func (l *Lead) FullName() string {
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

// OwnedBy reports whether agentID currently holds the lead.
func (l *Lead) OwnedBy(agentID string) bool {
	return l.Claimed && l.AssignedAgentID != nil && *l.AssignedAgentID == agentID
}

// ClaimableLead is the view of a lead shown before it is claimed.
// Contact details are withheld.
type ClaimableLead struct {
	ID                  string     `json:"id"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Language            string     `json:"language"`
	LeadSource          string     `json:"lead_source"`
	LeadSegment         string     `json:"lead_segment"`
	BudgetRange         string     `json:"budget_range"`
	Timeframe           string     `json:"timeframe"`
	LeadPriority        string     `json:"lead_priority"`
	Message             string     `json:"message"`
	Claimed             bool       `json:"claimed"`
	ClaimTimerExpiresAt *time.Time `json:"claim_timer_expires_at"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Public returns the lead without contact details.
func (l *Lead) Public() *ClaimableLead {
	return &ClaimableLead{
		ID:                  l.ID,
		FirstName:           l.FirstName,
		LastName:            l.LastName,
		Language:            l.Language,
		LeadSource:          l.LeadSource,
		LeadSegment:         l.LeadSegment,
		BudgetRange:         l.BudgetRange,
		Timeframe:           l.Timeframe,
		LeadPriority:        l.LeadPriority,
		Message:             l.Message,
		Claimed:             l.Claimed,
		ClaimTimerExpiresAt: l.ClaimTimerExpiresAt,
		CreatedAt:           l.CreatedAt,
	}
}

// Activity types.
const (
	ActivityTypeNote  = "note"
	ActivityTypeCall  = "call"
	ActivityTypeEmail = "email"
)

// Activity is an append-only audit entry for a lead.
type Activity struct {
	ID           string    `gorm:"primaryKey;type:text" json:"id"`
	LeadID       string    `gorm:"column:lead_id;not null;type:text;index" json:"lead_id"`
	AgentID      *string   `gorm:"column:agent_id;type:text;index" json:"agent_id"`
	ActivityType string    `gorm:"column:activity_type;not null;type:text" json:"activity_type"`
	Notes        string    `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	Lead *Lead `gorm:"foreignKey:LeadID" json:"-"`
}

func (Activity) TableName() string { return "crm_activities" }

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// Notification types.
const (
	NotificationNewLeadAvailable = "new_lead_available"
	NotificationLeadClaimed      = "lead_claimed"
	NotificationClaimSLABreach   = "claim_sla_breach"
	NotificationContactSLABreach = "contact_sla_breach"
)

// Notification is a per-agent inbox entry about a lead.
type Notification struct {
	ID               string     `gorm:"primaryKey;type:text" json:"id"`
	AgentID          string     `gorm:"column:agent_id;not null;type:text;index:idx_notification_agent_lead,priority:1" json:"agent_id"`
	LeadID           *string    `gorm:"column:lead_id;type:text;index:idx_notification_agent_lead,priority:2" json:"lead_id"`
	NotificationType string     `gorm:"column:notification_type;not null;type:text" json:"notification_type"`
	Title            string     `gorm:"not null;type:text" json:"title"`
	Message          string     `gorm:"not null;type:text" json:"message"`
	ActionURL        *string    `gorm:"column:action_url;type:text" json:"action_url,omitempty"`
	Read             bool       `gorm:"not null;default:false" json:"read"`
	ReadAt           *time.Time `gorm:"column:read_at" json:"read_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Notification) TableName() string { return "crm_notifications" }

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}

// RoundRobinConfig describes per-language assignment rounds. Only the
// fallback admin is used here, as the recipient of SLA breach alerts.
type RoundRobinConfig struct {
	ID              string    `gorm:"primaryKey;type:text" json:"id"`
	Language        string    `gorm:"not null;type:text;index" json:"language"`
	RoundNumber     int       `gorm:"column:round_number;not null;default:1" json:"round_number"`
	FallbackAdminID *string   `gorm:"column:fallback_admin_id;type:text" json:"fallback_admin_id"`
	IsActive        bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RoundRobinConfig) TableName() string { return "crm_round_robin_config" }

func (c *RoundRobinConfig) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// LeadEvent is a persisted realtime event. AudienceAgentID scopes delivery to
// one agent; empty means every subscriber receives it.
type LeadEvent struct {
	Seq             int64           `gorm:"column:seq;primaryKey;autoIncrement" json:"seq"`
	ID              string          `gorm:"uniqueIndex;not null;type:text" json:"id"`
	Type            string          `gorm:"not null;type:text" json:"type"`
	LeadID          string          `gorm:"column:lead_id;not null;type:text;index" json:"leadId"`
	AudienceAgentID string          `gorm:"column:audience_agent_id;not null;type:text;index" json:"audienceAgentId,omitempty"`
	Data            json.RawMessage `gorm:"type:text;not null" json:"data"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (LeadEvent) TableName() string { return "lead_events" }

func (e *LeadEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// AllModels returns all model types for migration.
func AllModels() []interface{} {
	return []interface{}{
		&Agent{},
		&Lead{},
		&Activity{},
		&Notification{},
		&RoundRobinConfig{},
		&LeadEvent{},
		&WatcherLeader{},
	}
}
