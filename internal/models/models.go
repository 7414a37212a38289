// Package models defines data structures used throughout the application.
package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DeliveryStatus is the wire-level status of an outbound message or a
// broadcast recipient row.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "PENDING"
	StatusSent      DeliveryStatus = "SENT"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusRead      DeliveryStatus = "READ"
)

// Severity places a status in the hierarchy PENDING < SENT/FAILED <
// DELIVERED < READ. Updates are applied only when they move strictly up,
// except the explicit downgrade to FAILED before DELIVERED.
func (s DeliveryStatus) Severity() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent, StatusFailed:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// BroadcastStatus is a BroadcastJob lifecycle status.
type BroadcastStatus string

const (
	BroadcastQueued         BroadcastStatus = "QUEUED"
	BroadcastProcessing     BroadcastStatus = "PROCESSING"
	BroadcastCompleted      BroadcastStatus = "COMPLETED"
	BroadcastPartialFailure BroadcastStatus = "PARTIAL_FAILURE"
	BroadcastFailed         BroadcastStatus = "FAILED"
	BroadcastCancelled      BroadcastStatus = "CANCELLED"
)

// JSONMap is a JSONB column holding arbitrary string-keyed data.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(b, m)
}

// PhoneNumber is one provider phone number attached to a Project,
// denormalized from account webhooks.
type PhoneNumber struct {
	ID                 string `json:"id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	VerifiedName       string `json:"verified_name"`
	QualityRating      string `json:"quality_rating"`
	ThroughputLevel    string `json:"throughput_level,omitempty"`
}

type PhoneNumbers []PhoneNumber

func (p PhoneNumbers) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *PhoneNumbers) Scan(src any) error {
	if src == nil {
		*p = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into PhoneNumbers", src)
	}
	return json.Unmarshal(b, p)
}

// Project is the provider-side tenant (one WABA). Only the fields this core
// reads or mutates are modeled; the dashboard owns the rest.
type Project struct {
	ID                 int64            `db:"id" json:"id"`
	Name               string           `db:"name" json:"name"`
	WabaID             string           `db:"waba_id" json:"waba_id"`
	AccessToken        string           `db:"access_token" json:"-"`
	PhoneNumbers       PhoneNumbers     `db:"phone_numbers" json:"phone_numbers"`
	MessagesPerSecond  int              `db:"messages_per_second" json:"messages_per_second"`
	ReviewStatus       sql.NullString   `db:"review_status" json:"review_status,omitempty"`
	BanState           sql.NullString   `db:"ban_state" json:"ban_state,omitempty"`
	AutoReplySettings  *AutoReplyConfig `db:"auto_reply_settings" json:"auto_reply_settings,omitempty"`
	OptInOutSettings   *OptInOutConfig  `db:"opt_in_out_settings" json:"opt_in_out_settings,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// Credentials returns the send credentials for a given business phone number.
func (p *Project) Credentials(phoneNumberID string) Credentials {
	return Credentials{AccessToken: p.AccessToken, PhoneNumberID: phoneNumberID}
}

// Credentials authorize one outbound provider call.
type Credentials struct {
	AccessToken   string `json:"accessToken"`
	PhoneNumberID string `json:"phoneNumberId"`
}

// ActiveFlowState is a contact's live execution cursor within a Flow.
type ActiveFlowState struct {
	FlowID        int64          `json:"flowId"`
	CurrentNodeID string         `json:"currentNodeId"`
	Variables     map[string]any `json:"variables"`
	WaitingSince  *time.Time     `json:"waitingSince,omitempty"`
}

func (s *ActiveFlowState) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *ActiveFlowState) Scan(src any) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ActiveFlowState", src)
	}
	return json.Unmarshal(b, s)
}

// Contact is one end-user conversation thread.
type Contact struct {
	ID                   int64            `db:"id" json:"id"`
	ProjectID            int64            `db:"project_id" json:"project_id"`
	WaID                 string           `db:"wa_id" json:"wa_id"`
	PhoneNumberID        string           `db:"phone_number_id" json:"phone_number_id"`
	Name                 string           `db:"name" json:"name"`
	LastMessage          sql.NullString   `db:"last_message" json:"last_message,omitempty"`
	LastMessageTimestamp sql.NullTime     `db:"last_message_timestamp" json:"last_message_timestamp,omitempty"`
	UnreadCount          int              `db:"unread_count" json:"unread_count"`
	ActiveFlow           *ActiveFlowState `db:"active_flow" json:"active_flow,omitempty"`
	// FlowVersion guards activeFlow read-modify-write: every write bumps it
	// and carries the version it read, so a concurrent step loses the race
	// instead of executing twice.
	FlowVersion        int64     `db:"flow_version" json:"flow_version"`
	IsOptedOut         bool      `db:"is_opted_out" json:"is_opted_out"`
	HasReceivedWelcome bool      `db:"has_received_welcome" json:"has_received_welcome"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Message is one wire-level message, either direction. Outgoing delivery
// status is mutated only by the status reconciler.
type Message struct {
	ID               int64          `db:"id" json:"id"`
	ProjectID        int64          `db:"project_id" json:"project_id"`
	ContactID        int64          `db:"contact_id" json:"contact_id"`
	Direction        string         `db:"direction" json:"direction"`
	Wamid            string         `db:"wamid" json:"wamid"`
	Type             string         `db:"type" json:"type"`
	Content          JSONMap        `db:"content" json:"content"`
	Status           DeliveryStatus `db:"status" json:"status"`
	MessageTimestamp time.Time      `db:"message_timestamp" json:"message_timestamp"`
	SentAt           sql.NullTime   `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt      sql.NullTime   `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt           sql.NullTime   `db:"read_at" json:"read_at,omitempty"`
	Error            sql.NullString `db:"error" json:"error,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// BroadcastJob is one bulk-send campaign. Counters are incremented by
// dispatcher workers and the status reconciler, never set absolutely.
type BroadcastJob struct {
	ID                int64           `db:"id" json:"id"`
	ProjectID         int64           `db:"project_id" json:"project_id"`
	TemplateName      string          `db:"template_name" json:"template_name"`
	Language          string          `db:"language" json:"language"`
	PhoneNumberID     string          `db:"phone_number_id" json:"phone_number_id"`
	Status            BroadcastStatus `db:"status" json:"status"`
	ContactCount      int64           `db:"contact_count" json:"contact_count"`
	SuccessCount      int64           `db:"success_count" json:"success_count"`
	ErrorCount        int64           `db:"error_count" json:"error_count"`
	DeliveredCount    int64           `db:"delivered_count" json:"delivered_count"`
	ReadCount         int64           `db:"read_count" json:"read_count"`
	MessagesPerSecond int             `db:"messages_per_second" json:"messages_per_second"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	StartedAt         sql.NullTime    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt       sql.NullTime    `db:"completed_at" json:"completed_at,omitempty"`
}

// BroadcastContact is one recipient row within a job.
type BroadcastContact struct {
	ID          int64          `db:"id" json:"id"`
	BroadcastID int64          `db:"broadcast_id" json:"broadcast_id"`
	Phone       string         `db:"phone" json:"phone"`
	Variables   JSONMap        `db:"variables" json:"variables,omitempty"`
	Status      DeliveryStatus `db:"status" json:"status"`
	MessageID   sql.NullString `db:"message_id" json:"message_id,omitempty"`
	Error       sql.NullString `db:"error" json:"error,omitempty"`
	SentAt      sql.NullTime   `db:"sent_at" json:"sent_at,omitempty"`
}

// CounterDelta is one atomic adjustment to a job's aggregate counters,
// computed from status transitions rather than absolute values so replays
// are no-ops.
type CounterDelta struct {
	Success   int64
	Error     int64
	Delivered int64
	Read      int64
}

func (d CounterDelta) IsZero() bool {
	return d.Success == 0 && d.Error == 0 && d.Delivered == 0 && d.Read == 0
}

// BroadcastTotals is the post-increment view of a job's counters used to
// decide terminal promotion.
type BroadcastTotals struct {
	Status       BroadcastStatus `db:"status"`
	ContactCount int64           `db:"contact_count"`
	SuccessCount int64           `db:"success_count"`
	ErrorCount   int64           `db:"error_count"`
}

// Processed reports how many recipients have a settled send outcome.
func (t BroadcastTotals) Processed() int64 {
	return t.SuccessCount + t.ErrorCount
}

// BroadcastLog is one progress line recorded while a broadcast job runs.
type BroadcastLog struct {
	ID          int64     `db:"id" json:"id"`
	BroadcastID int64     `db:"broadcast_id" json:"broadcast_id"`
	Level       string    `db:"level" json:"level"`
	Message     string    `db:"message" json:"message"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Notification is a user-facing summary of a non-message webhook event.
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	ProjectID int64     `db:"project_id" json:"project_id"`
	WabaID    string    `db:"waba_id" json:"waba_id"`
	Message   string    `db:"message" json:"message"`
	EventType string    `db:"event_type" json:"event_type"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FlowLogEntry is one timestamped line in a Flow execution audit trail.
type FlowLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type FlowLogEntries []FlowLogEntry

func (e FlowLogEntries) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

func (e *FlowLogEntries) Scan(src any) error {
	if src == nil {
		*e = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into FlowLogEntries", src)
	}
	return json.Unmarshal(b, e)
}

// FlowLog is the audit trail of one Flow execution segment, flushed once per
// suspend or terminal boundary.
type FlowLog struct {
	ID        int64          `db:"id" json:"id"`
	ProjectID int64          `db:"project_id" json:"project_id"`
	ContactID int64          `db:"contact_id" json:"contact_id"`
	FlowID    int64          `db:"flow_id" json:"flow_id"`
	FlowName  string         `db:"flow_name" json:"flow_name"`
	Entries   FlowLogEntries `db:"entries" json:"entries"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// WebhookLog is one raw provider envelope, persisted at ingestion and
// drained by the processor sweep.
type WebhookLog struct {
	ID        int64          `db:"id" json:"id"`
	Payload   []byte         `db:"payload" json:"payload"`
	Processed bool           `db:"processed" json:"processed"`
	Error     sql.NullString `db:"error" json:"error,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// AutoReplyConfig mirrors the project's auto-reply settings document.
type AutoReplyConfig struct {
	MasterEnabled  bool                 `json:"masterEnabled"`
	WelcomeMessage *WelcomeMessage      `json:"welcomeMessage,omitempty"`
	General        *GeneralReplies      `json:"general,omitempty"`
	InactiveHours  *InactiveHoursConfig `json:"inactiveHours,omitempty"`
	AIAssistant    *AIAssistantConfig   `json:"aiAssistant,omitempty"`
}

func (c *AutoReplyConfig) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (c *AutoReplyConfig) Scan(src any) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into AutoReplyConfig", src)
	}
	return json.Unmarshal(b, c)
}

type WelcomeMessage struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

type GeneralReplies struct {
	Enabled bool               `json:"enabled"`
	Replies []GeneralReplyRule `json:"replies"`
}

type GeneralReplyRule struct {
	Keywords  string `json:"keywords"`
	Reply     string `json:"reply"`
	MatchType string `json:"matchType"` // contains | exact
}

// InactiveHoursConfig describes an out-of-office window. Days use 0=Sunday.
// StartTime/EndTime are "HH:MM" in the configured timezone; the range may
// cross midnight.
type InactiveHoursConfig struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Timezone  string `json:"timezone"`
	Days      []int  `json:"days"`
	Message   string `json:"message"`
}

type AIAssistantConfig struct {
	Enabled bool   `json:"enabled"`
	Context string `json:"context"`
}

// OptInOutConfig mirrors the project's opt-in/out keyword settings.
type OptInOutConfig struct {
	Enabled         bool     `json:"enabled"`
	OptOutKeywords  []string `json:"optOutKeywords"`
	OptOutResponse  string   `json:"optOutResponse"`
	OptInKeywords   []string `json:"optInKeywords"`
	OptInResponse   string   `json:"optInResponse"`
}

func (c *OptInOutConfig) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (c *OptInOutConfig) Scan(src any) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into OptInOutConfig", src)
	}
	return json.Unmarshal(b, c)
}
