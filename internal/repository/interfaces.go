package repository

import (
	"context"
	"time"

	"github.com/sabnode/messaging-engine/internal/models"
)

// Repository bundles every persistence concern behind one constructor so
// services depend on the slice they need.
type Repository interface {
	// Ping checks database connectivity
	Ping() error

	Projects() ProjectRepository
	Contacts() ContactRepository
	Messages() MessageRepository
	Broadcasts() BroadcastRepository
	BroadcastContacts() BroadcastContactRepository
	Flows() FlowRepository
	FlowLogs() FlowLogRepository
	Notifications() NotificationRepository
	WebhookLogs() WebhookLogRepository
}

// ProjectRepository resolves tenants and mutates the provider-sourced
// account state the webhook stream reports.
type ProjectRepository interface {
	GetByWabaID(ctx context.Context, wabaID string) (*models.Project, error)
	GetByID(ctx context.Context, id int64) (*models.Project, error)
	UpdateReviewStatus(ctx context.Context, wabaID, status string) error
	UpdateBanState(ctx context.Context, wabaID, banState string) error
	UpdatePhoneQuality(ctx context.Context, wabaID, phoneNumberID, quality string) error
	UpdatePhoneVerifiedName(ctx context.Context, wabaID, phoneNumberID, name string) error
	UpdateMessagingLimit(ctx context.Context, wabaID, phoneNumberID, limit string) error
}

type ContactRepository interface {
	// Upsert inserts or refreshes a contact keyed on (project_id, wa_id)
	// and bumps the unread counter on inbound traffic.
	Upsert(ctx context.Context, contact *models.Contact) (*models.Contact, error)
	GetByWaID(ctx context.Context, projectID int64, waID string) (*models.Contact, error)

	// SetActiveFlow persists the flow cursor guarded by the version the
	// caller read; false means a concurrent writer won.
	SetActiveFlow(ctx context.Context, contactID int64, state *models.ActiveFlowState, version int64) (bool, error)
	ListWaitingSince(ctx context.Context, cutoff time.Time, limit int) ([]*models.Contact, error)

	SetOptedOut(ctx context.Context, contactID int64, optedOut bool) error
	MarkWelcomed(ctx context.Context, contactID int64) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)
	GetByWamid(ctx context.Context, wamid string) (*models.Message, error)
	GetByWamids(ctx context.Context, wamids []string) ([]*models.Message, error)

	// ApplyStatus records a delivery receipt: the status column only moves
	// forward, per-status timestamps are set once.
	ApplyStatus(ctx context.Context, wamid string, status models.DeliveryStatus, at time.Time, errMsg *string) error
}

type BroadcastRepository interface {
	GetByID(ctx context.Context, id int64) (*models.BroadcastJob, error)
	MarkProcessing(ctx context.Context, id int64) error

	// IncrementCounters applies one atomic delta and returns the resulting
	// totals so the caller can decide terminal promotion.
	IncrementCounters(ctx context.Context, id int64, delta models.CounterDelta) (*models.BroadcastTotals, error)

	// PromoteTerminal moves a job from one status to another only if it is
	// still in the expected status; false means another worker already did.
	PromoteTerminal(ctx context.Context, id int64, from, to models.BroadcastStatus) (bool, error)

	AddLog(ctx context.Context, broadcastID int64, level, message string) error
}

type BroadcastContactRepository interface {
	GetByMessageIDs(ctx context.Context, messageIDs []string) ([]*models.BroadcastContact, error)
	UpdateSendResults(ctx context.Context, results []SendResult) error
	UpdateStatuses(ctx context.Context, ids []int64, status models.DeliveryStatus) error
}

type FlowRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Flow, error)
	ListByProject(ctx context.Context, projectID int64) ([]*models.Flow, error)
}

type FlowLogRepository interface {
	Create(ctx context.Context, log *models.FlowLog) error
}

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
}

type WebhookLogRepository interface {
	Create(ctx context.Context, payload []byte) (int64, error)
	GetUnprocessed(ctx context.Context, limit int) ([]*models.WebhookLog, error)
	MarkProcessed(ctx context.Context, id int64, processErr *string) error
}

// SendResult is the per-recipient outcome of one broadcast send attempt.
type SendResult struct {
	BroadcastContactID int64
	MessageID          *string
	Error              *string
	SentAt             time.Time
}
