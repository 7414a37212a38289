// Package repository implements Postgres-backed persistence for projects,
// contacts, messages, flows and broadcast jobs.
package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// repositoryImpl is the concrete implementation of Repository interface.
type repositoryImpl struct {
	db                *sqlx.DB
	projects          ProjectRepository
	contacts          ContactRepository
	messages          MessageRepository
	broadcasts        BroadcastRepository
	broadcastContacts BroadcastContactRepository
	flows             FlowRepository
	flowLogs          FlowLogRepository
	notifications     NotificationRepository
	webhookLogs       WebhookLogRepository
}

// NewRepository creates a new repository instance.
func NewRepository(db *sqlx.DB) Repository {
	return &repositoryImpl{
		db:                db,
		projects:          NewProjectRepository(db),
		contacts:          NewContactRepository(db),
		messages:          NewMessageRepository(db),
		broadcasts:        NewBroadcastRepository(db),
		broadcastContacts: NewBroadcastContactRepository(db),
		flows:             NewFlowRepository(db),
		flowLogs:          NewFlowLogRepository(db),
		notifications:     NewNotificationRepository(db),
		webhookLogs:       NewWebhookLogRepository(db),
	}
}

func (r *repositoryImpl) Projects() ProjectRepository                   { return r.projects }
func (r *repositoryImpl) Contacts() ContactRepository                   { return r.contacts }
func (r *repositoryImpl) Messages() MessageRepository                   { return r.messages }
func (r *repositoryImpl) Broadcasts() BroadcastRepository               { return r.broadcasts }
func (r *repositoryImpl) BroadcastContacts() BroadcastContactRepository { return r.broadcastContacts }
func (r *repositoryImpl) Flows() FlowRepository                         { return r.flows }
func (r *repositoryImpl) FlowLogs() FlowLogRepository                   { return r.flowLogs }
func (r *repositoryImpl) Notifications() NotificationRepository         { return r.notifications }
func (r *repositoryImpl) WebhookLogs() WebhookLogRepository             { return r.webhookLogs }

// Ping checks if the database connection is healthy.
func (r *repositoryImpl) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return r.db.PingContext(ctx)
}
