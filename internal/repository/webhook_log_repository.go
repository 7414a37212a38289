package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sabnode/messaging-engine/internal/models"
)

type webhookLogRepository struct {
	db *sqlx.DB
}

func NewWebhookLogRepository(db *sqlx.DB) WebhookLogRepository {
	return &webhookLogRepository{db: db}
}

// Create persists a raw webhook payload before any processing, so the
// delivery is durable the moment the provider gets its 200.
func (r *webhookLogRepository) Create(ctx context.Context, payload []byte) (int64, error) {
	query := `
		INSERT INTO webhook_logs (payload, processed, created_at)
		VALUES ($1, FALSE, $2)
		RETURNING id
	`

	// lib/pq encodes []byte as bytea, so the jsonb column takes a string.
	var id int64
	err := r.db.GetContext(ctx, &id, query, string(payload), time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook log: %w", err)
	}

	return id, nil
}

func (r *webhookLogRepository) GetUnprocessed(ctx context.Context, limit int) ([]*models.WebhookLog, error) {
	query := `
		SELECT id, payload, processed, error, created_at
		FROM webhook_logs
		WHERE processed = FALSE
		ORDER BY id ASC
		LIMIT $1
	`

	var logs []*models.WebhookLog
	err := r.db.SelectContext(ctx, &logs, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unprocessed webhook logs: %w", err)
	}

	return logs, nil
}

// MarkProcessed finalizes a log entry. A non-nil processErr records why
// processing failed; the entry is still retired from the sweep.
func (r *webhookLogRepository) MarkProcessed(ctx context.Context, id int64, processErr *string) error {
	var errNull sql.NullString
	if processErr != nil {
		errNull = sql.NullString{String: *processErr, Valid: true}
	}

	query := `UPDATE webhook_logs SET processed = TRUE, error = $2 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, errNull)
	if err != nil {
		return fmt.Errorf("failed to mark webhook log processed: %w", err)
	}

	return nil
}

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (project_id, waba_id, message, event_type, is_read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`

	_, err := r.db.ExecContext(ctx, query, n.ProjectID, n.WabaID, n.Message, n.EventType, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}
