package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sabnode/messaging-engine/internal/models"
)

const messageColumns = `id, project_id, contact_id, direction, wamid, type, content, status,
	message_timestamp, sent_at, delivered_at, read_at, error, created_at`

type messageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create stores one message. Duplicate inbound deliveries of the same wamid
// are absorbed by the unique index and return the existing row.
func (r *messageRepository) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	query := fmt.Sprintf(`
		INSERT INTO messages (project_id, contact_id, direction, wamid, type, content,
			status, message_timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (wamid) DO NOTHING
		RETURNING %s
	`, messageColumns)

	var saved models.Message
	err := r.db.GetContext(ctx, &saved, query,
		msg.ProjectID, msg.ContactID, msg.Direction, msg.Wamid, msg.Type,
		msg.Content, msg.Status, msg.MessageTimestamp, time.Now())
	if errors.Is(err, sql.ErrNoRows) {
		return r.GetByWamid(ctx, msg.Wamid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return &saved, nil
}

func (r *messageRepository) GetByWamid(ctx context.Context, wamid string) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE wamid = $1`, messageColumns)

	var msg models.Message
	err := r.db.GetContext(ctx, &msg, query, wamid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &msg, nil
}

func (r *messageRepository) GetByWamids(ctx context.Context, wamids []string) ([]*models.Message, error) {
	if len(wamids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		fmt.Sprintf(`SELECT %s FROM messages WHERE wamid IN (?)`, messageColumns), wamids)
	if err != nil {
		return nil, fmt.Errorf("failed to build wamid query: %w", err)
	}

	var msgs []*models.Message
	err = r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages by wamid: %w", err)
	}

	return msgs, nil
}

// ApplyStatus records a delivery receipt. The status column never moves to a
// lower rank, and each per-status timestamp is written once; late or
// duplicated receipts still land their timestamp without touching status.
func (r *messageRepository) ApplyStatus(ctx context.Context, wamid string, status models.DeliveryStatus, at time.Time, errMsg *string) error {
	var column string
	switch status {
	case models.StatusSent:
		column = "sent_at"
	case models.StatusDelivered:
		column = "delivered_at"
	case models.StatusRead:
		column = "read_at"
	case models.StatusFailed:
		column = ""
	default:
		return fmt.Errorf("unknown delivery status %q", status)
	}

	var errNull sql.NullString
	if errMsg != nil {
		errNull = sql.NullString{String: *errMsg, Valid: true}
	}

	// message_status_rank is defined in the migrations. FAILED shares the
	// SENT rank but may still replace SENT, so late failures land while a
	// failure after DELIVERED does not.
	const promote = `CASE
		WHEN message_status_rank($2) > message_status_rank(status)
		  OR ($2 = 'FAILED' AND status = 'SENT')
		THEN $2 ELSE status END`

	var query string
	args := []any{wamid, status}
	if column == "" {
		query = fmt.Sprintf(`
			UPDATE messages
			SET status = %s,
			    error = COALESCE($3, error)
			WHERE wamid = $1
		`, promote)
		args = append(args, errNull)
	} else {
		query = fmt.Sprintf(`
			UPDATE messages
			SET status = %s,
			    %s = COALESCE(%s, $3),
			    error = COALESCE($4, error)
			WHERE wamid = $1
		`, promote, column, column)
		args = append(args, at, errNull)
	}

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to apply message status: %w", err)
	}

	return nil
}
