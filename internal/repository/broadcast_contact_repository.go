package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sabnode/messaging-engine/internal/models"
)

const broadcastContactColumns = `id, broadcast_id, phone, variables, status, message_id, error, sent_at`

type broadcastContactRepository struct {
	db *sqlx.DB
}

func NewBroadcastContactRepository(db *sqlx.DB) BroadcastContactRepository {
	return &broadcastContactRepository{db: db}
}

// GetByMessageIDs maps provider message ids back to broadcast recipients so
// delivery receipts can be attributed to their job.
func (r *broadcastContactRepository) GetByMessageIDs(ctx context.Context, messageIDs []string) ([]*models.BroadcastContact, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		fmt.Sprintf(`SELECT %s FROM broadcast_contacts WHERE message_id IN (?)`, broadcastContactColumns),
		messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build message id query: %w", err)
	}

	var contacts []*models.BroadcastContact
	err = r.db.SelectContext(ctx, &contacts, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcast contacts: %w", err)
	}

	return contacts, nil
}

// UpdateSendResults settles a batch of send attempts in one round trip. A
// result with a message id becomes SENT; one with an error becomes FAILED.
func (r *broadcastContactRepository) UpdateSendResults(ctx context.Context, results []SendResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		UPDATE broadcast_contacts
		SET status = $2, message_id = $3, error = $4, sent_at = $5
		WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare send result update: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, res := range results {
		status := models.StatusSent
		if res.Error != nil {
			status = models.StatusFailed
		}

		var msgID, errMsg sql.NullString
		if res.MessageID != nil {
			msgID = sql.NullString{String: *res.MessageID, Valid: true}
		}
		if res.Error != nil {
			errMsg = sql.NullString{String: *res.Error, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, res.BroadcastContactID, status, msgID, errMsg, res.SentAt); err != nil {
			return fmt.Errorf("failed to update send result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit send results: %w", err)
	}

	return nil
}

// UpdateStatuses bulk-advances recipient rows to a receipt-derived status.
// Rank-guarded so a concurrent sweep replaying older receipts cannot move a
// row backwards.
func (r *broadcastContactRepository) UpdateStatuses(ctx context.Context, ids []int64, status models.DeliveryStatus) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE broadcast_contacts
		SET status = ?
		WHERE id IN (?)
		  AND (message_status_rank(?) > message_status_rank(status)
		       OR (? = 'FAILED' AND status = 'SENT'))
	`, status, ids, status, status)
	if err != nil {
		return fmt.Errorf("failed to build status update: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update broadcast contact statuses: %w", err)
	}

	return nil
}
