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

const contactColumns = `id, project_id, wa_id, phone_number_id, name, last_message,
	last_message_timestamp, unread_count, active_flow, flow_version, is_opted_out,
	has_received_welcome, created_at, updated_at`

type contactRepository struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) ContactRepository {
	return &contactRepository{db: db}
}

// Upsert inserts or refreshes the conversation row for an inbound message.
// The unread counter and last-message snapshot move on every call; profile
// name only overwrites when the webhook carried one.
func (r *contactRepository) Upsert(ctx context.Context, contact *models.Contact) (*models.Contact, error) {
	query := fmt.Sprintf(`
		INSERT INTO contacts (project_id, wa_id, phone_number_id, name, last_message,
			last_message_timestamp, unread_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
		ON CONFLICT (project_id, wa_id) DO UPDATE SET
			phone_number_id = EXCLUDED.phone_number_id,
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE contacts.name END,
			last_message = EXCLUDED.last_message,
			last_message_timestamp = EXCLUDED.last_message_timestamp,
			unread_count = contacts.unread_count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING %s
	`, contactColumns)

	var saved models.Contact
	err := r.db.GetContext(ctx, &saved, query,
		contact.ProjectID, contact.WaID, contact.PhoneNumberID, contact.Name,
		contact.LastMessage, contact.LastMessageTimestamp, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}

	return &saved, nil
}

func (r *contactRepository) GetByWaID(ctx context.Context, projectID int64, waID string) (*models.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE project_id = $1 AND wa_id = $2`, contactColumns)

	var contact models.Contact
	err := r.db.GetContext(ctx, &contact, query, projectID, waID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return &contact, nil
}

// SetActiveFlow writes the flow cursor only if the row still carries the
// version the caller read. A nil state clears the cursor.
func (r *contactRepository) SetActiveFlow(ctx context.Context, contactID int64, state *models.ActiveFlowState, version int64) (bool, error) {
	query := `
		UPDATE contacts
		SET active_flow = $2,
		    flow_version = flow_version + 1,
		    updated_at = $3
		WHERE id = $1 AND flow_version = $4
	`

	res, err := r.db.ExecContext(ctx, query, contactID, state, time.Now(), version)
	if err != nil {
		return false, fmt.Errorf("failed to set active flow: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

// ListWaitingSince returns contacts whose flow cursor has been parked on a
// reply-wait longer than the cutoff.
func (r *contactRepository) ListWaitingSince(ctx context.Context, cutoff time.Time, limit int) ([]*models.Contact, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM contacts
		WHERE active_flow IS NOT NULL
		  AND (active_flow->>'waitingSince') IS NOT NULL
		  AND (active_flow->>'waitingSince')::timestamptz < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, contactColumns)

	var contacts []*models.Contact
	err := r.db.SelectContext(ctx, &contacts, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting contacts: %w", err)
	}

	return contacts, nil
}

func (r *contactRepository) SetOptedOut(ctx context.Context, contactID int64, optedOut bool) error {
	query := `UPDATE contacts SET is_opted_out = $2, updated_at = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, contactID, optedOut, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set opt-out state: %w", err)
	}

	return nil
}

func (r *contactRepository) MarkWelcomed(ctx context.Context, contactID int64) error {
	query := `UPDATE contacts SET has_received_welcome = TRUE, updated_at = $2 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, contactID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark contact welcomed: %w", err)
	}

	return nil
}
