package repository_test

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sabnode/messaging-engine/internal/models"
)

func insertTestProject(db *sqlx.DB, wabaID string) (int64, error) {
	var id int64
	query := `
		INSERT INTO projects (name, waba_id, access_token, phone_numbers, messages_per_second, created_at, updated_at)
		VALUES ($1, $2, 'test-token', $3, 80, NOW(), NOW())
		RETURNING id
	`

	phones := models.PhoneNumbers{{ID: "111", DisplayPhoneNumber: "+15550001111", QualityRating: "GREEN"}}
	err := db.QueryRow(query, "Test Project "+wabaID, wabaID, phones).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test project: %w", err)
	}

	return id, nil
}

func insertTestContact(db *sqlx.DB, projectID int64, waID string) (int64, error) {
	var id int64
	query := `
		INSERT INTO contacts (project_id, wa_id, phone_number_id, name, unread_count, created_at, updated_at)
		VALUES ($1, $2, '111', 'Test Contact', 0, NOW(), NOW())
		RETURNING id
	`

	err := db.QueryRow(query, projectID, waID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test contact: %w", err)
	}

	return id, nil
}

func insertTestMessage(db *sqlx.DB, projectID, contactID int64, wamid string, status models.DeliveryStatus) (int64, error) {
	var id int64
	query := `
		INSERT INTO messages (project_id, contact_id, direction, wamid, type, content, status, message_timestamp, created_at)
		VALUES ($1, $2, 'out', $3, 'text', '{}', $4, $5, NOW())
		RETURNING id
	`

	err := db.QueryRow(query, projectID, contactID, wamid, status, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test message: %w", err)
	}

	return id, nil
}

func insertTestBroadcast(db *sqlx.DB, projectID int64, contactCount int64, status models.BroadcastStatus) (int64, error) {
	var id int64
	query := `
		INSERT INTO broadcasts (project_id, template_name, language, phone_number_id, status,
			contact_count, messages_per_second, created_at)
		VALUES ($1, 'order_update', 'en_US', '111', $2, $3, 80, NOW())
		RETURNING id
	`

	err := db.QueryRow(query, projectID, status, contactCount).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test broadcast: %w", err)
	}

	return id, nil
}

func insertTestBroadcastContact(db *sqlx.DB, broadcastID int64, phone string, messageID *string) (int64, error) {
	var id int64
	query := `
		INSERT INTO broadcast_contacts (broadcast_id, phone, variables, status, message_id)
		VALUES ($1, $2, '{}', 'PENDING', $3)
		RETURNING id
	`

	err := db.QueryRow(query, broadcastID, phone, messageID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test broadcast contact: %w", err)
	}

	return id, nil
}

func ptr(s string) *string {
	return &s
}
