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

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const projectColumns = `id, name, waba_id, access_token, phone_numbers, messages_per_second,
	review_status, ban_state, auto_reply_settings, opt_in_out_settings, created_at, updated_at`

type projectRepository struct {
	db *sqlx.DB
}

func NewProjectRepository(db *sqlx.DB) ProjectRepository {
	return &projectRepository{db: db}
}

// GetByWabaID resolves the tenant a webhook entry belongs to.
func (r *projectRepository) GetByWabaID(ctx context.Context, wabaID string) (*models.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE waba_id = $1`, projectColumns)

	var project models.Project
	err := r.db.GetContext(ctx, &project, query, wabaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project by waba id: %w", err)
	}

	return &project, nil
}

func (r *projectRepository) GetByID(ctx context.Context, id int64) (*models.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE id = $1`, projectColumns)

	var project models.Project
	err := r.db.GetContext(ctx, &project, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

func (r *projectRepository) UpdateReviewStatus(ctx context.Context, wabaID, status string) error {
	query := `UPDATE projects SET review_status = $2, updated_at = $3 WHERE waba_id = $1`

	_, err := r.db.ExecContext(ctx, query, wabaID, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update review status: %w", err)
	}

	return nil
}

func (r *projectRepository) UpdateBanState(ctx context.Context, wabaID, banState string) error {
	query := `UPDATE projects SET ban_state = $2, updated_at = $3 WHERE waba_id = $1`

	_, err := r.db.ExecContext(ctx, query, wabaID, banState, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update ban state: %w", err)
	}

	return nil
}

func (r *projectRepository) UpdatePhoneQuality(ctx context.Context, wabaID, phoneNumberID, quality string) error {
	return r.mutatePhoneNumber(ctx, wabaID, phoneNumberID, func(pn *models.PhoneNumber) {
		pn.QualityRating = quality
	})
}

func (r *projectRepository) UpdatePhoneVerifiedName(ctx context.Context, wabaID, phoneNumberID, name string) error {
	return r.mutatePhoneNumber(ctx, wabaID, phoneNumberID, func(pn *models.PhoneNumber) {
		pn.VerifiedName = name
	})
}

func (r *projectRepository) UpdateMessagingLimit(ctx context.Context, wabaID, phoneNumberID, limit string) error {
	return r.mutatePhoneNumber(ctx, wabaID, phoneNumberID, func(pn *models.PhoneNumber) {
		pn.ThroughputLevel = limit
	})
}

// mutatePhoneNumber rewrites one element of the phone_numbers document under
// a row lock. A phone number the account webhook names before the dashboard
// synced it is appended.
func (r *projectRepository) mutatePhoneNumber(ctx context.Context, wabaID, phoneNumberID string, mutate func(*models.PhoneNumber)) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row struct {
		ID           int64                `db:"id"`
		PhoneNumbers models.PhoneNumbers  `db:"phone_numbers"`
	}
	query := `SELECT id, phone_numbers FROM projects WHERE waba_id = $1 FOR UPDATE`
	err = tx.GetContext(ctx, &row, query, wabaID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock project: %w", err)
	}

	found := false
	for i := range row.PhoneNumbers {
		if row.PhoneNumbers[i].ID == phoneNumberID {
			mutate(&row.PhoneNumbers[i])
			found = true
			break
		}
	}
	if !found {
		pn := models.PhoneNumber{ID: phoneNumberID}
		mutate(&pn)
		row.PhoneNumbers = append(row.PhoneNumbers, pn)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE projects SET phone_numbers = $2, updated_at = $3 WHERE id = $1`,
		row.ID, row.PhoneNumbers, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update phone numbers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit phone number update: %w", err)
	}

	return nil
}
