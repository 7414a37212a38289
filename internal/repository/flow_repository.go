package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sabnode/messaging-engine/internal/models"
)

const flowColumns = `id, project_id, name, definition, trigger_keywords, created_at, updated_at`

type flowRepository struct {
	db *sqlx.DB
}

func NewFlowRepository(db *sqlx.DB) FlowRepository {
	return &flowRepository{db: db}
}

func (r *flowRepository) GetByID(ctx context.Context, id int64) (*models.Flow, error) {
	query := fmt.Sprintf(`SELECT %s FROM flows WHERE id = $1`, flowColumns)

	var flow models.Flow
	err := r.db.GetContext(ctx, &flow, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	return &flow, nil
}

// ListByProject returns a project's flows oldest-first so trigger matching
// is deterministic.
func (r *flowRepository) ListByProject(ctx context.Context, projectID int64) ([]*models.Flow, error) {
	query := fmt.Sprintf(`SELECT %s FROM flows WHERE project_id = $1 ORDER BY id ASC`, flowColumns)

	var flows []*models.Flow
	err := r.db.SelectContext(ctx, &flows, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return flows, nil
}

type flowLogRepository struct {
	db *sqlx.DB
}

func NewFlowLogRepository(db *sqlx.DB) FlowLogRepository {
	return &flowLogRepository{db: db}
}

func (r *flowLogRepository) Create(ctx context.Context, log *models.FlowLog) error {
	query := `
		INSERT INTO flow_logs (project_id, contact_id, flow_id, flow_name, entries, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ProjectID, log.ContactID, log.FlowID, log.FlowName, log.Entries)
	if err != nil {
		return fmt.Errorf("failed to create flow log: %w", err)
	}

	return nil
}
