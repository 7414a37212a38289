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

const broadcastColumns = `id, project_id, template_name, language, phone_number_id, status,
	contact_count, success_count, error_count, delivered_count, read_count,
	messages_per_second, created_at, started_at, completed_at`

type broadcastRepository struct {
	db *sqlx.DB
}

func NewBroadcastRepository(db *sqlx.DB) BroadcastRepository {
	return &broadcastRepository{db: db}
}

func (r *broadcastRepository) GetByID(ctx context.Context, id int64) (*models.BroadcastJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM broadcasts WHERE id = $1`, broadcastColumns)

	var job models.BroadcastJob
	err := r.db.GetContext(ctx, &job, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcast: %w", err)
	}

	return &job, nil
}

func (r *broadcastRepository) MarkProcessing(ctx context.Context, id int64) error {
	query := `
		UPDATE broadcasts
		SET status = $2, started_at = COALESCE(started_at, $3)
		WHERE id = $1 AND status = $4
	`

	_, err := r.db.ExecContext(ctx, query, id,
		models.BroadcastProcessing, time.Now(), models.BroadcastQueued)
	if err != nil {
		return fmt.Errorf("failed to mark broadcast processing: %w", err)
	}

	return nil
}

// IncrementCounters applies one atomic delta and returns the totals as they
// stand after the update. A zero delta still reads the totals.
func (r *broadcastRepository) IncrementCounters(ctx context.Context, id int64, delta models.CounterDelta) (*models.BroadcastTotals, error) {
	query := `
		UPDATE broadcasts
		SET success_count = success_count + $2,
		    error_count = error_count + $3,
		    delivered_count = delivered_count + $4,
		    read_count = read_count + $5
		WHERE id = $1
		RETURNING status, contact_count, success_count, error_count
	`

	var totals models.BroadcastTotals
	err := r.db.GetContext(ctx, &totals, query, id,
		delta.Success, delta.Error, delta.Delivered, delta.Read)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment broadcast counters: %w", err)
	}

	return &totals, nil
}

// PromoteTerminal completes a job exactly once: the update is conditional on
// the current status, so concurrent finishers race and one wins.
func (r *broadcastRepository) PromoteTerminal(ctx context.Context, id int64, from, to models.BroadcastStatus) (bool, error) {
	query := `
		UPDATE broadcasts
		SET status = $3, completed_at = $4
		WHERE id = $1 AND status = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to promote broadcast: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *broadcastRepository) AddLog(ctx context.Context, broadcastID int64, level, message string) error {
	query := `
		INSERT INTO broadcast_logs (broadcast_id, level, message, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, broadcastID, level, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add broadcast log: %w", err)
	}

	return nil
}
