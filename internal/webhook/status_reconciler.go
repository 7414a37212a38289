package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/models"
)

// StatusRecord is one delivery receipt from the provider's statuses array.
type StatusRecord struct {
	WAMID     string
	Status    models.DeliveryStatus
	Timestamp time.Time
	ErrorText string
}

// messageStatusStore is the slice of MessageRepository the reconciler needs.
type messageStatusStore interface {
	ApplyStatus(ctx context.Context, wamid string, status models.DeliveryStatus, at time.Time, errMsg *string) error
}

type recipientStore interface {
	GetByMessageIDs(ctx context.Context, messageIDs []string) ([]*models.BroadcastContact, error)
	UpdateStatuses(ctx context.Context, ids []int64, status models.DeliveryStatus) error
}

type jobCounterStore interface {
	IncrementCounters(ctx context.Context, id int64, delta models.CounterDelta) (*models.BroadcastTotals, error)
	PromoteTerminal(ctx context.Context, id int64, from, to models.BroadcastStatus) (bool, error)
}

// StatusReconciler applies delivery receipts to message records, broadcast
// recipient rows and broadcast aggregate counters. Replaying a batch is a
// no-op: recipient statuses only move up the hierarchy and counter deltas
// are derived from the observed transition.
type StatusReconciler struct {
	messages   messageStatusStore
	recipients recipientStore
	jobs       jobCounterStore
	batchMax   int
	logger     *zap.Logger
}

func NewStatusReconciler(messages messageStatusStore, recipients recipientStore, jobs jobCounterStore, batchMax int, logger *zap.Logger) *StatusReconciler {
	if batchMax <= 0 {
		batchMax = 1000
	}
	return &StatusReconciler{
		messages:   messages,
		recipients: recipients,
		jobs:       jobs,
		batchMax:   batchMax,
		logger:     logger,
	}
}

// Reconcile processes one receipt batch, chunked to the configured ceiling.
func (r *StatusReconciler) Reconcile(ctx context.Context, records []StatusRecord) error {
	for start := 0; start < len(records); start += r.batchMax {
		end := start + r.batchMax
		if end > len(records) {
			end = len(records)
		}
		if err := r.reconcileChunk(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *StatusReconciler) reconcileChunk(ctx context.Context, records []StatusRecord) error {
	for _, rec := range records {
		var errMsg *string
		if rec.ErrorText != "" {
			errMsg = &rec.ErrorText
		}
		if err := r.messages.ApplyStatus(ctx, rec.WAMID, rec.Status, rec.Timestamp, errMsg); err != nil {
			return fmt.Errorf("apply message status: %w", err)
		}
	}

	wamids := make([]string, 0, len(records))
	seen := map[string]struct{}{}
	for _, rec := range records {
		if _, ok := seen[rec.WAMID]; ok {
			continue
		}
		seen[rec.WAMID] = struct{}{}
		wamids = append(wamids, rec.WAMID)
	}

	rows, err := r.recipients.GetByMessageIDs(ctx, wamids)
	if err != nil {
		return fmt.Errorf("lookup broadcast recipients: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	byWamid := make(map[string]*models.BroadcastContact, len(rows))
	// Tracked statuses advance as the batch is walked, so a receipt repeated
	// within one batch cannot count its transition twice.
	tracked := make(map[int64]models.DeliveryStatus, len(rows))
	for _, row := range rows {
		byWamid[row.MessageID.String] = row
		tracked[row.ID] = row.Status
	}

	deltas := map[int64]models.CounterDelta{}
	for _, rec := range records {
		row, ok := byWamid[rec.WAMID]
		if !ok {
			continue
		}

		current := tracked[row.ID]
		if !shouldApply(current, rec.Status) {
			continue
		}

		delta := deltas[row.BroadcastID]
		switch rec.Status {
		case models.StatusDelivered:
			delta.Delivered++
		case models.StatusRead:
			delta.Read++
			// A READ that skips the DELIVERED receipt still counts as one.
			if current.Severity() < models.StatusDelivered.Severity() {
				delta.Delivered++
			}
		case models.StatusFailed:
			delta.Error++
			if current == models.StatusSent {
				delta.Success--
			}
		}
		deltas[row.BroadcastID] = delta
		tracked[row.ID] = rec.Status
	}

	byStatus := map[models.DeliveryStatus][]int64{}
	for _, row := range rows {
		final := tracked[row.ID]
		if final != row.Status {
			byStatus[final] = append(byStatus[final], row.ID)
		}
	}
	for status, ids := range byStatus {
		if err := r.recipients.UpdateStatuses(ctx, ids, status); err != nil {
			return fmt.Errorf("update recipient statuses: %w", err)
		}
	}

	for jobID, delta := range deltas {
		if delta.IsZero() {
			continue
		}
		totals, err := r.jobs.IncrementCounters(ctx, jobID, delta)
		if err != nil {
			return fmt.Errorf("increment job counters: %w", err)
		}
		r.maybePromote(ctx, jobID, totals)
	}

	return nil
}

// maybePromote completes a job whose late failures pushed the processed
// count to cover every recipient.
func (r *StatusReconciler) maybePromote(ctx context.Context, jobID int64, totals *models.BroadcastTotals) {
	if totals.Status != models.BroadcastProcessing || totals.Processed() < totals.ContactCount {
		return
	}

	to := models.BroadcastCompleted
	if totals.ErrorCount > 0 {
		to = models.BroadcastPartialFailure
	}
	promoted, err := r.jobs.PromoteTerminal(ctx, jobID, models.BroadcastProcessing, to)
	if err != nil {
		r.logger.Error("Failed to promote broadcast to terminal status",
			zap.Int64("broadcast_id", jobID), zap.Error(err))
		return
	}
	if promoted {
		r.logger.Info("Broadcast completed via status reconciliation",
			zap.Int64("broadcast_id", jobID), zap.String("status", string(to)))
	}
}

// shouldApply decides whether a receipt moves a recipient row: strictly up
// the hierarchy, or the explicit downgrade to FAILED before DELIVERED.
func shouldApply(current, next models.DeliveryStatus) bool {
	if next == models.StatusFailed {
		return current != models.StatusFailed &&
			current.Severity() < models.StatusDelivered.Severity()
	}
	return next.Severity() > current.Severity()
}

// normalizeStatus maps the provider's lowercase status strings onto the
// stored hierarchy. Unknown strings map to an empty status.
func normalizeStatus(s string) models.DeliveryStatus {
	switch strings.ToLower(s) {
	case "sent":
		return models.StatusSent
	case "delivered":
		return models.StatusDelivered
	case "read":
		return models.StatusRead
	case "failed":
		return models.StatusFailed
	default:
		return ""
	}
}
