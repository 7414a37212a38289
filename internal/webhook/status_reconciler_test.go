package webhook

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/models"
)

type fakeMessages struct {
	applied []StatusRecord
}

func (f *fakeMessages) ApplyStatus(_ context.Context, wamid string, status models.DeliveryStatus, at time.Time, errMsg *string) error {
	rec := StatusRecord{WAMID: wamid, Status: status, Timestamp: at}
	if errMsg != nil {
		rec.ErrorText = *errMsg
	}
	f.applied = append(f.applied, rec)
	return nil
}

type fakeRecipients struct {
	rows map[string]*models.BroadcastContact // keyed by message id
}

func (f *fakeRecipients) GetByMessageIDs(_ context.Context, ids []string) ([]*models.BroadcastContact, error) {
	var out []*models.BroadcastContact
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeRecipients) UpdateStatuses(_ context.Context, ids []int64, status models.DeliveryStatus) error {
	for _, id := range ids {
		for _, row := range f.rows {
			if row.ID == id {
				row.Status = status
			}
		}
	}
	return nil
}

type fakeJobs struct {
	jobs       map[int64]*models.BroadcastTotals
	increments map[int64]int
	promotions []models.BroadcastStatus
}

func (f *fakeJobs) IncrementCounters(_ context.Context, id int64, delta models.CounterDelta) (*models.BroadcastTotals, error) {
	f.increments[id]++
	t := f.jobs[id]
	t.SuccessCount += delta.Success
	t.ErrorCount += delta.Error
	copied := *t
	return &copied, nil
}

func (f *fakeJobs) PromoteTerminal(_ context.Context, id int64, from, to models.BroadcastStatus) (bool, error) {
	t := f.jobs[id]
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	f.promotions = append(f.promotions, to)
	return true, nil
}

func recipient(id, jobID int64, wamid string, status models.DeliveryStatus) *models.BroadcastContact {
	return &models.BroadcastContact{
		ID:          id,
		BroadcastID: jobID,
		Status:      status,
		MessageID:   sql.NullString{String: wamid, Valid: true},
	}
}

func newReconcilerFixture(contactCount, success int64) (*StatusReconciler, *fakeMessages, *fakeRecipients, *fakeJobs) {
	messages := &fakeMessages{}
	recipients := &fakeRecipients{rows: map[string]*models.BroadcastContact{}}
	jobs := &fakeJobs{
		jobs: map[int64]*models.BroadcastTotals{
			1: {Status: models.BroadcastProcessing, ContactCount: contactCount, SuccessCount: success},
		},
		increments: map[int64]int{},
	}
	r := NewStatusReconciler(messages, recipients, jobs, 1000, zap.NewNop())
	return r, messages, recipients, jobs
}

func TestReconciler_DuplicateWithinBatchCountsOnce(t *testing.T) {
	r, _, recipients, jobs := newReconcilerFixture(10, 10)
	recipients.rows["m1"] = recipient(1, 1, "m1", models.StatusSent)

	now := time.Now()
	batch := []StatusRecord{
		{WAMID: "m1", Status: models.StatusDelivered, Timestamp: now},
		{WAMID: "m1", Status: models.StatusDelivered, Timestamp: now},
	}

	require.NoError(t, r.Reconcile(context.Background(), batch))
	// Replaying the whole batch is also a no-op.
	require.NoError(t, r.Reconcile(context.Background(), batch))

	assert.Equal(t, models.StatusDelivered, recipients.rows["m1"].Status)
	assert.Equal(t, 1, jobs.increments[1], "one atomic increment per job per batch with changes")
}

func TestReconciler_MonotonicNoRegression(t *testing.T) {
	r, _, recipients, jobs := newReconcilerFixture(10, 10)
	recipients.rows["m1"] = recipient(1, 1, "m1", models.StatusRead)

	batch := []StatusRecord{{WAMID: "m1", Status: models.StatusDelivered, Timestamp: time.Now()}}
	require.NoError(t, r.Reconcile(context.Background(), batch))

	assert.Equal(t, models.StatusRead, recipients.rows["m1"].Status)
	assert.Zero(t, jobs.increments[1], "no counter change for a regression attempt")
}

func TestReconciler_SentToFailedMovesCounters(t *testing.T) {
	r, _, recipients, jobs := newReconcilerFixture(10, 5)
	recipients.rows["m1"] = recipient(1, 1, "m1", models.StatusSent)

	batch := []StatusRecord{{WAMID: "m1", Status: models.StatusFailed, Timestamp: time.Now(), ErrorText: "expired"}}
	require.NoError(t, r.Reconcile(context.Background(), batch))

	assert.Equal(t, models.StatusFailed, recipients.rows["m1"].Status)
	totals := jobs.jobs[1]
	assert.Equal(t, int64(4), totals.SuccessCount, "success decremented")
	assert.Equal(t, int64(1), totals.ErrorCount, "failure incremented")
}

func TestReconciler_FailedNeverOverridesDelivered(t *testing.T) {
	r, _, recipients, jobs := newReconcilerFixture(10, 10)
	recipients.rows["m1"] = recipient(1, 1, "m1", models.StatusDelivered)

	batch := []StatusRecord{{WAMID: "m1", Status: models.StatusFailed, Timestamp: time.Now(), ErrorText: "late failure"}}
	require.NoError(t, r.Reconcile(context.Background(), batch))

	assert.Equal(t, models.StatusDelivered, recipients.rows["m1"].Status)
	assert.Zero(t, jobs.increments[1])
}

func TestReconciler_LateFailureCompletesJob(t *testing.T) {
	// contactCount 2, one success already counted; the failure covers the
	// final recipient and the job promotes to PARTIAL_FAILURE.
	r, _, recipients, jobs := newReconcilerFixture(2, 1)
	recipients.rows["m2"] = recipient(2, 1, "m2", models.StatusPending)

	batch := []StatusRecord{{WAMID: "m2", Status: models.StatusFailed, Timestamp: time.Now(), ErrorText: "unreachable"}}
	require.NoError(t, r.Reconcile(context.Background(), batch))

	require.Len(t, jobs.promotions, 1)
	assert.Equal(t, models.BroadcastPartialFailure, jobs.promotions[0])
}

func TestReconciler_NonBroadcastMessagesStillRecorded(t *testing.T) {
	r, messages, _, jobs := newReconcilerFixture(10, 10)

	batch := []StatusRecord{{WAMID: "live-chat-1", Status: models.StatusRead, Timestamp: time.Now()}}
	require.NoError(t, r.Reconcile(context.Background(), batch))

	require.Len(t, messages.applied, 1)
	assert.Equal(t, "live-chat-1", messages.applied[0].WAMID)
	assert.Empty(t, jobs.increments)
}

func TestReconciler_ReadSkippingDeliveredCountsBoth(t *testing.T) {
	r, _, recipients, jobs := newReconcilerFixture(10, 10)
	recipients.rows["m1"] = recipient(1, 1, "m1", models.StatusSent)

	batch := []StatusRecord{{WAMID: "m1", Status: models.StatusRead, Timestamp: time.Now()}}
	require.NoError(t, r.Reconcile(context.Background(), batch))

	assert.Equal(t, models.StatusRead, recipients.rows["m1"].Status)
	assert.Equal(t, 1, jobs.increments[1])
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, models.StatusDelivered, normalizeStatus("delivered"))
	assert.Equal(t, models.StatusRead, normalizeStatus("READ"))
	assert.Equal(t, models.StatusSent, normalizeStatus("sent"))
	assert.Equal(t, models.StatusFailed, normalizeStatus("failed"))
	assert.Equal(t, models.DeliveryStatus(""), normalizeStatus("warned"))
}
