package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/models"
)

type fakeProcessor struct {
	batchSizes []int
	processed  int
	err        error
}

func (f *fakeProcessor) ProcessPending(_ context.Context, batchSize int) (int, error) {
	f.batchSizes = append(f.batchSizes, batchSize)
	return f.processed, f.err
}

func TestWebhookSweepService_RunOnce(t *testing.T) {
	cfg := &config.Config{}
	cfg.Processor.BatchSize = 50

	proc := &fakeProcessor{processed: 7}
	svc := NewWebhookSweepService(cfg, proc, zap.NewNop())

	n, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, []int{50}, proc.batchSizes)
}

func TestWebhookSweepService_PropagatesError(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("db down")}
	svc := NewWebhookSweepService(&config.Config{}, proc, zap.NewNop())

	_, err := svc.RunOnce(context.Background())
	require.Error(t, err)
}

type fakeWaitingStore struct {
	contacts []*models.Contact
	cutoffs  []time.Time
}

func (f *fakeWaitingStore) ListWaitingSince(_ context.Context, cutoff time.Time, _ int) ([]*models.Contact, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.contacts, nil
}

type fakeAbandoner struct {
	results map[int64]bool
	errs    map[int64]error
	seen    []int64
}

func (f *fakeAbandoner) AbandonTimedOut(_ context.Context, contact *models.Contact) (bool, error) {
	f.seen = append(f.seen, contact.ID)
	if err := f.errs[contact.ID]; err != nil {
		return false, err
	}
	return f.results[contact.ID], nil
}

func TestFlowTimeoutService_RunOnce(t *testing.T) {
	cfg := &config.Config{}
	cfg.Flow.SuspendTimeoutMinutes = 10

	store := &fakeWaitingStore{contacts: []*models.Contact{
		{ID: 1}, {ID: 2}, {ID: 3},
	}}
	abandoner := &fakeAbandoner{
		results: map[int64]bool{1: true, 3: true},
		// contact 2 lost a version race concurrently, nothing abandoned
		errs: map[int64]error{},
	}

	svc := NewFlowTimeoutService(cfg, store, abandoner, zap.NewNop())

	n, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3}, abandoner.seen)

	// Cutoff should sit roughly one timeout in the past.
	require.Len(t, store.cutoffs, 1)
	age := time.Since(store.cutoffs[0])
	assert.InDelta(t, (10 * time.Minute).Seconds(), age.Seconds(), 5)
}

func TestFlowTimeoutService_ErrorsDoNotAbortSweep(t *testing.T) {
	store := &fakeWaitingStore{contacts: []*models.Contact{
		{ID: 1}, {ID: 2},
	}}
	abandoner := &fakeAbandoner{
		results: map[int64]bool{2: true},
		errs:    map[int64]error{1: errors.New("db timeout")},
	}

	svc := NewFlowTimeoutService(&config.Config{}, store, abandoner, zap.NewNop())

	n, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1, 2}, abandoner.seen)
}
