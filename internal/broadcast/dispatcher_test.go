package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/models"
	"github.com/sabnode/messaging-engine/internal/repository"
	"github.com/sabnode/messaging-engine/internal/wa"
)

type fakeSender struct {
	mu       sync.Mutex
	calls    int
	sendTmpl func(to string) (string, error)
}

func (s *fakeSender) SendTemplate(_ context.Context, _ models.Credentials, to string, _ *wa.TemplatePayload) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.sendTmpl(to)
}

func (s *fakeSender) SendText(context.Context, models.Credentials, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *fakeSender) SendImage(context.Context, models.Credentials, string, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *fakeSender) SendButtons(context.Context, models.Credentials, string, string, []models.Button) (string, error) {
	return "", errors.New("not implemented")
}

func (s *fakeSender) SendList(context.Context, models.Credentials, string, string, string, []models.Button) (string, error) {
	return "", errors.New("not implemented")
}

func (s *fakeSender) MarkReadWithTyping(context.Context, models.Credentials, string) error {
	return errors.New("not implemented")
}

type fakeJobStore struct {
	mu         sync.Mutex
	totals     models.BroadcastTotals
	processing []int64
	deltas     []models.CounterDelta
	promotions []models.BroadcastStatus
	promoteOK  bool
	logs       []string
}

func (f *fakeJobStore) MarkProcessing(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing = append(f.processing, id)
	return nil
}

func (f *fakeJobStore) IncrementCounters(_ context.Context, _ int64, delta models.CounterDelta) (*models.BroadcastTotals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, delta)
	f.totals.SuccessCount += delta.Success
	f.totals.ErrorCount += delta.Error
	totals := f.totals
	return &totals, nil
}

func (f *fakeJobStore) PromoteTerminal(_ context.Context, _ int64, _, to models.BroadcastStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promotions = append(f.promotions, to)
	if f.promoteOK {
		f.totals.Status = to
	}
	return f.promoteOK, nil
}

func (f *fakeJobStore) AddLog(_ context.Context, _ int64, _, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, message)
	return nil
}

type fakeResultStore struct {
	mu       sync.Mutex
	results  []repository.SendResult
	failures int
	calls    int
}

func (f *fakeResultStore) UpdateSendResults(_ context.Context, results []repository.SendResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("deadlock detected")
	}
	f.results = append(f.results, results...)
	return nil
}

func testBatch(n int) *Batch {
	batch := &Batch{
		JobDetails: JobDetails{
			ID:                7,
			ProjectID:         1,
			PhoneNumberID:     "111",
			AccessToken:       "token",
			MessagesPerSecond: 1000,
			Template: wa.TemplateSpec{
				Name:     "order_update",
				Language: "en_US",
			},
		},
	}
	for i := 0; i < n; i++ {
		batch.Contacts = append(batch.Contacts, Recipient{
			ID:    int64(100 + i),
			Phone: fmt.Sprintf("9199900000%02d", i),
		})
	}
	return batch
}

func newTestDispatcher(sender *fakeSender, jobs *fakeJobStore, results *fakeResultStore) *Dispatcher {
	cfg := &config.BroadcastConfig{
		DefaultMessagesPerSecond: 80,
		RetryAttempts:            2,
		RetryBackoffSeconds:      0,
	}
	return NewDispatcher(sender, jobs, results, cfg, zap.NewNop())
}

func TestDispatcher_AllSuccessCompletesJob(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "wamid." + to, nil
	}}
	jobs := &fakeJobStore{
		totals:    models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 5},
		promoteOK: true,
	}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(context.Background(), testBatch(5))
	require.NoError(t, err)

	assert.Equal(t, []int64{7}, jobs.processing)
	require.Len(t, jobs.deltas, 1)
	assert.Equal(t, models.CounterDelta{Success: 5}, jobs.deltas[0])

	require.Len(t, results.results, 5)
	for _, res := range results.results {
		require.NotNil(t, res.MessageID)
		assert.True(t, strings.HasPrefix(*res.MessageID, "wamid."))
		assert.Nil(t, res.Error)
	}

	require.Equal(t, []models.BroadcastStatus{models.BroadcastCompleted}, jobs.promotions)
}

func TestDispatcher_RejectionsSettleAndPromotePartialFailure(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		if strings.HasSuffix(to, "1") {
			return "", &wa.APIError{Code: 131026, Message: "Message undeliverable"}
		}
		return "wamid." + to, nil
	}}
	jobs := &fakeJobStore{
		totals:    models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 4},
		promoteOK: true,
	}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(context.Background(), testBatch(4))
	require.NoError(t, err)

	require.Len(t, jobs.deltas, 1)
	assert.Equal(t, models.CounterDelta{Success: 3, Error: 1}, jobs.deltas[0])

	var failed int
	for _, res := range results.results {
		if res.Error != nil {
			failed++
			assert.Contains(t, *res.Error, "Message undeliverable")
		}
	}
	assert.Equal(t, 1, failed)

	require.Equal(t, []models.BroadcastStatus{models.BroadcastPartialFailure}, jobs.promotions)
}

func TestDispatcher_MidJobBatchDoesNotPromote(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "wamid." + to, nil
	}}
	jobs := &fakeJobStore{
		totals: models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 50},
	}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(context.Background(), testBatch(5))
	require.NoError(t, err)

	assert.Empty(t, jobs.promotions)
}

func TestDispatcher_TransportErrorSettlesFailedWithoutRetry(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "", errors.New("connection reset")
	}}
	jobs := &fakeJobStore{
		totals: models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 10},
	}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(context.Background(), testBatch(1))
	require.NoError(t, err)

	// One send per recipient; the retry budget covers settlement writes only.
	assert.Equal(t, 1, sender.calls)
	require.Len(t, results.results, 1)
	require.NotNil(t, results.results[0].Error)
	assert.Contains(t, *results.results[0].Error, "connection reset")
	require.Len(t, jobs.deltas, 1)
	assert.Equal(t, models.CounterDelta{Error: 1}, jobs.deltas[0])
}

func TestDispatcher_ProviderRejectionNotRetried(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "", &wa.APIError{Code: 131047, Message: "Re-engagement message"}
	}}
	jobs := &fakeJobStore{
		totals: models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 10},
	}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(context.Background(), testBatch(1))
	require.NoError(t, err)

	assert.Equal(t, 1, sender.calls)
	require.Len(t, results.results, 1)
	require.NotNil(t, results.results[0].Error)
}

func TestDispatcher_HonorsRateLimit(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "wamid.ok", nil
	}}
	jobs := &fakeJobStore{
		totals: models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 100},
	}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)

	batch := testBatch(10)
	batch.JobDetails.MessagesPerSecond = 50

	start := time.Now()
	err := d.Dispatch(context.Background(), batch)
	require.NoError(t, err)
	elapsed := time.Since(start)

	// 10 sends at 50/s with burst 1 needs at least 9 intervals of 20ms.
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Equal(t, 10, sender.calls)
}

func TestDispatcher_CancelledContextSettlesRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "wamid.ok", nil
	}}
	jobs := &fakeJobStore{
		totals: models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 10},
	}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(ctx, testBatch(3))
	require.NoError(t, err)

	require.Len(t, results.results, 3)
	for _, res := range results.results {
		require.NotNil(t, res.Error)
	}
	require.Len(t, jobs.deltas, 1)
	assert.Equal(t, models.CounterDelta{Error: 3}, jobs.deltas[0])
}

func TestDispatcher_LosingPromotionRaceSkipsCompletionLog(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "wamid.ok", nil
	}}
	jobs := &fakeJobStore{
		totals:    models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 2},
		promoteOK: false,
	}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(context.Background(), testBatch(2))
	require.NoError(t, err)

	require.Len(t, jobs.promotions, 1)
	for _, msg := range jobs.logs {
		assert.NotContains(t, msg, "job finished")
	}
}

func TestDispatcher_SettlementWriteRetried(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "wamid.ok", nil
	}}
	jobs := &fakeJobStore{
		totals: models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 10},
	}
	results := &fakeResultStore{failures: 2}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(context.Background(), testBatch(2))
	require.NoError(t, err)

	// Two failed writes, then the retry lands; results are not lost.
	assert.Equal(t, 3, results.calls)
	require.Len(t, results.results, 2)
	require.Len(t, jobs.deltas, 1)
}

func TestDispatcher_SettlementWriteGivesUpAfterRetries(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "wamid.ok", nil
	}}
	jobs := &fakeJobStore{
		totals: models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 10},
	}
	results := &fakeResultStore{failures: 10}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(context.Background(), testBatch(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update send results")

	// Counters never move when the recipient write could not land.
	assert.Empty(t, jobs.deltas)
}

func TestDispatcher_CachesProviderMessageIDs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "wamid." + to, nil
	}}
	jobs := &fakeJobStore{
		totals: models.BroadcastTotals{Status: models.BroadcastProcessing, ContactCount: 10},
	}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)
	d.SetResultCache(client)

	batch := testBatch(2)
	err := d.Dispatch(context.Background(), batch)
	require.NoError(t, err)

	for _, rcpt := range batch.Contacts {
		got, err := client.Get(context.Background(), "broadcast:wamid:wamid."+rcpt.Phone).Result()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%d", rcpt.ID), got)
	}
}

func TestDispatcher_EmptyBatchIsNoop(t *testing.T) {
	sender := &fakeSender{sendTmpl: func(to string) (string, error) {
		return "wamid.ok", nil
	}}
	jobs := &fakeJobStore{}
	results := &fakeResultStore{}
	d := newTestDispatcher(sender, jobs, results)

	err := d.Dispatch(context.Background(), testBatch(0))
	require.NoError(t, err)

	assert.Empty(t, jobs.processing)
	assert.Empty(t, jobs.deltas)
}
