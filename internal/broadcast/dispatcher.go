package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/models"
	"github.com/sabnode/messaging-engine/internal/repository"
	"github.com/sabnode/messaging-engine/internal/wa"
)

type jobStore interface {
	MarkProcessing(ctx context.Context, id int64) error
	IncrementCounters(ctx context.Context, id int64, delta models.CounterDelta) (*models.BroadcastTotals, error)
	PromoteTerminal(ctx context.Context, id int64, from, to models.BroadcastStatus) (bool, error)
	AddLog(ctx context.Context, broadcastID int64, level, message string) error
}

type recipientResultStore interface {
	UpdateSendResults(ctx context.Context, results []repository.SendResult) error
}

// Dispatcher fans one micro-batch out to the provider under the job's rate
// limit. Every recipient in the batch gets a settled outcome even when the
// provider rejects or the context dies mid-batch, so the job counters always
// reach the contact total.
type Dispatcher struct {
	sender        wa.Sender
	jobs          jobStore
	recipients    recipientResultStore
	defaultMPS    int
	retryAttempts int
	retryBackoff  time.Duration
	cache         *redis.Client
	logger        *zap.Logger
}

// resultCacheTTL bounds how long a provider message id is mapped back to
// its recipient row.
const resultCacheTTL = 24 * time.Hour

func NewDispatcher(sender wa.Sender, jobs jobStore, recipients recipientResultStore, cfg *config.BroadcastConfig, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		sender:        sender,
		jobs:          jobs,
		recipients:    recipients,
		defaultMPS:    cfg.DefaultMessagesPerSecond,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  time.Duration(cfg.RetryBackoffSeconds) * time.Second,
		logger:        logger,
	}
	if d.defaultMPS <= 0 {
		d.defaultMPS = 80
	}
	return d
}

// SetResultCache wires an optional Redis mapping of provider message ids to
// recipient rows, written after each successful send.
func (d *Dispatcher) SetResultCache(client *redis.Client) { d.cache = client }

// Dispatch sends one batch and records its outcome: per-recipient results in
// one write, one counter increment for the whole batch, and a terminal
// promotion when this batch settles the last recipient.
func (d *Dispatcher) Dispatch(ctx context.Context, batch *Batch) error {
	job := batch.JobDetails
	if len(batch.Contacts) == 0 {
		return nil
	}

	if err := d.jobs.MarkProcessing(ctx, job.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	mps := job.MessagesPerSecond
	if mps <= 0 {
		mps = d.defaultMPS
	}

	creds := models.Credentials{
		AccessToken:   job.AccessToken,
		PhoneNumberID: job.PhoneNumberID,
	}

	limiter := rate.NewLimiter(rate.Limit(mps), 1)
	sem := make(chan struct{}, mps)
	results := make([]repository.SendResult, len(batch.Contacts))

	var wg sync.WaitGroup
	for i, rcpt := range batch.Contacts {
		if err := limiter.Wait(ctx); err != nil {
			// Context died mid-batch: settle the rest as failed so the
			// counters still converge on the contact total.
			for j := i; j < len(batch.Contacts); j++ {
				results[j] = failedResult(batch.Contacts[j].ID, err)
			}
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, rcpt Recipient) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = d.sendOne(ctx, creds, &job, rcpt)
		}(i, rcpt)
	}
	wg.Wait()

	var delta models.CounterDelta
	for _, res := range results {
		if res.Error != nil {
			delta.Error++
		} else {
			delta.Success++
		}
	}

	d.cacheResults(ctx, results)

	err := d.withStorageRetry(ctx, "update send results", func() error {
		return d.recipients.UpdateSendResults(ctx, results)
	})
	if err != nil {
		return err
	}

	var totals *models.BroadcastTotals
	err = d.withStorageRetry(ctx, "increment counters", func() error {
		var incErr error
		totals, incErr = d.jobs.IncrementCounters(ctx, job.ID, delta)
		return incErr
	})
	if err != nil {
		return err
	}

	if err := d.jobs.AddLog(ctx, job.ID, "info",
		fmt.Sprintf("batch settled: %d sent, %d failed (%d/%d processed)",
			delta.Success, delta.Error, totals.Processed(), totals.ContactCount)); err != nil {
		d.logger.Warn("Failed to record broadcast log", zap.Int64("broadcast_id", job.ID), zap.Error(err))
	}

	d.maybePromote(ctx, job.ID, totals)
	return nil
}

// sendOne performs exactly one provider send. Any failure, provider
// rejection or transport error alike, settles the recipient as FAILED; the
// retry budget belongs to the settlement writes, never to sends.
func (d *Dispatcher) sendOne(ctx context.Context, creds models.Credentials, job *JobDetails, rcpt Recipient) repository.SendResult {
	vars := make(map[string]any, len(rcpt.Variables)+1)
	for k, v := range rcpt.Variables {
		vars[k] = v
	}
	vars["phone"] = rcpt.Phone

	payload := wa.BuildTemplate(&job.Template, vars)

	wamid, err := d.sender.SendTemplate(ctx, creds, rcpt.Phone, payload)
	if err != nil {
		return failedResult(rcpt.ID, err)
	}
	return repository.SendResult{
		BroadcastContactID: rcpt.ID,
		MessageID:          &wamid,
		SentAt:             time.Now(),
	}
}

func (d *Dispatcher) maybePromote(ctx context.Context, jobID int64, totals *models.BroadcastTotals) {
	if totals.Status != models.BroadcastProcessing || totals.Processed() < totals.ContactCount {
		return
	}

	to := models.BroadcastCompleted
	if totals.ErrorCount > 0 {
		to = models.BroadcastPartialFailure
	}

	promoted, err := d.jobs.PromoteTerminal(ctx, jobID, models.BroadcastProcessing, to)
	if err != nil {
		d.logger.Error("Failed to promote broadcast", zap.Int64("broadcast_id", jobID), zap.Error(err))
		return
	}
	if !promoted {
		return
	}

	if err := d.jobs.AddLog(ctx, jobID, "info",
		fmt.Sprintf("job finished with status %s: %d sent, %d failed",
			to, totals.SuccessCount, totals.ErrorCount)); err != nil {
		d.logger.Warn("Failed to record broadcast log", zap.Int64("broadcast_id", jobID), zap.Error(err))
	}
}

// cacheResults remembers wamid → recipient row for each successful send.
// Best effort: a cache miss just means receipt correlation goes through the
// database.
func (d *Dispatcher) cacheResults(ctx context.Context, results []repository.SendResult) {
	if d.cache == nil {
		return
	}
	for _, res := range results {
		if res.MessageID == nil {
			continue
		}
		key := "broadcast:wamid:" + *res.MessageID
		if err := d.cache.Set(ctx, key, strconv.FormatInt(res.BroadcastContactID, 10), resultCacheTTL).Err(); err != nil {
			d.logger.Warn("Failed to cache send result", zap.Error(err))
			return
		}
	}
}

// withStorageRetry retries a settlement write with a flat backoff. Sends
// have already happened by the time these writes run, so giving up loses
// results; a transient database error should not.
func (d *Dispatcher) withStorageRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= d.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, err)
			case <-time.After(d.retryBackoff):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		d.logger.Warn("Broadcast settlement write failed",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func failedResult(id int64, err error) repository.SendResult {
	msg := err.Error()
	return repository.SendResult{
		BroadcastContactID: id,
		Error:              &msg,
		SentAt:             time.Now(),
	}
}
