package broadcast

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Worker is the queue consumer loop: dequeue a batch, dispatch it, ack it.
// A batch is acked even when dispatch fails: redelivering a half-sent batch
// would double-send, so failures are logged against the job instead.
type Worker struct {
	queue      Queue
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewWorker(queue Queue, dispatcher *Dispatcher, logger *zap.Logger) *Worker {
	return &Worker{queue: queue, dispatcher: dispatcher, logger: logger}
}

// Run consumes batches until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Broadcast worker started")
	for {
		batch, ack, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Info("Broadcast worker stopped")
				return nil
			}
			w.logger.Error("Failed to dequeue broadcast batch", zap.Error(err))
			continue
		}

		if err := w.dispatcher.Dispatch(ctx, batch); err != nil {
			w.logger.Error("Failed to dispatch broadcast batch",
				zap.Int64("broadcast_id", batch.JobDetails.ID),
				zap.Int("contacts", len(batch.Contacts)),
				zap.Error(err))
		}

		if err := ack(ctx); err != nil {
			w.logger.Error("Failed to ack broadcast batch",
				zap.Int64("broadcast_id", batch.JobDetails.ID), zap.Error(err))
		}
	}
}
