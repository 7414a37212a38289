package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
)

// pendingProcessor drains stored webhook payloads.
type pendingProcessor interface {
	ProcessPending(ctx context.Context, batchSize int) (int, error)
}

// webhookSweepService drains the webhook log backlog: payloads are acked to
// the provider immediately on receipt and worked off here.
type webhookSweepService struct {
	processor pendingProcessor
	batchSize int
	logger    *zap.Logger
}

func NewWebhookSweepService(cfg *config.Config, processor pendingProcessor, logger *zap.Logger) SweepService {
	batchSize := cfg.Processor.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	return &webhookSweepService{
		processor: processor,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (s *webhookSweepService) RunOnce(ctx context.Context) (int, error) {
	processed, err := s.processor.ProcessPending(ctx, s.batchSize)
	if err != nil {
		return processed, err
	}

	if processed > 0 {
		s.logger.Info("Webhook sweep completed", zap.Int("processed", processed))
	}
	return processed, nil
}
