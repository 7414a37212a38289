package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/scheduler"
)

// Flow timeouts are checked more often than the configurable webhook sweep;
// a minute of slack on a ten-minute timeout is acceptable.
const flowTimeoutSweepInterval = time.Minute

// schedulerService runs the two background loops: the webhook log sweep and
// the flow timeout sweep. Both start and stop together.
type schedulerService struct {
	webhookSweep *scheduler.Scheduler
	flowTimeouts *scheduler.Scheduler
	logger       *zap.Logger
}

func NewSchedulerService(
	cfg *config.Config,
	webhookSweep SweepService,
	flowTimeouts SweepService,
	logger *zap.Logger,
) SchedulerService {
	sweepInterval := time.Duration(cfg.Processor.IntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}

	return &schedulerService{
		webhookSweep: scheduler.NewScheduler(logger, sweepInterval, func(ctx context.Context) error {
			_, err := webhookSweep.RunOnce(ctx)
			return err
		}),
		flowTimeouts: scheduler.NewScheduler(logger, flowTimeoutSweepInterval, func(ctx context.Context) error {
			_, err := flowTimeouts.RunOnce(ctx)
			return err
		}),
		logger: logger,
	}
}

func (s *schedulerService) Start() error {
	ctx := context.Background()

	if err := s.webhookSweep.Start(ctx); err != nil {
		return err
	}

	if err := s.flowTimeouts.Start(ctx); err != nil {
		if stopErr := s.webhookSweep.Stop(); stopErr != nil {
			s.logger.Error("Failed to stop webhook sweep after partial start", zap.Error(stopErr))
		}
		return err
	}

	return nil
}

func (s *schedulerService) Stop() error {
	if err := s.webhookSweep.Stop(); err != nil {
		return err
	}
	return s.flowTimeouts.Stop()
}

func (s *schedulerService) IsRunning() bool {
	return s.webhookSweep.IsRunning() || s.flowTimeouts.IsRunning()
}
