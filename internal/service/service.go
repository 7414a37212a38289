// Package service wires the background sweeps and health reporting on top
// of the webhook processor and flow engine.
package service

import (
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/flowengine"
	"github.com/sabnode/messaging-engine/internal/repository"
	"github.com/sabnode/messaging-engine/internal/wa"
)

type Service struct {
	WebhookSweep SweepService
	FlowTimeouts SweepService
	Scheduler    SchedulerService
	Health       HealthService
}

func NewService(
	cfg *config.Config,
	repo repository.Repository,
	processor pendingProcessor,
	engine *flowengine.Engine,
	waClient *wa.Client,
	redisClient *redis.Client,
	logger *zap.Logger,
) *Service {
	webhookSweep := NewWebhookSweepService(cfg, processor, logger)
	flowTimeouts := NewFlowTimeoutService(cfg, repo.Contacts(), engine, logger)
	schedulerService := NewSchedulerService(cfg, webhookSweep, flowTimeouts, logger)
	healthService := NewHealthService(repo, redisClient, schedulerService, waClient)

	return &Service{
		WebhookSweep: webhookSweep,
		FlowTimeouts: flowTimeouts,
		Scheduler:    schedulerService,
		Health:       healthService,
	}
}
