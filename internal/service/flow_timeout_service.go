package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/models"
)

type waitingContactStore interface {
	ListWaitingSince(ctx context.Context, cutoff time.Time, limit int) ([]*models.Contact, error)
}

type flowAbandoner interface {
	AbandonTimedOut(ctx context.Context, contact *models.Contact) (bool, error)
}

// flowTimeoutService abandons flow sessions whose contact stopped replying.
// The flow engine also checks the timeout lazily on the next inbound
// message; this sweep covers contacts who never write again.
type flowTimeoutService struct {
	contacts  waitingContactStore
	engine    flowAbandoner
	timeout   time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewFlowTimeoutService(cfg *config.Config, contacts waitingContactStore, engine flowAbandoner, logger *zap.Logger) SweepService {
	timeout := time.Duration(cfg.Flow.SuspendTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &flowTimeoutService{
		contacts:  contacts,
		engine:    engine,
		timeout:   timeout,
		batchSize: 200,
		logger:    logger,
	}
}

func (s *flowTimeoutService) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.timeout)

	contacts, err := s.contacts.ListWaitingSince(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	abandoned := 0
	for _, contact := range contacts {
		ok, err := s.engine.AbandonTimedOut(ctx, contact)
		if err != nil {
			s.logger.Warn("Failed to abandon timed-out flow",
				zap.Int64("contact_id", contact.ID), zap.Error(err))
			continue
		}
		if ok {
			abandoned++
		}
	}

	if abandoned > 0 {
		s.logger.Info("Flow timeout sweep completed", zap.Int("abandoned", abandoned))
	}
	return abandoned, nil
}
