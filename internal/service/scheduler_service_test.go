package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/scheduler"
)

type countingSweep struct {
	runs atomic.Int64
}

func (c *countingSweep) RunOnce(context.Context) (int, error) {
	c.runs.Add(1)
	return 0, nil
}

func newTestSchedulerService(t *testing.T) (*schedulerService, *countingSweep, *countingSweep) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Processor.IntervalSeconds = 3600

	webhook := &countingSweep{}
	flows := &countingSweep{}
	svc := NewSchedulerService(cfg, webhook, flows, zap.NewNop()).(*schedulerService)
	return svc, webhook, flows
}

func TestSchedulerService_StartStop(t *testing.T) {
	svc, webhook, flows := newTestSchedulerService(t)

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())

	// Both loops execute once immediately on start.
	assert.Eventually(t, func() bool {
		return webhook.runs.Load() >= 1 && flows.runs.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
}

func TestSchedulerService_DoubleStart(t *testing.T) {
	svc, _, _ := newTestSchedulerService(t)

	require.NoError(t, svc.Start())
	defer func() { _ = svc.Stop() }()

	err := svc.Start()
	assert.ErrorIs(t, err, scheduler.ErrSchedulerAlreadyRunning)
}

func TestSchedulerService_StopWhenNotRunning(t *testing.T) {
	svc, _, _ := newTestSchedulerService(t)

	err := svc.Stop()
	assert.ErrorIs(t, err, scheduler.ErrSchedulerNotRunning)
}
