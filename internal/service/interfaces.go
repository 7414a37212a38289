package service

import "context"

// SweepService is a periodic background pass over pending work. RunOnce
// returns how many items the pass handled.
type SweepService interface {
	RunOnce(ctx context.Context) (int, error)
}

// SchedulerService controls the background sweep loops.
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool
}

type HealthService interface {
	GetHealth() *HealthStatus
}
