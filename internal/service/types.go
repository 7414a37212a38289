package service

// Overall health levels reported by the health endpoint.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Component states.
const (
	ComponentConnected    = "connected"
	ComponentDisconnected = "disconnected"
	SchedulerRunning      = "running"
	SchedulerStopped      = "stopped"
)

type HealthStatus struct {
	Status               string `json:"status"`
	SchedulerStatus      string `json:"scheduler_status"`
	DatabaseStatus       string `json:"database_status"`
	RedisStatus          string `json:"redis_status"`
	CircuitBreakerStatus string `json:"circuit_breaker_status,omitempty"`
	CircuitBreakerState  string `json:"circuit_breaker_state,omitempty"`
}
