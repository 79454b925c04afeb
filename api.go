package xchannel

import "context"

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete channel surface for extensibility.
type API interface {
	ID() string
	Name() string
	State() DeployedState
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Halt(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close(ctx context.Context) error
	Statistics() map[int]map[Status]int64
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}
