package xchannel

import (
	"context"
	"sync/atomic"
	"time"
)

// IDSequence allocates channel-scoped sequential message ids.
type IDSequence interface {
	Next(ctx context.Context, channelID string) (int64, error)
}

// LocalSequence is a process-local IDSequence starting at 1.
type LocalSequence struct {
	last atomic.Int64
}

func (s *LocalSequence) Next(context.Context, string) (int64, error) {
	return s.last.Add(1), nil
}

// Archiver stores fully processed messages.
type Archiver interface {
	Archive(ctx context.Context, msg *Message) error
}

// Preprocessor rewrites inbound data before the source filter. A changed
// result is stored as PROCESSED_RAW.
type Preprocessor func(ctx context.Context, data string, cm *ConnectorMessage) (string, error)

// Metrics is a snapshot of channel counters.
type Metrics struct {
	Received            uint64
	Filtered            uint64
	Sent                uint64
	Queued              uint64
	Errors              uint64
	FlushFailures       uint64
	EventsDropped       uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates channel health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	State     DeployedState
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// channelCounters uses lock-free atomics for telemetry.
type channelCounters struct {
	received      atomic.Uint64
	filtered      atomic.Uint64
	sent          atomic.Uint64
	queued        atomic.Uint64
	errors        atomic.Uint64
	flushFailures atomic.Uint64
	processingNs  atomic.Int64
}

// recordProcessingTime keeps an exponential moving average.
func (m *channelCounters) recordProcessingTime(ns int64) {
	const alpha = 0.2
	current := m.processingNs.Load()
	if current == 0 {
		m.processingNs.Store(ns)
		return
	}
	m.processingNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
