package xchannel

import "time"

// EventType enumerates notifications emitted for dashboards and observers.
type EventType string

const (
	EventStateChanged          EventType = "state_changed"
	EventConnectionStatus      EventType = "connection_status"
	EventMessageProcessed      EventType = "message_processed"
	EventStatisticsFlushFailed EventType = "statistics_flush_failed"
	EventError                 EventType = "error"
)

// Event carries one notification. Which fields are set depends on Type.
type Event struct {
	Type          EventType
	ChannelID     string
	ConnectorName string
	MetaDataID    int
	Time          time.Time

	State            DeployedState
	ConnectionStatus ConnectionStatus
	Info             string

	MessageID int64
	Status    Status
	Duration  time.Duration
	Err       error

	// Internal: attached for async dispatch
	observers []Observer
}

// EventSink accepts events without blocking the caller.
type EventSink interface {
	Emit(e Event)
}

// Observer receives events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Emit(Event) {}
