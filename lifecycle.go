package xchannel

import (
	"fmt"
	"sync"

	"github.com/trickstertwo/xclock"
)

// DeployedState is the operational lifecycle state of a connector.
type DeployedState string

const (
	StateStopped  DeployedState = "STOPPED"
	StateStarting DeployedState = "STARTING"
	StateStarted  DeployedState = "STARTED"
	StatePaused   DeployedState = "PAUSED"
	StateStopping DeployedState = "STOPPING"
	// StateUnknown is never entered by normal transitions.
	StateUnknown DeployedState = "UNKNOWN"
)

// ConnectionStatus is a fine-grained observability signal, independent of
// DeployedState.
type ConnectionStatus string

const (
	ConnectionIdle               ConnectionStatus = "IDLE"
	ConnectionConnected          ConnectionStatus = "CONNECTED"
	ConnectionReceiving          ConnectionStatus = "RECEIVING"
	ConnectionPolling            ConnectionStatus = "POLLING"
	ConnectionReading            ConnectionStatus = "READING"
	ConnectionWriting            ConnectionStatus = "WRITING"
	ConnectionSending            ConnectionStatus = "SENDING"
	ConnectionWaitingForResponse ConnectionStatus = "WAITING_FOR_RESPONSE"
	ConnectionDisconnected       ConnectionStatus = "DISCONNECTED"
)

// lifecycle is the state machine shared by source and destination connectors.
type lifecycle struct {
	mu         sync.Mutex
	state      DeployedState
	channelID  string
	name       string
	metaDataID int
	sink       EventSink
	clock      xclock.Clock
	metrics    *channelMetrics
}

func (l *lifecycle) init(channelID, name string, metaDataID int, sink EventSink, clock xclock.Clock, metrics *channelMetrics) {
	if sink == nil {
		sink = discardSink{}
	}
	if clock == nil {
		clock = xclock.Default()
	}
	l.state = StateStopped
	l.channelID = channelID
	l.name = name
	l.metaDataID = metaDataID
	l.sink = sink
	l.clock = clock
	l.metrics = metrics
}

// State returns the current deployed state.
func (l *lifecycle) State() DeployedState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Name is the connector name.
func (l *lifecycle) Name() string { return l.name }

// MetaDataID is 0 for the source.
func (l *lifecycle) MetaDataID() int { return l.metaDataID }

// transition moves to `to` if the current state is one of from.
func (l *lifecycle) transition(to DeployedState, from ...DeployedState) error {
	l.mu.Lock()
	cur := l.state
	ok := false
	for _, f := range from {
		if cur == f {
			ok = true
			break
		}
	}
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s on connector %q", ErrIllegalStateTransition, cur, to, l.name)
	}
	l.state = to
	l.mu.Unlock()
	l.emitState(to)
	return nil
}

// setState forces the state.
func (l *lifecycle) setState(s DeployedState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.emitState(s)
}

func (l *lifecycle) emitState(s DeployedState) {
	l.metrics.setState(l.channelID, l.name, s)
	l.sink.Emit(Event{
		Type:          EventStateChanged,
		ChannelID:     l.channelID,
		ConnectorName: l.name,
		MetaDataID:    l.metaDataID,
		Time:          l.clock.Now(),
		State:         s,
	})
}

// EmitConnectionStatus publishes a connection-status event. It never blocks
// and does not affect processing.
func (l *lifecycle) EmitConnectionStatus(status ConnectionStatus, info string) {
	l.sink.Emit(Event{
		Type:             EventConnectionStatus,
		ChannelID:        l.channelID,
		ConnectorName:    l.name,
		MetaDataID:       l.metaDataID,
		Time:             l.clock.Now(),
		ConnectionStatus: status,
		Info:             info,
	})
}
