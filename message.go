package xchannel

import (
	"fmt"
	"sort"
	"time"
)

// Status is the per-connector processing status of a message.
type Status string

const (
	StatusReceived    Status = "RECEIVED"
	StatusFiltered    Status = "FILTERED"
	StatusTransformed Status = "TRANSFORMED"
	StatusSent        Status = "SENT"
	StatusQueued      Status = "QUEUED"
	StatusError       Status = "ERROR"
	StatusPending     Status = "PENDING"
)

// statusOrder fixes the order statuses appear in flush operations and reports.
var statusOrder = []Status{
	StatusReceived,
	StatusFiltered,
	StatusTransformed,
	StatusPending,
	StatusSent,
	StatusQueued,
	StatusError,
}

// Terminal reports whether s ends a processing attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFiltered, StatusQueued, StatusError:
		return true
	}
	return false
}

// progress ranks the non-terminal statuses; within an attempt a message only
// moves forward.
func (s Status) progress() int {
	switch s {
	case StatusReceived:
		return 0
	case StatusTransformed:
		return 1
	case StatusPending:
		return 2
	}
	return 3
}

// Successful reports whether s belongs to the successful bucket used by auto-responders.
func (s Status) Successful() bool {
	switch s {
	case StatusSent, StatusReceived, StatusPending, StatusTransformed, StatusQueued:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range statusOrder {
		if v == s {
			return true
		}
	}
	return false
}

// Message is the unit of work entering a channel. Connector messages are keyed
// by metaDataId; 0 is always the source.
type Message struct {
	ID           int64
	ChannelID    string
	ServerID     string
	ReceivedDate time.Time
	Processed    bool

	connectors map[int]*ConnectorMessage
	sourceMap  *Map
}

// NewMessage creates an empty message owning a fresh source map.
func NewMessage(id int64, channelID, serverID string, received time.Time) *Message {
	return &Message{
		ID:           id,
		ChannelID:    channelID,
		ServerID:     serverID,
		ReceivedDate: received,
		connectors:   make(map[int]*ConnectorMessage),
		sourceMap:    NewMap(),
	}
}

// SourceMap is shared by every connector message of this Message.
func (m *Message) SourceMap() *Map { return m.sourceMap }

// Connector returns the connector message for metaDataId, or nil.
func (m *Message) Connector(metaDataID int) *ConnectorMessage { return m.connectors[metaDataID] }

// Source returns the source connector message (metaDataId 0).
func (m *Message) Source() *ConnectorMessage { return m.connectors[0] }

// Connectors returns connector messages ordered by metaDataId.
func (m *Message) Connectors() []*ConnectorMessage {
	out := make([]*ConnectorMessage, 0, len(m.connectors))
	for _, cm := range m.connectors {
		out = append(out, cm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetaDataID < out[j].MetaDataID })
	return out
}

// NewConnectorMessage attaches a connector message in RECEIVED status.
// The channel map is a copy of channelMap (nil yields an empty map).
func (m *Message) NewConnectorMessage(metaDataID int, connectorName string, channelMap *Map, received time.Time) (*ConnectorMessage, error) {
	if _, exists := m.connectors[metaDataID]; exists {
		return nil, fmt.Errorf("xchannel: connector message %d already exists for message %d", metaDataID, m.ID)
	}
	cm := &ConnectorMessage{
		MessageID:     m.ID,
		MetaDataID:    metaDataID,
		ChannelID:     m.ChannelID,
		ServerID:      m.ServerID,
		ConnectorName: connectorName,
		ReceivedDate:  received,
		Status:        StatusReceived,
		SourceMap:     m.sourceMap,
		ChannelMap:    channelMap.Clone(),
		ConnectorMap:  NewMap(),
		ResponseMap:   NewMap(),
	}
	m.connectors[metaDataID] = cm
	return cm, nil
}

// ConnectorMessage is one connector's view of a Message.
type ConnectorMessage struct {
	MessageID     int64
	MetaDataID    int
	ChannelID     string
	ServerID      string
	ConnectorName string
	ReceivedDate  time.Time
	Status        Status

	SourceMap    *Map
	ChannelMap   *Map
	ConnectorMap *Map
	ResponseMap  *Map

	MetaData        map[string]any
	SendAttempts    int
	ProcessingError string

	content [contentSlots]*Content
}

// SetStatus moves the connector message to s. Terminal statuses cannot be left
// within one attempt and non-terminal ones never move backwards; ERROR is
// reachable from every non-terminal status.
func (cm *ConnectorMessage) SetStatus(s Status) error {
	if !s.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrIllegalStatusTransition, s)
	}
	if cm.Status == s {
		return nil
	}
	if cm.Status.Terminal() || s.progress() < cm.Status.progress() {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalStatusTransition, cm.Status, s)
	}
	cm.Status = s
	return nil
}

// Fail sets ERROR and records err as the processing error.
func (cm *ConnectorMessage) Fail(err error) {
	if err != nil {
		cm.ProcessingError = err.Error()
	}
	if !cm.Status.Terminal() {
		cm.Status = StatusError
	}
}

// Lookup resolves key with connectorMap > channelMap > sourceMap priority.
// Nil values count as absent.
func (cm *ConnectorMessage) Lookup(key string) (any, bool) {
	for _, m := range []*Map{cm.ConnectorMap, cm.ChannelMap, cm.SourceMap} {
		if v, ok := m.Get(key); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
