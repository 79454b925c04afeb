package xchannel

import (
	"encoding/json"
	"time"
)

// MessageRecord is the serialisable form of a processed Message used by
// archivers.
type MessageRecord struct {
	ID           int64                    `json:"id"`
	ChannelID    string                   `json:"channelId"`
	ServerID     string                   `json:"serverId"`
	ReceivedDate time.Time                `json:"receivedDate"`
	Processed    bool                     `json:"processed"`
	Status       Status                   `json:"status"`
	SourceMap    map[string]any           `json:"sourceMap,omitempty"`
	Connectors   []ConnectorMessageRecord `json:"connectors"`
}

// ConnectorMessageRecord is one connector message of a MessageRecord.
type ConnectorMessageRecord struct {
	MetaDataID      int               `json:"metaDataId"`
	ConnectorName   string            `json:"connectorName"`
	Status          Status            `json:"status"`
	SendAttempts    int               `json:"sendAttempts,omitempty"`
	ProcessingError string            `json:"processingError,omitempty"`
	MetaData        map[string]any    `json:"metaData,omitempty"`
	ChannelMap      map[string]any    `json:"channelMap,omitempty"`
	ResponseMap     map[string]any    `json:"responseMap,omitempty"`
	Content         map[string]string `json:"content,omitempty"`
	DataTypes       map[string]string `json:"dataTypes,omitempty"`
}

// NewMessageRecord captures msg. Encrypted content is kept as stored.
func NewMessageRecord(msg *Message) MessageRecord {
	rec := MessageRecord{
		ID:           msg.ID,
		ChannelID:    msg.ChannelID,
		ServerID:     msg.ServerID,
		ReceivedDate: msg.ReceivedDate,
		Processed:    msg.Processed,
		Status:       AggregateStatus(msg),
	}
	if sm := msg.SourceMap(); sm != nil && sm.Len() > 0 {
		rec.SourceMap = sm.ToMap()
	}
	for _, cm := range msg.Connectors() {
		c := ConnectorMessageRecord{
			MetaDataID:      cm.MetaDataID,
			ConnectorName:   cm.ConnectorName,
			Status:          cm.Status,
			SendAttempts:    cm.SendAttempts,
			ProcessingError: cm.ProcessingError,
			MetaData:        cm.MetaData,
		}
		if cm.ChannelMap != nil && cm.ChannelMap.Len() > 0 {
			c.ChannelMap = cm.ChannelMap.ToMap()
		}
		if cm.ResponseMap != nil && cm.ResponseMap.Len() > 0 {
			c.ResponseMap = cm.ResponseMap.ToMap()
		}
		for t := ContentRaw; t < contentSlots; t++ {
			content := cm.Content(t)
			if content == nil {
				continue
			}
			if c.Content == nil {
				c.Content = map[string]string{}
				c.DataTypes = map[string]string{}
			}
			c.Content[t.String()] = content.Data
			c.DataTypes[t.String()] = content.DataType
		}
		rec.Connectors = append(rec.Connectors, c)
	}
	return rec
}

// MarshalMessage encodes msg as a MessageRecord JSON document.
func MarshalMessage(msg *Message) ([]byte, error) {
	return json.Marshal(NewMessageRecord(msg))
}
