package xchannel

import "fmt"

// ContentType names one content slot of a connector message.
type ContentType int

const (
	ContentRaw ContentType = iota
	ContentProcessedRaw
	ContentTransformed
	ContentEncoded
	ContentResponse
	ContentResponseTransformed

	contentSlots
)

func (t ContentType) String() string {
	switch t {
	case ContentRaw:
		return "RAW"
	case ContentProcessedRaw:
		return "PROCESSED_RAW"
	case ContentTransformed:
		return "TRANSFORMED"
	case ContentEncoded:
		return "ENCODED"
	case ContentResponse:
		return "RESPONSE"
	case ContentResponseTransformed:
		return "RESPONSE_TRANSFORMED"
	default:
		return fmt.Sprintf("ContentType(%d)", int(t))
	}
}

// Content is one typed payload slot.
type Content struct {
	Type      ContentType
	Data      string
	DataType  string
	Encrypted bool
}

// Content returns the slot for t, or nil when unset.
func (cm *ConnectorMessage) Content(t ContentType) *Content {
	if t < 0 || t >= contentSlots {
		return nil
	}
	return cm.content[t]
}

// SetContent writes one slot. RAW can only be written once.
func (cm *ConnectorMessage) SetContent(t ContentType, data, dataType string, encrypted bool) error {
	if t < 0 || t >= contentSlots {
		return fmt.Errorf("xchannel: invalid content type %d", int(t))
	}
	if t == ContentRaw && cm.content[ContentRaw] != nil {
		return ErrRawContentImmutable
	}
	cm.content[t] = &Content{Type: t, Data: data, DataType: dataType, Encrypted: encrypted}
	return nil
}

// Raw returns the RAW slot, or nil.
func (cm *ConnectorMessage) Raw() *Content { return cm.content[ContentRaw] }

// ProcessedRawData returns PROCESSED_RAW data when set, else RAW data.
func (cm *ConnectorMessage) ProcessedRawData() string {
	if c := cm.content[ContentProcessedRaw]; c != nil {
		return c.Data
	}
	if c := cm.content[ContentRaw]; c != nil {
		return c.Data
	}
	return ""
}

// Transformed returns the TRANSFORMED slot, or nil.
func (cm *ConnectorMessage) Transformed() *Content { return cm.content[ContentTransformed] }

func (cm *ConnectorMessage) SetTransformed(data, dataType string) {
	cm.content[ContentTransformed] = &Content{Type: ContentTransformed, Data: data, DataType: dataType}
}

// Encoded returns the ENCODED slot, or nil.
func (cm *ConnectorMessage) Encoded() *Content { return cm.content[ContentEncoded] }

func (cm *ConnectorMessage) SetEncoded(data, dataType string) {
	cm.content[ContentEncoded] = &Content{Type: ContentEncoded, Data: data, DataType: dataType}
}

// Response returns the RESPONSE slot, or nil.
func (cm *ConnectorMessage) Response() *Content { return cm.content[ContentResponse] }

func (cm *ConnectorMessage) SetResponse(data, dataType string) {
	cm.content[ContentResponse] = &Content{Type: ContentResponse, Data: data, DataType: dataType}
}
