package xchannel

import (
	"fmt"
	"time"
)

// ConnectorDefinition declares one connector by registered type name.
type ConnectorDefinition struct {
	Name              string            `yaml:"name"`
	MetaDataID        int               `yaml:"metaDataId"`
	Type              string            `yaml:"type"`
	Properties        map[string]any    `yaml:"properties"`
	FilterTransformer FilterTransformer `yaml:"filterTransformer"`
	QueueOnError      bool              `yaml:"queueOnError"`
	ResponseDataType  string            `yaml:"responseDataType"`
	Retry             *RetryDefinition  `yaml:"retry"`
	Timeout           time.Duration     `yaml:"timeout"`
}

// RetryDefinition configures RetryMiddleware for a destination.
type RetryDefinition struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

// BatchDefinition splits inbound payloads on a delimiter, or by the batch
// adaptor a data type registers (HL7V2 splits on MSH).
type BatchDefinition struct {
	Delimiter string `yaml:"delimiter"`
	DataType  string `yaml:"dataType"`
}

// ResponseDefinition is the declarative form of ResponseSettings.
type ResponseDefinition struct {
	Mode                   ResponseMode   `yaml:"mode"`
	RespondAfterProcessing bool           `yaml:"respondAfterProcessing"`
	DestinationID          int            `yaml:"destinationId"`
	DataType               string         `yaml:"dataType"`
	Properties             map[string]any `yaml:"properties"`
}

// ChannelDefinition is a complete declarative channel.
type ChannelDefinition struct {
	ID              string                `yaml:"id"`
	Name            string                `yaml:"name"`
	Enabled         *bool                 `yaml:"enabled"`
	Source          ConnectorDefinition   `yaml:"source"`
	Batch           *BatchDefinition      `yaml:"batch"`
	Destinations    []ConnectorDefinition `yaml:"destinations"`
	MetaDataColumns []MetaDataColumn      `yaml:"metaDataColumns"`
	Response        ResponseDefinition    `yaml:"response"`
}

// IsEnabled reports whether the channel should be started on deploy.
func (d ChannelDefinition) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

// Validate checks structural constraints before any connector is built.
func (d ChannelDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("channel definition: id must not be empty")
	}
	if d.Source.Type == "" {
		return fmt.Errorf("channel %s: %w", d.ID, ErrNoSourceConfigured)
	}
	seen := map[int]bool{}
	for _, dest := range d.Destinations {
		if dest.MetaDataID < 1 {
			return fmt.Errorf("channel %s: destination %q metaDataId must be >= 1", d.ID, dest.Name)
		}
		if seen[dest.MetaDataID] {
			return fmt.Errorf("channel %s: %w: %d", d.ID, ErrDuplicateMetaDataID, dest.MetaDataID)
		}
		seen[dest.MetaDataID] = true
		if dest.Type == "" {
			return fmt.Errorf("channel %s: destination %q has no type", d.ID, dest.Name)
		}
	}
	switch d.Response.Mode {
	case "", ResponseNone, ResponseAuto:
	case ResponseDestination:
		if !seen[d.Response.DestinationID] {
			return fmt.Errorf("channel %s: response destination %d not defined", d.ID, d.Response.DestinationID)
		}
	default:
		return fmt.Errorf("channel %s: unknown response mode %q", d.ID, d.Response.Mode)
	}
	return nil
}

// Builder resolves every connector type through the registries and returns
// a ChannelBuilder. Callers add runtime dependencies (store, logger, ...)
// before Build.
func (d ChannelDefinition) Builder() (*ChannelBuilder, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	receiver, err := NewReceiver(d.Source.Type, d.Source.Properties)
	if err != nil {
		return nil, fmt.Errorf("channel %s source: %w", d.ID, err)
	}
	cb := NewChannelBuilder(d.ID, d.Name).
		WithSource(d.Source.Name, receiver, d.Source.FilterTransformer).
		WithMetaDataColumns(d.MetaDataColumns...)

	if d.Batch != nil {
		batch, err := d.Batch.adaptor()
		if err != nil {
			return nil, fmt.Errorf("channel %s batch: %w", d.ID, err)
		}
		cb.WithBatchAdaptor(batch)
	}

	for _, dest := range d.Destinations {
		sender, err := NewSender(dest.Type, dest.Properties)
		if err != nil {
			return nil, fmt.Errorf("channel %s destination %d: %w", d.ID, dest.MetaDataID, err)
		}
		dataType := dest.ResponseDataType
		if dataType == "" {
			dataType = dest.FilterTransformer.OutboundDataType
		}
		validator, err := NewResponseValidator(dataType, dest.Properties)
		if err != nil {
			return nil, fmt.Errorf("channel %s destination %d: %w", d.ID, dest.MetaDataID, err)
		}
		cb.WithDestination(DestinationConfig{
			MetaDataID:        dest.MetaDataID,
			Name:              dest.Name,
			FilterTransformer: dest.FilterTransformer,
			QueueOnError:      dest.QueueOnError,
			ResponseDataType:  dest.ResponseDataType,
			Validator:         validator,
			Middlewares:       dest.middlewares(),
		}, sender)
	}

	rs := ResponseSettings{
		Mode:                   d.Response.Mode,
		RespondAfterProcessing: d.Response.RespondAfterProcessing,
		DestinationID:          d.Response.DestinationID,
	}
	if rs.Mode == ResponseAuto {
		dataType := d.Response.DataType
		if dataType == "" {
			dataType = d.Source.FilterTransformer.InboundDataType
		}
		rs.Responder, err = NewAutoResponder(dataType, d.Response.Properties)
		if err != nil {
			return nil, fmt.Errorf("channel %s response: %w", d.ID, err)
		}
	}
	cb.WithResponse(rs)
	return cb, nil
}

func (c ConnectorDefinition) middlewares() []SendMiddleware {
	var mws []SendMiddleware
	if c.Retry != nil && c.Retry.MaxAttempts > 1 {
		base := c.Retry.Backoff
		if base <= 0 {
			base = 100 * time.Millisecond
		}
		max := c.Retry.MaxBackoff
		if max <= 0 {
			max = 10 * base
		}
		mws = append(mws, RetryMiddleware(RetryConfig{
			MaxAttempts: c.Retry.MaxAttempts,
			Backoff:     ExponentialBackoff(base, max),
		}))
	}
	if c.Timeout > 0 {
		mws = append(mws, TimeoutMiddleware(c.Timeout))
	}
	return mws
}

func (b BatchDefinition) adaptor() (BatchAdaptorFactory, error) {
	if b.DataType != "" {
		return NewBatchAdaptor(b.DataType)
	}
	if b.Delimiter == "" {
		return nil, fmt.Errorf("batch needs a delimiter or a data type")
	}
	return DelimitedBatch(b.Delimiter), nil
}
