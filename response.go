package xchannel

import (
	"fmt"
	"sync"
)

// Response is what a destination Sender got back from the remote endpoint.
type Response struct {
	// Status is the status the sender proposes; empty means SENT.
	Status        Status
	Message       string
	// StatusMessage is a short human readable result, stored in the
	// connector map under ConnectorMapStatusMessage.
	StatusMessage string
	Error         string
}

// ResponseOutcome is the shared result shape of validators and auto-responders.
type ResponseOutcome struct {
	Status  Status
	Message string
	Err     error
}

// HasReply reports whether the outcome carries response content.
func (o ResponseOutcome) HasReply() bool { return o.Message != "" }

// ResponseValidator maps a raw destination response onto a terminal status.
// Unparsable responses must leave status and message unchanged.
type ResponseValidator interface {
	Validate(raw string, cm *ConnectorMessage, status Status) ResponseOutcome
}

// AutoResponder synthesizes the reply returned to the client that sent the
// source message. raw is the original inbound data.
type AutoResponder interface {
	Respond(raw string, cm *ConnectorMessage, status Status) ResponseOutcome
}

// ResponseValidatorFunc is an Adapter that lets a plain function satisfy ResponseValidator.
type ResponseValidatorFunc func(raw string, cm *ConnectorMessage, status Status) ResponseOutcome

func (f ResponseValidatorFunc) Validate(raw string, cm *ConnectorMessage, status Status) ResponseOutcome {
	return f(raw, cm, status)
}

// PassthroughValidator keeps the sender's status and raw response.
type PassthroughValidator struct{}

func (PassthroughValidator) Validate(raw string, _ *ConnectorMessage, status Status) ResponseOutcome {
	return ResponseOutcome{Status: status, Message: raw}
}

// StatusResponder replies with the bare status name. It is the fallback when
// no protocol-specific responder is configured.
type StatusResponder struct{}

func (StatusResponder) Respond(_ string, _ *ConnectorMessage, status Status) ResponseOutcome {
	return ResponseOutcome{Status: status, Message: string(status)}
}

// ResponseMode selects where the source reply comes from.
type ResponseMode string

const (
	// ResponseNone never invokes the auto-responder.
	ResponseNone ResponseMode = "none"
	// ResponseAuto synthesizes a reply with the AutoResponder.
	ResponseAuto ResponseMode = "auto"
	// ResponseDestination returns one destination's validated response.
	ResponseDestination ResponseMode = "destination"
)

// ResponseSettings configures source replies.
//
// Precedence: ResponseNone disables replies entirely. ResponseDestination
// always waits for destinations. For ResponseAuto, RespondAfterProcessing
// false replies right after the source filter/transform with the source
// status; true replies after every destination with the aggregate status.
type ResponseSettings struct {
	Mode                   ResponseMode
	RespondAfterProcessing bool
	DestinationID          int
	Responder              AutoResponder
}

// AggregateStatus folds the connector statuses of msg into one reply status.
// A FILTERED or ERROR source wins; otherwise any destination ERROR, then any
// QUEUED, then SENT.
func AggregateStatus(msg *Message) Status {
	src := msg.Source()
	if src == nil {
		return StatusError
	}
	switch src.Status {
	case StatusFiltered, StatusError:
		return src.Status
	}
	if len(msg.connectors) == 1 {
		return src.Status
	}
	status := StatusSent
	for _, cm := range msg.Connectors() {
		if cm.MetaDataID == 0 {
			continue
		}
		switch cm.Status {
		case StatusError:
			return StatusError
		case StatusQueued:
			status = StatusQueued
		}
	}
	return status
}

// ResponseValidatorFactory builds a validator from connector properties.
type ResponseValidatorFactory func(props map[string]any) (ResponseValidator, error)

// AutoResponderFactory builds an auto-responder from connector properties.
type AutoResponderFactory func(props map[string]any) (AutoResponder, error)

var (
	responseRegistryMu sync.RWMutex
	validatorRegistry  = map[string]ResponseValidatorFactory{
		DataTypeRaw:  func(map[string]any) (ResponseValidator, error) { return PassthroughValidator{}, nil },
		DataTypeJSON: func(map[string]any) (ResponseValidator, error) { return PassthroughValidator{}, nil },
	}
	responderRegistry = map[string]AutoResponderFactory{
		DataTypeRaw:  func(map[string]any) (AutoResponder, error) { return StatusResponder{}, nil },
		DataTypeJSON: func(map[string]any) (AutoResponder, error) { return StatusResponder{}, nil },
	}
)

// RegisterResponseHandlers registers the validator and auto-responder for a data type.
func RegisterResponseHandlers(dataType string, v ResponseValidatorFactory, r AutoResponderFactory) error {
	if dataType == "" {
		return fmt.Errorf("response handler data type must not be empty")
	}
	responseRegistryMu.Lock()
	defer responseRegistryMu.Unlock()
	if v != nil {
		validatorRegistry[dataType] = v
	}
	if r != nil {
		responderRegistry[dataType] = r
	}
	return nil
}

// NewResponseValidator builds the validator registered for dataType.
func NewResponseValidator(dataType string, props map[string]any) (ResponseValidator, error) {
	responseRegistryMu.RLock()
	f, ok := validatorRegistry[dataType]
	responseRegistryMu.RUnlock()
	if !ok {
		return PassthroughValidator{}, nil
	}
	return f(props)
}

// NewAutoResponder builds the auto-responder registered for dataType.
func NewAutoResponder(dataType string, props map[string]any) (AutoResponder, error) {
	responseRegistryMu.RLock()
	f, ok := responderRegistry[dataType]
	responseRegistryMu.RUnlock()
	if !ok {
		return StatusResponder{}, nil
	}
	return f(props)
}
