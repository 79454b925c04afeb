package xchannel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ConnectorMapStatusMessage is the connector map key holding the sender's
// short status text, such as "file written".
const ConnectorMapStatusMessage = "responseStatusMessage"

// Sender is the transport side of a destination connector.
type Sender interface {
	Send(ctx context.Context, cm *ConnectorMessage) (*Response, error)
}

// SenderFunc is an Adapter that lets a plain function satisfy Sender.
type SenderFunc func(ctx context.Context, cm *ConnectorMessage) (*Response, error)

func (f SenderFunc) Send(ctx context.Context, cm *ConnectorMessage) (*Response, error) {
	return f(ctx, cm)
}

// Starter is implemented by senders that hold connections.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by senders that hold connections.
type Stopper interface {
	Stop(ctx context.Context) error
}

// DestinationConfig configures one destination connector.
type DestinationConfig struct {
	MetaDataID        int
	Name              string
	FilterTransformer FilterTransformer
	// QueueOnError turns send failures into QUEUED instead of ERROR.
	QueueOnError     bool
	ResponseDataType string
	Validator        ResponseValidator
	Middlewares      []SendMiddleware
}

// DestinationConnector filters, transforms, sends and validates one
// connector message per dispatch.
type DestinationConnector struct {
	lifecycle

	sender       Sender
	send         SendFunc
	executor     *Executor
	validator    ResponseValidator
	queueOnError bool
	responseType string
}

// ResponseKey is the response map key under which this destination's
// response is published.
func (d *DestinationConnector) ResponseKey() string { return "d" + strconv.Itoa(d.metaDataID) }

// Sender returns the transport sender.
func (d *DestinationConnector) Sender() Sender { return d.sender }

// Start starts the sender when it implements Starter.
func (d *DestinationConnector) Start(ctx context.Context) error {
	if err := d.transition(StateStarting, StateStopped); err != nil {
		return err
	}
	if s, ok := d.sender.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			d.setState(StateStopped)
			return &LifecycleError{Connector: d.name, MetaDataID: d.metaDataID, Operation: "start", Err: err}
		}
	}

	d.mu.Lock()
	if cur := d.state; cur != StateStarting {
		d.mu.Unlock()
		err := fmt.Errorf("%w: %s -> %s on connector %q", ErrIllegalStateTransition, cur, StateStarted, d.name)
		if s, ok := d.sender.(Stopper); ok {
			if serr := s.Stop(ctx); serr != nil {
				err = errors.Join(err, serr)
			}
		}
		return &LifecycleError{Connector: d.name, MetaDataID: d.metaDataID, Operation: "start", Err: err}
	}
	d.state = StateStarted
	d.mu.Unlock()
	d.emitState(StateStarted)
	return nil
}

// Stop stops the sender when it implements Stopper.
func (d *DestinationConnector) Stop(ctx context.Context) error {
	if err := d.transition(StateStopping, StateStarted, StatePaused); err != nil {
		return err
	}
	var err error
	if s, ok := d.sender.(Stopper); ok {
		err = s.Stop(ctx)
	}
	d.setState(StateStopped)
	if err != nil {
		return &LifecycleError{Connector: d.name, MetaDataID: d.metaDataID, Operation: "stop", Err: err}
	}
	return nil
}

// Halt behaves like Stop but always ends STOPPED after an IDLE event.
func (d *DestinationConnector) Halt(ctx context.Context) error {
	if err := d.transition(StateStopping, StateStarting, StateStarted, StatePaused, StateStopping); err != nil {
		return err
	}
	defer func() {
		d.EmitConnectionStatus(ConnectionIdle, "")
		d.setState(StateStopped)
	}()
	if s, ok := d.sender.(Stopper); ok {
		if err := s.Stop(ctx); err != nil {
			return &LifecycleError{Connector: d.name, MetaDataID: d.metaDataID, Operation: "halt", Err: err}
		}
	}
	return nil
}

// process runs filter/transform, send and validation for cm. A non-nil
// error is a *TransformError; send failures are recorded on cm instead.
func (d *DestinationConnector) process(ctx context.Context, cm *ConnectorMessage) (*Response, error) {
	status, err := d.executor.Run(ctx, cm)
	if err != nil || status != StatusTransformed {
		return nil, err
	}

	if cm.Encoded() == nil {
		cm.Fail(ErrEncodedContentMissing)
		return nil, ErrEncodedContentMissing
	}

	d.EmitConnectionStatus(ConnectionSending, "")
	resp, serr := d.send(ctx, cm)
	d.EmitConnectionStatus(ConnectionIdle, "")
	if resp != nil && resp.StatusMessage != "" {
		cm.ConnectorMap.Put(ConnectorMapStatusMessage, resp.StatusMessage)
	}

	if serr != nil {
		cm.ProcessingError = serr.Error()
		if d.queueOnError && !errors.Is(serr, ErrEncodedContentMissing) {
			_ = cm.SetStatus(StatusQueued)
		} else {
			_ = cm.SetStatus(StatusError)
		}
		if resp == nil {
			resp = &Response{Status: cm.Status, Error: serr.Error()}
		}
		return resp, nil
	}
	if resp == nil {
		resp = &Response{}
	}

	status = resp.Status
	if status == "" || !status.Valid() {
		status = StatusSent
	}
	if resp.Message != "" {
		cm.SetResponse(resp.Message, d.responseType)
	}

	outcome := d.validator.Validate(resp.Message, cm, status)
	if outcome.Status == "" {
		outcome.Status = status
	}
	if outcome.Message != "" {
		_ = cm.SetContent(ContentResponseTransformed, outcome.Message, d.responseType, false)
	}
	if outcome.Err != nil {
		cm.ProcessingError = outcome.Err.Error()
		resp.Error = outcome.Err.Error()
	}
	if resp.Error != "" && cm.ProcessingError == "" {
		cm.ProcessingError = resp.Error
	}
	if !outcome.Status.Terminal() {
		outcome.Status = StatusSent
	}
	_ = cm.SetStatus(outcome.Status)
	resp.Status = cm.Status
	return resp, nil
}

// countingSender records one send attempt per call.
func countingSender(s Sender) SendFunc {
	return func(ctx context.Context, cm *ConnectorMessage) (*Response, error) {
		if cm.Encoded() == nil {
			return nil, ErrEncodedContentMissing
		}
		cm.SendAttempts++
		return s.Send(ctx, cm)
	}
}
