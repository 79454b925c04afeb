package xchannel

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// RawMessage is what a receiver hands to the pipeline.
type RawMessage struct {
	Data      string
	SourceMap *Map
	// OnResponse, when set, is called once with the selected source reply as
	// soon as it is known. With respond-before-processing that happens before
	// destinations run.
	OnResponse func(ResponseOutcome)
}

// DispatchResult is the fully processed message plus the selected reply.
type DispatchResult struct {
	Message  *Message
	Response *ResponseOutcome
}

// Dispatcher is the pipeline surface visible to receivers.
type Dispatcher interface {
	DispatchRawMessage(ctx context.Context, raw RawMessage) (*DispatchResult, error)
	DispatchBatchMessage(ctx context.Context, raw RawMessage, adaptor BatchAdaptor) ([]*DispatchResult, error)
	// Dispatch uses the channel's batch adaptor when one is configured.
	Dispatch(ctx context.Context, raw RawMessage) ([]*DispatchResult, error)
	EmitConnectionStatus(status ConnectionStatus, info string)
}

// Receiver is the transport side of a source connector. OnStart must return
// once the receiver is listening or polling; delivery runs in background and
// calls the Dispatcher.
type Receiver interface {
	OnStart(ctx context.Context, d Dispatcher) error
	OnStop(ctx context.Context) error
	IsPolling() bool
}

// Aborter is implemented by receivers whose halt cleanup differs from OnStop.
type Aborter interface {
	OnHalt(ctx context.Context) error
}

// SourceConnector drives a Receiver through the deployed-state machine and
// dispatches what it receives into the channel.
type SourceConnector struct {
	lifecycle

	receiver  Receiver
	batch     BatchAdaptorFactory
	process   func(ctx context.Context, raw RawMessage) (*DispatchResult, error)
	inflight  sync.WaitGroup
	receiving bool
}

var _ Dispatcher = (*SourceConnector)(nil)

// Receiver returns the transport receiver.
func (s *SourceConnector) Receiver() Receiver { return s.receiver }

// IsPolling reports whether the receiver polls rather than listens.
func (s *SourceConnector) IsPolling() bool { return s.receiver.IsPolling() }

// Start moves STOPPED -> STARTING -> STARTED. A receiver failure leaves the
// connector STOPPED.
func (s *SourceConnector) Start(ctx context.Context) error {
	if err := s.transition(StateStarting, StateStopped); err != nil {
		return err
	}
	return s.startReceiver(ctx, "start")
}

// Stop moves STARTED|PAUSED -> STOPPING -> STOPPED and waits for in-flight
// dispatches.
func (s *SourceConnector) Stop(ctx context.Context) error {
	if err := s.transition(StateStopping, StateStarted, StatePaused); err != nil {
		return err
	}
	err := s.stopReceiver(ctx, s.receiver.OnStop)
	s.inflight.Wait()
	s.setState(StateStopped)
	if err != nil {
		return &LifecycleError{Connector: s.name, MetaDataID: s.metaDataID, Operation: "stop", Err: err}
	}
	return nil
}

// Pause stops receiving without undeploying.
func (s *SourceConnector) Pause(ctx context.Context) error {
	if err := s.transition(StatePaused, StateStarted); err != nil {
		return err
	}
	if err := s.stopReceiver(ctx, s.receiver.OnStop); err != nil {
		s.setState(StateStopped)
		return &LifecycleError{Connector: s.name, MetaDataID: s.metaDataID, Operation: "pause", Err: err}
	}
	return nil
}

// Resume restarts receiving after Pause.
func (s *SourceConnector) Resume(ctx context.Context) error {
	if err := s.transition(StateStarting, StatePaused); err != nil {
		return err
	}
	return s.startReceiver(ctx, "resume")
}

// startReceiver runs OnStart from STARTING and moves to STARTED. When a halt
// or stop ran while OnStart was in progress, the receiver is stopped again
// and the connector stays where that left it.
func (s *SourceConnector) startReceiver(ctx context.Context, op string) error {
	if err := s.receiver.OnStart(ctx, s); err != nil {
		s.setState(StateStopped)
		return &LifecycleError{Connector: s.name, MetaDataID: s.metaDataID, Operation: op, Err: err}
	}

	s.mu.Lock()
	if cur := s.state; cur != StateStarting {
		s.mu.Unlock()
		err := fmt.Errorf("%w: %s -> %s on connector %q", ErrIllegalStateTransition, cur, StateStarted, s.name)
		if serr := s.receiver.OnStop(ctx); serr != nil {
			err = errors.Join(err, serr)
		}
		return &LifecycleError{Connector: s.name, MetaDataID: s.metaDataID, Operation: op, Err: err}
	}
	s.receiving = true
	s.state = StateStarted
	s.mu.Unlock()
	s.emitState(StateStarted)
	return nil
}

// Halt forces STOPPING, runs the abort cleanup, then always emits IDLE and
// ends in STOPPED. In-flight dispatches are not interrupted or awaited.
func (s *SourceConnector) Halt(ctx context.Context) error {
	if err := s.transition(StateStopping, StateStarting, StateStarted, StatePaused, StateStopping); err != nil {
		return err
	}
	defer func() {
		s.EmitConnectionStatus(ConnectionIdle, "")
		s.setState(StateStopped)
	}()

	abort := s.receiver.OnStop
	if a, ok := s.receiver.(Aborter); ok {
		abort = a.OnHalt
	}
	if cerr := s.stopReceiver(ctx, abort); cerr != nil {
		return &LifecycleError{Connector: s.name, MetaDataID: s.metaDataID, Operation: "halt", Err: cerr}
	}
	return nil
}

// stopReceiver runs fn once per start; a paused receiver is already stopped.
func (s *SourceConnector) stopReceiver(ctx context.Context, fn func(context.Context) error) (err error) {
	s.mu.Lock()
	if !s.receiving {
		s.mu.Unlock()
		return nil
	}
	s.receiving = false
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = errors.New("receiver panicked during shutdown")
		}
	}()
	return fn(ctx)
}

// DispatchRawMessage runs one message through the channel. Work continues to
// completion even if ctx is canceled or the connector is halted meanwhile.
func (s *SourceConnector) DispatchRawMessage(ctx context.Context, raw RawMessage) (*DispatchResult, error) {
	s.mu.Lock()
	if s.state != StateStarted && s.state != StateStarting {
		s.mu.Unlock()
		return nil, ErrNotAcceptingMessages
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	return s.process(context.WithoutCancel(ctx), raw)
}

// DispatchBatchMessage splits raw with adaptor and dispatches every
// sub-message with batchSequenceId and batchComplete in its source map.
// The adaptor is always closed. Transform errors of single sub-messages are
// collected; any other error stops the batch.
func (s *SourceConnector) DispatchBatchMessage(ctx context.Context, raw RawMessage, adaptor BatchAdaptor) (results []*DispatchResult, err error) {
	defer func() {
		if cerr := adaptor.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var errs []error
	cur, ok, err := adaptor.Next(ctx)
	if err != nil {
		return nil, err
	}
	for seq := 1; ok; seq++ {
		next, nextOK, nextErr := adaptor.Next(ctx)

		sm := raw.SourceMap.Clone()
		sm.Put(SourceMapBatchSequenceID, seq)
		sm.Put(SourceMapBatchComplete, !nextOK && nextErr == nil)

		res, derr := s.DispatchRawMessage(ctx, RawMessage{Data: cur, SourceMap: sm, OnResponse: raw.OnResponse})
		if res != nil {
			results = append(results, res)
		}
		if derr != nil {
			var te *TransformError
			if !errors.As(derr, &te) {
				return results, derr
			}
			errs = append(errs, derr)
		}
		if nextErr != nil {
			return results, errors.Join(append(errs, nextErr)...)
		}
		cur, ok = next, nextOK
	}
	return results, errors.Join(errs...)
}

// Dispatch splits raw with the configured batch adaptor, or dispatches it
// as a single message when there is none.
func (s *SourceConnector) Dispatch(ctx context.Context, raw RawMessage) ([]*DispatchResult, error) {
	if s.batch != nil {
		return s.DispatchBatchMessage(ctx, raw, s.batch(raw.Data))
	}
	res, err := s.DispatchRawMessage(ctx, raw)
	if res == nil {
		return nil, err
	}
	return []*DispatchResult{res}, err
}

const (
	SourceMapBatchSequenceID = "batchSequenceId"
	SourceMapBatchComplete   = "batchComplete"
)
