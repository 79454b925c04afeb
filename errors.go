package xchannel

import (
	"errors"
	"fmt"
)

var (
	ErrRawContentImmutable       = errors.New("xchannel: raw content already set")
	ErrEncodedContentMissing     = errors.New("xchannel: encoded content not set")
	ErrIllegalStatusTransition   = errors.New("xchannel: illegal status transition")
	ErrNotAcceptingMessages      = errors.New("xchannel: connector is not accepting messages")
	ErrIllegalStateTransition    = errors.New("xchannel: illegal state transition")
	ErrNoSourceConfigured        = errors.New("xchannel: no source connector configured")
	ErrNoStatisticsStore         = errors.New("xchannel: no statistics store configured")
	ErrDuplicateMetaDataID       = errors.New("xchannel: duplicate destination metaDataId")
	ErrEventQueueShutdownTimeout = errors.New("xchannel: event queue shutdown timeout")
	ErrChannelNotFound           = errors.New("xchannel: channel not found")
	ErrChannelClosed             = errors.New("xchannel: channel is closed")
	ErrChannelExists             = errors.New("xchannel: channel already deployed")
)

type ErrUnknownConnectorType struct{ name string }

func (e ErrUnknownConnectorType) Error() string {
	return fmt.Sprintf("unknown connector type: %s", e.name)
}

// TransformStage identifies where a filter/transform failure happened.
type TransformStage string

const (
	StagePreprocess  TransformStage = "preprocess"
	StageDeserialize TransformStage = "deserialize"
	StageFilter      TransformStage = "filter"
	StageTransform   TransformStage = "transform"
	StageSerialize   TransformStage = "serialize"
)

// TransformError halts one connector's processing and leaves it in ERROR.
type TransformError struct {
	Connector  string
	MetaDataID int
	Stage      TransformStage
	Err        error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("xchannel: %s failed on connector %q (%d): %v", e.Stage, e.Connector, e.MetaDataID, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// CastError reports a metadata value that cannot be cast to its column type.
type CastError struct {
	Column string
	Type   MetaDataType
	Value  any
	Err    error
}

func (e *CastError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xchannel: cannot cast %v to %s for column %q: %v", e.Value, e.Type, e.Column, e.Err)
	}
	return fmt.Sprintf("xchannel: cannot cast %v to %s for column %q", e.Value, e.Type, e.Column)
}

func (e *CastError) Unwrap() error { return e.Err }

// ValidationMismatchError is produced when a response correlates to a
// different request than the one sent.
type ValidationMismatchError struct {
	Expected string
	Actual   string
}

func (e *ValidationMismatchError) Error() string {
	return fmt.Sprintf("message control id mismatch: expected %q, received %q", e.Expected, e.Actual)
}

// LifecycleError wraps a start/stop failure of a connector.
type LifecycleError struct {
	Connector  string
	MetaDataID int
	Operation  string
	Err        error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("xchannel: %s connector %q (%d): %v", e.Operation, e.Connector, e.MetaDataID, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }
