package xchannel

import (
	"context"
	"errors"
	"fmt"
)

// FilterTransformer is the filter/transform configuration of one connector.
type FilterTransformer struct {
	InboundDataType  string `yaml:"inboundDataType"`
	OutboundDataType string `yaml:"outboundDataType"`
	Rules            []Rule `yaml:"rules"`
	Steps            []Step `yaml:"steps"`
}

// Executor runs a connector's filter rules then transformer steps.
type Executor struct {
	rules    []Rule
	steps    []Step
	inbound  Codec
	outbound Codec
	runtime  ScriptRuntime
	sctx     ScriptContext
}

// NewExecutor resolves codecs for cfg. runtime may be nil only when no
// enabled rules or steps are configured.
func NewExecutor(cfg FilterTransformer, runtime ScriptRuntime, sctx ScriptContext) (*Executor, error) {
	inbound, err := NewCodec(cfg.InboundDataType)
	if err != nil {
		return nil, err
	}
	outType := cfg.OutboundDataType
	if outType == "" {
		outType = inbound.Name()
	}
	outbound, err := NewCodec(outType)
	if err != nil {
		return nil, err
	}
	e := &Executor{
		rules:    enabledRules(cfg.Rules),
		steps:    enabledSteps(cfg.Steps),
		inbound:  inbound,
		outbound: outbound,
		runtime:  runtime,
		sctx:     sctx,
	}
	if runtime == nil && (len(e.rules) > 0 || len(e.steps) > 0) {
		return nil, fmt.Errorf("xchannel: connector %q has rules or steps but no script runtime", sctx.ConnectorName)
	}
	return e, nil
}

// InboundDataType is the data type tag of RAW content.
func (e *Executor) InboundDataType() string { return e.inbound.Name() }

// OutboundDataType is the data type tag of ENCODED content after a transform.
func (e *Executor) OutboundDataType() string { return e.outbound.Name() }

// ExecuteFilter returns true when cm must be rejected. Without enabled rules
// nothing is ever rejected.
func (e *Executor) ExecuteFilter(ctx context.Context, cm *ConnectorMessage) (bool, error) {
	if len(e.rules) == 0 {
		return false, nil
	}
	in, err := e.input(cm)
	if err != nil {
		return false, err
	}
	return e.filter(ctx, in)
}

// ExecuteTransformer runs the transformer steps and always leaves ENCODED
// populated on success.
func (e *Executor) ExecuteTransformer(ctx context.Context, cm *ConnectorMessage) error {
	var in *ScriptInput
	if len(e.steps) > 0 || !e.passthrough() {
		var err error
		if in, err = e.input(cm); err != nil {
			return err
		}
	}
	return e.transform(ctx, cm, in)
}

// Run executes filter then transformer and sets the resulting status:
// FILTERED, TRANSFORMED, or ERROR. A *TransformError is returned for ERROR.
func (e *Executor) Run(ctx context.Context, cm *ConnectorMessage) (Status, error) {
	var in *ScriptInput
	if len(e.rules) > 0 || len(e.steps) > 0 || !e.passthrough() {
		var err error
		if in, err = e.input(cm); err != nil {
			cm.Fail(err)
			return StatusError, err
		}
	}

	if len(e.rules) > 0 {
		reject, err := e.filter(ctx, in)
		if err != nil {
			cm.Fail(err)
			return StatusError, err
		}
		if reject {
			if err := cm.SetStatus(StatusFiltered); err != nil {
				return cm.Status, err
			}
			return StatusFiltered, nil
		}
	}

	if err := e.transform(ctx, cm, in); err != nil {
		cm.Fail(err)
		return StatusError, err
	}
	if err := cm.SetStatus(StatusTransformed); err != nil {
		return cm.Status, err
	}
	return StatusTransformed, nil
}

func (e *Executor) passthrough() bool {
	return e.inbound.Name() == e.outbound.Name()
}

func (e *Executor) input(cm *ConnectorMessage) (*ScriptInput, error) {
	data := cm.ProcessedRawData()
	parsed, err := e.inbound.Deserialize(data)
	if err != nil {
		return nil, e.wrap(StageDeserialize, err)
	}
	return &ScriptInput{
		Context:  e.sctx,
		Message:  cm,
		Data:     data,
		DataType: e.inbound.Name(),
		Parsed:   parsed,
	}, nil
}

func (e *Executor) filter(ctx context.Context, in *ScriptInput) (bool, error) {
	accepted, err := e.runtime.RunFilter(ctx, e.rules, in)
	if err != nil {
		return false, e.wrap(StageFilter, err)
	}
	return !accepted, nil
}

func (e *Executor) transform(ctx context.Context, cm *ConnectorMessage, in *ScriptInput) error {
	if len(e.steps) == 0 && e.passthrough() {
		dataType := e.inbound.Name()
		if raw := cm.Raw(); raw != nil && raw.DataType != "" {
			dataType = raw.DataType
		}
		cm.SetEncoded(cm.ProcessedRawData(), dataType)
		return nil
	}

	output := in.Parsed
	if len(e.steps) > 0 {
		res, err := e.runtime.RunTransform(ctx, e.steps, in)
		if err != nil {
			return e.wrap(StageTransform, err)
		}
		if res.Transformed {
			output = res.Output
		}
	}

	data, err := e.outbound.Serialize(output)
	if err != nil {
		return e.wrap(StageSerialize, err)
	}
	cm.SetTransformed(data, e.outbound.Name())
	cm.SetEncoded(data, e.outbound.Name())
	return nil
}

func (e *Executor) wrap(stage TransformStage, err error) error {
	var te *TransformError
	if errors.As(err, &te) {
		return err
	}
	return &TransformError{
		Connector:  e.sctx.ConnectorName,
		MetaDataID: e.sctx.MetaDataID,
		Stage:      stage,
		Err:        err,
	}
}
