// Package rules is a declarative xchannel.ScriptRuntime.
//
// Filter rules compare a field reference with an operand:
//
//	- name: only ADT
//	  type: eq
//	  properties: {field: "hl7:MSH.9.1", value: ADT}
//
// Rules are joined left to right by each rule's operator (AND by default).
// Transformer steps rewrite the document: set_map, json_set, hl7_set,
// replace and template.
package rules

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xchannel"
)

var _ xchannel.ScriptRuntime = (*Runtime)(nil)

// Runtime evaluates rules and steps in process.
type Runtime struct{}

func New() *Runtime { return &Runtime{} }

func (r *Runtime) RunFilter(ctx context.Context, rules []xchannel.Rule, in *xchannel.ScriptInput) (bool, error) {
	s := newState(in)
	accepted, first := true, true
	for _, rule := range rules {
		if rule.Disabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		matched, err := evaluate(s, rule)
		if err != nil {
			return false, err
		}
		switch {
		case first:
			accepted = matched
			first = false
		case rule.Operator == xchannel.OperatorOr:
			accepted = accepted || matched
		default:
			accepted = accepted && matched
		}
	}
	if l, ok := xchannel.LoggerFromContext(ctx); ok && !accepted {
		l.Debug().
			Str("channel_id", in.Context.ChannelID).
			Str("connector", in.Context.ConnectorName).
			Msg("rules: message rejected by filter")
	}
	return accepted, nil
}

func (r *Runtime) RunTransform(ctx context.Context, steps []xchannel.Step, in *xchannel.ScriptInput) (xchannel.TransformResult, error) {
	s := newState(in)
	ran := false
	for _, st := range steps {
		if st.Disabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return xchannel.TransformResult{}, err
		}
		f, ok := step(st.Type)
		if !ok {
			return xchannel.TransformResult{}, fmt.Errorf("rules: unknown step type %q in step %q", st.Type, st.Name)
		}
		if err := f(s, st.Properties); err != nil {
			return xchannel.TransformResult{}, fmt.Errorf("rules: step %q: %w", st.Name, err)
		}
		ran = true
	}
	if !ran {
		return xchannel.TransformResult{}, nil
	}
	debug(ctx, in)
	return xchannel.TransformResult{Transformed: true, Output: s.data}, nil
}

func debug(ctx context.Context, in *xchannel.ScriptInput) {
	l, ok := xchannel.LoggerFromContext(ctx)
	if !ok {
		return
	}
	l.Debug().
		Str("channel_id", in.Context.ChannelID).
		Str("connector", in.Context.ConnectorName).
		Msg("rules: transformer applied")
}
