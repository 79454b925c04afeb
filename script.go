package xchannel

import "context"

// LogicOperator joins a filter rule to the result of the rules before it.
type LogicOperator string

const (
	OperatorAnd LogicOperator = "AND"
	OperatorOr  LogicOperator = "OR"
)

// Rule is one filter rule. Properties are interpreted by the ScriptRuntime.
type Rule struct {
	Name       string         `yaml:"name"`
	Disabled   bool           `yaml:"disabled"`
	Operator   LogicOperator  `yaml:"operator"`
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
}

// Step is one transformer step. Properties are interpreted by the ScriptRuntime.
type Step struct {
	Name       string         `yaml:"name"`
	Disabled   bool           `yaml:"disabled"`
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
}

// ScriptContext identifies where a program runs.
type ScriptContext struct {
	ChannelID     string
	ChannelName   string
	ConnectorName string
	MetaDataID    int
}

// ScriptInput is what a filter or transformer program sees.
type ScriptInput struct {
	Context ScriptContext
	Message *ConnectorMessage
	// Data is the processed raw text; Parsed is Data deserialized by the
	// inbound codec.
	Data     string
	DataType string
	Parsed   any
}

// TransformResult carries the transformer output handed to the outbound codec.
type TransformResult struct {
	Transformed bool
	Output      any
}

// ScriptRuntime executes user-authored filter rules and transformer steps.
type ScriptRuntime interface {
	// RunFilter reports whether the message is accepted.
	RunFilter(ctx context.Context, rules []Rule, in *ScriptInput) (bool, error)
	RunTransform(ctx context.Context, steps []Step, in *ScriptInput) (TransformResult, error)
}

func enabledRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Disabled {
			out = append(out, r)
		}
	}
	return out
}

func enabledSteps(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}
