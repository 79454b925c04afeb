package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xchannel/hl7v2"
)

const patient = `{"patient":{"id":"123","age":42,"name":"Doe"},"type":"admit"}`

const adt = "MSH|^~\\&|APP|FAC|RCV|RFAC|20240101||ADT^A01|C1|P|2.5\rPID|1||555||Doe^John"

func input(t *testing.T, data string, parsed any) *xchannel.ScriptInput {
	t.Helper()
	msg := xchannel.NewMessage(1, "ch-1", "srv", time.Now())
	msg.SourceMap().Put("origin", "lab")
	cm, err := msg.NewConnectorMessage(0, "Source", xchannel.MapOf(map[string]any{"facility": "north"}), time.Now())
	require.NoError(t, err)
	return &xchannel.ScriptInput{
		Context: xchannel.ScriptContext{ChannelID: "ch-1", ChannelName: "ADT In", ConnectorName: "Source"},
		Message: cm,
		Data:    data,
		Parsed:  parsed,
	}
}

func rule(typ, field string, value any) xchannel.Rule {
	return xchannel.Rule{Name: typ + " " + field, Type: typ, Properties: map[string]any{"field": field, "value": value}}
}

// TestRunFilter_Operators tests each built-in condition.
func TestRunFilter_Operators(t *testing.T) {
	rt := New()
	in := input(t, patient, nil)

	cases := []struct {
		rule xchannel.Rule
		want bool
	}{
		{rule("eq", "json:patient.id", "123"), true},
		{rule("eq", "json:patient.id", "124"), false},
		{rule("ne", "json:patient.id", "124"), true},
		{rule("contains", "raw", "admit"), true},
		{rule("starts_with", "json:patient.name", "Do"), true},
		{rule("ends_with", "json:patient.name", "x"), false},
		{rule("regex", "json:patient.id", `^\d{3}$`), true},
		{rule("exists", "json:patient.id", nil), true},
		{rule("exists", "json:patient.mrn", nil), false},
		{rule("not_exists", "json:patient.mrn", nil), true},
		{rule("gt", "json:patient.age", "40"), true},
		{rule("gte", "json:patient.age", 42), true},
		{rule("lt", "json:patient.age", "42"), false},
		{rule("lte", "json:patient.age", "42.0"), true},
		{rule("eq", "map:facility", "north"), true},
		{rule("eq", "map:origin", "lab"), true},
		{rule("eq", "ctx:channelName", "ADT In"), true},
	}
	for _, tc := range cases {
		got, err := rt.RunFilter(context.Background(), []xchannel.Rule{tc.rule}, in)
		require.NoError(t, err, tc.rule.Name)
		assert.Equal(t, tc.want, got, tc.rule.Name)
	}
}

// TestRunFilter_Joins tests AND/OR joining and disabled rules.
func TestRunFilter_Joins(t *testing.T) {
	rt := New()
	in := input(t, patient, nil)

	miss := rule("eq", "json:type", "discharge")
	hit := rule("eq", "json:type", "admit")
	or := hit
	or.Operator = xchannel.OperatorOr

	ok, err := rt.RunFilter(context.Background(), []xchannel.Rule{miss, or}, in)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rt.RunFilter(context.Background(), []xchannel.Rule{hit, miss}, in)
	require.NoError(t, err)
	assert.False(t, ok)

	disabled := miss
	disabled.Disabled = true
	ok, err = rt.RunFilter(context.Background(), []xchannel.Rule{hit, disabled}, in)
	require.NoError(t, err)
	assert.True(t, ok)

	negated := miss
	negated.Properties = map[string]any{"field": "json:type", "value": "discharge", "negate": true}
	ok, err = rt.RunFilter(context.Background(), []xchannel.Rule{negated}, in)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestRunFilter_HL7 tests HL7 field references on a parsed message.
func TestRunFilter_HL7(t *testing.T) {
	m, err := hl7v2.Parse(adt)
	require.NoError(t, err)

	ok, err := New().RunFilter(context.Background(), []xchannel.Rule{rule("eq", "hl7:MSH.9.1", "ADT")}, input(t, adt, m))
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestRunFilter_Errors tests unknown types and bad regexes.
func TestRunFilter_Errors(t *testing.T) {
	in := input(t, patient, nil)
	_, err := New().RunFilter(context.Background(), []xchannel.Rule{rule("nope", "raw", "")}, in)
	assert.Error(t, err)

	_, err = New().RunFilter(context.Background(), []xchannel.Rule{rule("regex", "raw", "(")}, in)
	assert.Error(t, err)
}

// TestRunTransform_Steps tests a chain of transformer steps.
func TestRunTransform_Steps(t *testing.T) {
	in := input(t, patient, nil)
	steps := []xchannel.Step{
		{Name: "mrn", Type: "json_set", Properties: map[string]any{"path": "patient.mrn", "from": "map:facility"}},
		{Name: "age", Type: "json_set", Properties: map[string]any{"path": "patient.age", "value": 43}},
		{Name: "remember", Type: "set_map", Properties: map[string]any{"key": "patientId", "from": "json:patient.id"}},
		{Name: "skip", Type: "replace", Disabled: true, Properties: map[string]any{"old": "Doe", "new": "Roe"}},
	}

	res, err := New().RunTransform(context.Background(), steps, in)
	require.NoError(t, err)
	require.True(t, res.Transformed)

	out := res.Output.(string)
	assert.Equal(t, "north", gjson.Get(out, "patient.mrn").String())
	assert.Equal(t, int64(43), gjson.Get(out, "patient.age").Int())
	assert.Equal(t, "Doe", gjson.Get(out, "patient.name").String())

	v, ok := in.Message.ChannelMap.Get("patientId")
	require.True(t, ok)
	assert.Equal(t, "123", v)
}

// TestRunTransform_Template tests placeholder expansion.
func TestRunTransform_Template(t *testing.T) {
	steps := []xchannel.Step{{Name: "t", Type: "template", Properties: map[string]any{
		"template": `{"id":"${json:patient.id}","site":"${map:facility}"}`,
	}}}
	res, err := New().RunTransform(context.Background(), steps, input(t, patient, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"123","site":"north"}`, res.Output.(string))
}

// TestRunTransform_HL7Set tests editing an HL7 field.
func TestRunTransform_HL7Set(t *testing.T) {
	m, err := hl7v2.Parse(adt)
	require.NoError(t, err)
	steps := []xchannel.Step{{Name: "mrn", Type: "hl7_set", Properties: map[string]any{"path": "PID.3.1", "value": "999"}}}

	res, err := New().RunTransform(context.Background(), steps, input(t, adt, m))
	require.NoError(t, err)
	out, err := hl7v2.Parse(res.Output.(string))
	require.NoError(t, err)
	assert.Equal(t, "999", out.MustGet("PID.3.1"))
}

// TestRunTransform_NoEnabledSteps tests that nothing is reported transformed.
func TestRunTransform_NoEnabledSteps(t *testing.T) {
	res, err := New().RunTransform(context.Background(), []xchannel.Step{{Type: "replace", Disabled: true}}, input(t, patient, nil))
	require.NoError(t, err)
	assert.False(t, res.Transformed)
}
