package rules

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xchannel/hl7v2"
)

// Value references:
//
//	raw             the processed raw data
//	map:<key>       connector, channel, then source map
//	json:<path>     gjson path into the current data
//	hl7:<SEG.f.c>   HL7 v2 field of the current data
//	ctx:<name>      channelId, channelName, connectorName, metaDataId
//
// Anything else is a literal.
const (
	prefixMap  = "map:"
	prefixJSON = "json:"
	prefixHL7  = "hl7:"
	prefixCtx  = "ctx:"
	refRaw     = "raw"
)

// state is the document a rule or step operates on.
type state struct {
	in   *xchannel.ScriptInput
	data string
	hl7  *hl7v2.Message
}

func newState(in *xchannel.ScriptInput) *state {
	s := &state{in: in, data: in.Data}
	if m, ok := in.Parsed.(*hl7v2.Message); ok {
		s.hl7 = m
	}
	return s
}

func (s *state) setData(data string) {
	s.data = data
	s.hl7 = nil
}

func (s *state) message() (*hl7v2.Message, error) {
	if s.hl7 != nil {
		return s.hl7, nil
	}
	m, err := hl7v2.Parse(s.data)
	if err != nil {
		return nil, err
	}
	s.hl7 = m
	return m, nil
}

// resolve returns the value ref points at and whether it exists.
func (s *state) resolve(ref string) (string, bool, error) {
	switch {
	case ref == refRaw:
		return s.data, true, nil
	case strings.HasPrefix(ref, prefixMap):
		v, ok := s.in.Message.Lookup(strings.TrimPrefix(ref, prefixMap))
		if !ok {
			return "", false, nil
		}
		str, err := cast.ToStringE(v)
		if err != nil {
			return fmt.Sprint(v), true, nil
		}
		return str, true, nil
	case strings.HasPrefix(ref, prefixJSON):
		r := gjson.Get(s.data, strings.TrimPrefix(ref, prefixJSON))
		return r.String(), r.Exists(), nil
	case strings.HasPrefix(ref, prefixHL7):
		m, err := s.message()
		if err != nil {
			return "", false, err
		}
		v, err := m.Get(strings.TrimPrefix(ref, prefixHL7))
		if err != nil {
			return "", false, err
		}
		return v, v != "", nil
	case strings.HasPrefix(ref, prefixCtx):
		c := s.in.Context
		switch strings.TrimPrefix(ref, prefixCtx) {
		case "channelId":
			return c.ChannelID, true, nil
		case "channelName":
			return c.ChannelName, true, nil
		case "connectorName":
			return c.ConnectorName, true, nil
		case "metaDataId":
			return cast.ToString(c.MetaDataID), true, nil
		}
		return "", false, fmt.Errorf("rules: unknown context value %q", ref)
	}
	return ref, true, nil
}

// operand returns the "from" reference if present, else the literal "value".
func (s *state) operand(props map[string]any) (string, error) {
	if from, ok := props["from"]; ok {
		v, _, err := s.resolve(cast.ToString(from))
		return v, err
	}
	v, ok := props["value"]
	if !ok {
		return "", nil
	}
	return cast.ToStringE(v)
}
