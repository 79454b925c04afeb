package hl7v2

import (
	"fmt"

	"github.com/trickstertwo/xchannel"
)

// DataType is the registered data type name.
const DataType = "HL7V2"

var _ xchannel.Codec = Codec{}

// Codec parses ER7 into *Message for rules and serializes it back.
type Codec struct{}

func (Codec) Name() string { return DataType }

// Serialize accepts a *Message or ER7 text, which is validated and
// normalized to \r segment terminators.
func (Codec) Serialize(v any) (string, error) {
	switch t := v.(type) {
	case *Message:
		return t.Encode(), nil
	case string:
		m, err := Parse(t)
		if err != nil {
			return "", err
		}
		return m.Encode(), nil
	case []byte:
		m, err := Parse(string(t))
		if err != nil {
			return "", err
		}
		return m.Encode(), nil
	}
	return "", fmt.Errorf("hl7v2 codec: cannot serialize %T", v)
}

func (Codec) Deserialize(data string) (any, error) {
	return Parse(data)
}

// ExtractMetaData returns source (MSH-4), type (MSH-9.1-MSH-9.2) and
// version (MSH-12).
func (Codec) ExtractMetaData(data string) (map[string]string, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if v := m.MustGet("MSH.4.1"); v != "" {
		out["source"] = v
	}
	typ := m.MustGet("MSH.9.1")
	if trigger := m.MustGet("MSH.9.2"); trigger != "" {
		typ += "-" + trigger
	}
	if typ != "" {
		out["type"] = typ
	}
	if v := m.MustGet("MSH.12.1"); v != "" {
		out["version"] = v
	}
	return out, nil
}
