package xchannel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Codec is the Strategy for one data type: it turns wire text into a
// structured form for rules and back.
type Codec interface {
	Name() string
	Serialize(v any) (string, error)
	Deserialize(data string) (any, error)
	// ExtractMetaData returns a small flat map of well-known header values.
	ExtractMetaData(data string) (map[string]string, error)
}

const (
	DataTypeRaw  = "RAW"
	DataTypeJSON = "JSON"
)

// RawCodec passes text through untouched.
type RawCodec struct{}

func (RawCodec) Name() string { return DataTypeRaw }

func (RawCodec) Serialize(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	case nil:
		return "", nil
	}
	return fmt.Sprint(v), nil
}

func (RawCodec) Deserialize(data string) (any, error) { return data, nil }

func (RawCodec) ExtractMetaData(string) (map[string]string, error) { return map[string]string{}, nil }

// JSONCodec decodes into generic Go values.
type JSONCodec struct{}

func (JSONCodec) Name() string { return DataTypeJSON }

// Serialize accepts already-encoded JSON text or any marshalable value.
func (JSONCodec) Serialize(v any) (string, error) {
	if s, ok := v.(string); ok {
		if !json.Valid([]byte(s)) {
			return "", errors.New("json codec: invalid JSON document")
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(s)); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONCodec) Deserialize(data string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (JSONCodec) ExtractMetaData(data string) (map[string]string, error) {
	var top map[string]any
	if err := json.Unmarshal([]byte(data), &top); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, k := range []string{"type", "version", "source"} {
		if v, ok := top[k].(string); ok {
			out[k] = v
		}
	}
	return out, nil
}

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		DataTypeRaw:  func() Codec { return RawCodec{} },
		DataTypeJSON: func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by data type name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by data type name. An empty name means RAW.
func NewCodec(name string) (Codec, error) {
	if name == "" {
		name = DataTypeRaw
	}
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}
