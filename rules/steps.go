package rules

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"github.com/tidwall/sjson"
	"github.com/trickstertwo/xchannel"
)

// StepFunc applies one transformer step to s.
type StepFunc func(s *state, props map[string]any) error

var (
	stepsMu sync.RWMutex
	steps   = map[string]StepFunc{
		"set_map":  setMap,
		"json_set": jsonSet,
		"hl7_set":  hl7Set,
		"replace":  replace,
		"template": template,
	}
)

func step(name string) (StepFunc, bool) {
	stepsMu.RLock()
	defer stepsMu.RUnlock()
	f, ok := steps[name]
	return f, ok
}

// set_map: scope (channel, connector or response; default channel), key,
// value or from.
func setMap(s *state, props map[string]any) error {
	key := cast.ToString(props["key"])
	if key == "" {
		return fmt.Errorf("set_map: key required")
	}
	v, err := s.operand(props)
	if err != nil {
		return err
	}
	cm := s.in.Message
	var target *xchannel.Map
	switch scope := cast.ToString(props["scope"]); scope {
	case "", "channel":
		target = cm.ChannelMap
	case "connector":
		target = cm.ConnectorMap
	case "response":
		target = cm.ResponseMap
	default:
		return fmt.Errorf("set_map: unknown scope %q", scope)
	}
	target.Put(key, v)
	return nil
}

// json_set: path (sjson syntax), value or from. raw=true inserts the operand
// as JSON instead of a string.
func jsonSet(s *state, props map[string]any) error {
	path := cast.ToString(props["path"])
	if path == "" {
		return fmt.Errorf("json_set: path required")
	}
	var (
		out string
		err error
	)
	if v, ok := props["value"]; ok && props["from"] == nil && !isString(v) {
		out, err = sjson.Set(s.data, path, v)
	} else {
		var operand string
		if operand, err = s.operand(props); err != nil {
			return err
		}
		if cast.ToBool(props["raw"]) {
			out, err = sjson.SetRaw(s.data, path, operand)
		} else {
			out, err = sjson.Set(s.data, path, operand)
		}
	}
	if err != nil {
		return fmt.Errorf("json_set: %w", err)
	}
	s.setData(out)
	return nil
}

// hl7_set: path (SEG.field[.component]), value or from.
func hl7Set(s *state, props map[string]any) error {
	m, err := s.message()
	if err != nil {
		return fmt.Errorf("hl7_set: %w", err)
	}
	v, err := s.operand(props)
	if err != nil {
		return err
	}
	if err := m.Set(cast.ToString(props["path"]), v); err != nil {
		return fmt.Errorf("hl7_set: %w", err)
	}
	s.data = m.Encode()
	return nil
}

// replace: old, new, optional count (default all).
func replace(s *state, props map[string]any) error {
	old := cast.ToString(props["old"])
	if old == "" {
		return fmt.Errorf("replace: old required")
	}
	n := -1
	if v, ok := props["count"]; ok {
		n = cast.ToInt(v)
	}
	s.setData(strings.Replace(s.data, old, cast.ToString(props["new"]), n))
	return nil
}

// template: text with ${ref} placeholders replaces the document.
func template(s *state, props map[string]any) error {
	text, ok := props["template"]
	if !ok {
		return fmt.Errorf("template: template required")
	}
	var firstErr error
	out := os.Expand(cast.ToString(text), func(ref string) string {
		v, _, err := s.resolve(ref)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	})
	if firstErr != nil {
		return fmt.Errorf("template: %w", firstErr)
	}
	s.setData(out)
	return nil
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}
