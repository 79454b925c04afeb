package hl7v2

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cast"
	"github.com/trickstertwo/xchannel"
)

// ValidatorConfig buckets MSA-1 acknowledgment codes.
type ValidatorConfig struct {
	SuccessCodes []string
	ErrorCodes   []string
	QueueCodes   []string
	// ValidateControlID compares MSA-2 to MSH-10 of the sent message.
	ValidateControlID bool
}

// DefaultValidatorConfig returns AA/CA success, AE/CE error, AR/CR queue.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		SuccessCodes:      []string{"AA", "CA"},
		ErrorCodes:        []string{"AE", "CE"},
		QueueCodes:        []string{"AR", "CR"},
		ValidateControlID: true,
	}
}

// ValidatorConfigFromMap reads success_codes, error_codes, queue_codes (lists
// or comma separated strings) and validate_control_id.
func ValidatorConfigFromMap(m map[string]any) ValidatorConfig {
	c := DefaultValidatorConfig()
	if v, ok := codes(m["success_codes"]); ok {
		c.SuccessCodes = v
	}
	if v, ok := codes(m["error_codes"]); ok {
		c.ErrorCodes = v
	}
	if v, ok := codes(m["queue_codes"]); ok {
		c.QueueCodes = v
	}
	if v, ok := m["validate_control_id"]; ok {
		if b, err := cast.ToBoolE(v); err == nil {
			c.ValidateControlID = b
		}
	}
	return c
}

func codes(v any) ([]string, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		var out []string
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, false
	}
	return out, true
}

var _ xchannel.ResponseValidator = (*Validator)(nil)

// Validator maps an HL7 acknowledgment onto a destination status.
type Validator struct {
	cfg ValidatorConfig
}

func NewValidator(cfg ValidatorConfig) *Validator { return &Validator{cfg: cfg} }

// Validate leaves status and response unchanged when raw is not an HL7
// acknowledgment or carries an unknown code.
func (v *Validator) Validate(raw string, cm *xchannel.ConnectorMessage, status xchannel.Status) xchannel.ResponseOutcome {
	unchanged := xchannel.ResponseOutcome{Status: status, Message: raw}
	ack, err := Parse(raw)
	if err != nil || ack.Segment("MSA") == nil {
		return unchanged
	}
	code := strings.ToUpper(strings.TrimSpace(ack.MustGet("MSA.1.1")))
	text := ack.MustGet("MSA.3.1")
	if text == "" {
		text = ack.MustGet("ERR.8.1")
	}

	switch {
	case slices.Contains(v.cfg.SuccessCodes, code):
		if v.cfg.ValidateControlID {
			if mismatch := v.checkControlID(ack, cm); mismatch != nil {
				return xchannel.ResponseOutcome{Status: xchannel.StatusError, Message: raw, Err: mismatch}
			}
		}
		return xchannel.ResponseOutcome{Status: xchannel.StatusSent, Message: raw}
	case slices.Contains(v.cfg.ErrorCodes, code):
		return xchannel.ResponseOutcome{Status: xchannel.StatusError, Message: raw, Err: nack(code, text)}
	case slices.Contains(v.cfg.QueueCodes, code):
		return xchannel.ResponseOutcome{Status: xchannel.StatusQueued, Message: raw, Err: nack(code, text)}
	}
	return unchanged
}

func (v *Validator) checkControlID(ack *Message, cm *xchannel.ConnectorMessage) error {
	if cm == nil || cm.Encoded() == nil {
		return nil
	}
	sent, err := Parse(cm.Encoded().Data)
	if err != nil {
		return nil
	}
	expected := sent.MustGet("MSH.10.1")
	actual := ack.MustGet("MSA.2.1")
	if expected == actual {
		return nil
	}
	return &xchannel.ValidationMismatchError{Expected: expected, Actual: actual}
}

func nack(code, text string) error {
	if text == "" {
		return fmt.Errorf("hl7v2: negative acknowledgment %s", code)
	}
	return fmt.Errorf("hl7v2: negative acknowledgment %s: %s", code, text)
}
