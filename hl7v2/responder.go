package hl7v2

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/spf13/cast"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xclock"
)

// AckPolicy is the MSH-15 accept acknowledgment type.
type AckPolicy string

const (
	PolicyAlways         AckPolicy = "AL"
	PolicyNever          AckPolicy = "NE"
	PolicyErrorOnly      AckPolicy = "ER"
	PolicySuccessfulOnly AckPolicy = "SU"
)

// Replies reports whether a reply is due for status under p. Unknown
// policies behave like AL.
func (p AckPolicy) Replies(status xchannel.Status) bool {
	switch p {
	case PolicyNever:
		return false
	case PolicyErrorOnly:
		return status == xchannel.StatusError
	case PolicySuccessfulOnly:
		return status != xchannel.StatusError
	}
	return true
}

// ResponderConfig configures ACK generation.
type ResponderConfig struct {
	SuccessCode string
	ErrorCode   string
	RejectCode  string

	SuccessMessage string
	ErrorMessage   string
	RejectMessage  string

	// UseMSH15 honors the inbound MSH-15 policy; when false every status
	// gets a reply.
	UseMSH15 bool
	// TimeFormat formats MSH-7 of the reply.
	TimeFormat string
}

func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		SuccessCode:   "AA",
		ErrorCode:     "AE",
		RejectCode:    "AR",
		ErrorMessage:  "An error occurred processing the message.",
		RejectMessage: "Message filtered.",
		UseMSH15:      true,
		TimeFormat:    "20060102150405",
	}
}

// ResponderConfigFromMap reads success_code, error_code, reject_code, the
// matching *_message keys, use_msh15 and time_format.
func ResponderConfigFromMap(m map[string]any) ResponderConfig {
	c := DefaultResponderConfig()
	str := func(key string, dst *string) {
		if v, ok := m[key]; ok {
			if s, err := cast.ToStringE(v); err == nil {
				*dst = s
			}
		}
	}
	str("success_code", &c.SuccessCode)
	str("error_code", &c.ErrorCode)
	str("reject_code", &c.RejectCode)
	str("success_message", &c.SuccessMessage)
	str("error_message", &c.ErrorMessage)
	str("reject_message", &c.RejectMessage)
	str("time_format", &c.TimeFormat)
	if v, ok := m["use_msh15"]; ok {
		if b, err := cast.ToBoolE(v); err == nil {
			c.UseMSH15 = b
		}
	}
	return c
}

var _ xchannel.AutoResponder = (*Responder)(nil)

// Responder builds HL7 ACK replies for source messages.
type Responder struct {
	cfg   ResponderConfig
	clock xclock.Clock
	seq   atomic.Uint64
}

func NewResponder(cfg ResponderConfig, clock xclock.Clock) *Responder {
	if clock == nil {
		clock = xclock.Default()
	}
	return &Responder{cfg: cfg, clock: clock}
}

// Respond returns an ACK for raw, or an outcome without a message when the
// policy suppresses the reply or raw is not HL7.
func (r *Responder) Respond(raw string, cm *xchannel.ConnectorMessage, status xchannel.Status) xchannel.ResponseOutcome {
	out := xchannel.ResponseOutcome{Status: status}
	msg, err := Parse(raw)
	if err != nil {
		return out
	}
	policy := PolicyAlways
	if r.cfg.UseMSH15 {
		if p := strings.ToUpper(strings.TrimSpace(msg.MustGet("MSH.15.1"))); p != "" {
			policy = AckPolicy(p)
		}
	}
	if !policy.Replies(status) {
		return out
	}

	code, text := r.cfg.SuccessCode, r.cfg.SuccessMessage
	switch status {
	case xchannel.StatusError:
		code, text = r.cfg.ErrorCode, r.cfg.ErrorMessage
		if cm != nil && cm.ProcessingError != "" && text == "" {
			text = firstLine(cm.ProcessingError)
		}
	case xchannel.StatusFiltered:
		code, text = r.cfg.RejectCode, r.cfg.RejectMessage
	}
	out.Message = r.ack(msg, code, text).Encode()
	return out
}

// ack swaps sender and receiver, keeps the control id in MSA-2 and marks
// MSH-9 as ACK.
func (r *Responder) ack(in *Message, code, text string) *Message {
	d := in.Delimiters
	now := r.clock.Now()
	controlID := now.Format("20060102150405") + strconv.FormatUint(r.seq.Add(1)%1000, 10)

	comp := string(d.Component)
	msgType := "ACK"
	if trigger := in.MustGet("MSH.9.2"); trigger != "" {
		msgType += comp + trigger + comp + "ACK"
	}

	out := &Message{Delimiters: d}
	out.AddSegment(
		"MSH",
		string(d.Field),
		d.encodingChars(),
		in.MustGet("MSH.5"),
		in.MustGet("MSH.6"),
		in.MustGet("MSH.3"),
		in.MustGet("MSH.4"),
		now.Format(r.cfg.TimeFormat),
		"",
		msgType,
		controlID,
		in.MustGet("MSH.11"),
		in.MustGet("MSH.12"),
	)
	msa := []string{"MSA", code, in.MustGet("MSH.10")}
	if text != "" {
		msa = append(msa, text)
	}
	out.AddSegment(msa...)
	return out
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
