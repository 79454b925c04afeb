package hl7v2

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xchannel"
)

func withPolicy(policy string) string {
	return strings.Replace(adt, "|||AL\r", "|||"+policy+"\r", 1)
}

var allStatuses = []xchannel.Status{
	xchannel.StatusReceived,
	xchannel.StatusFiltered,
	xchannel.StatusTransformed,
	xchannel.StatusSent,
	xchannel.StatusQueued,
	xchannel.StatusError,
	xchannel.StatusPending,
}

// TestResponder_Policies tests MSH-15 reply policies for every status.
func TestResponder_Policies(t *testing.T) {
	r := NewResponder(DefaultResponderConfig(), nil)

	for _, status := range allStatuses {
		assert.True(t, r.Respond(withPolicy("AL"), nil, status).HasReply(), "AL %s", status)
		assert.False(t, r.Respond(withPolicy("NE"), nil, status).HasReply(), "NE %s", status)
		assert.Equal(t, status == xchannel.StatusError, r.Respond(withPolicy("ER"), nil, status).HasReply(), "ER %s", status)
		assert.Equal(t, status != xchannel.StatusError, r.Respond(withPolicy("SU"), nil, status).HasReply(), "SU %s", status)
	}
}

// TestResponder_DefaultPolicy tests that an empty MSH-15 means always.
func TestResponder_DefaultPolicy(t *testing.T) {
	r := NewResponder(DefaultResponderConfig(), nil)
	out := r.Respond(withPolicy(""), nil, xchannel.StatusSent)
	assert.True(t, out.HasReply())
	assert.Equal(t, xchannel.StatusSent, out.Status)
}

// TestResponder_AckShape tests the reply header and MSA segment.
func TestResponder_AckShape(t *testing.T) {
	r := NewResponder(DefaultResponderConfig(), nil)

	cases := map[xchannel.Status]string{
		xchannel.StatusSent:     "AA",
		xchannel.StatusQueued:   "AA",
		xchannel.StatusError:    "AE",
		xchannel.StatusFiltered: "AR",
	}
	for status, code := range cases {
		out := r.Respond(adt, nil, status)
		ack, err := Parse(out.Message)
		require.NoError(t, err)

		assert.Equal(t, "RECVAPP", ack.MustGet("MSH.3"), status)
		assert.Equal(t, "RECVFAC", ack.MustGet("MSH.4"), status)
		assert.Equal(t, "SENDAPP", ack.MustGet("MSH.5"), status)
		assert.Equal(t, "SENDFAC", ack.MustGet("MSH.6"), status)
		assert.Equal(t, "ACK^A01^ACK", ack.MustGet("MSH.9"), status)
		assert.Equal(t, "2.5.1", ack.MustGet("MSH.12"), status)
		assert.Equal(t, code, ack.MustGet("MSA.1"), status)
		assert.Equal(t, "MSG00001", ack.MustGet("MSA.2"), status)
	}
}

// TestResponder_NotHL7 tests that unparsable input yields no reply.
func TestResponder_NotHL7(t *testing.T) {
	out := NewResponder(DefaultResponderConfig(), nil).Respond("hello", nil, xchannel.StatusSent)
	assert.False(t, out.HasReply())
	assert.Equal(t, xchannel.StatusSent, out.Status)
}

// TestResponder_IgnoreMSH15 tests replying regardless of MSH-15.
func TestResponder_IgnoreMSH15(t *testing.T) {
	cfg := ResponderConfigFromMap(map[string]any{"use_msh15": false, "success_code": "CA"})
	out := NewResponder(cfg, nil).Respond(withPolicy("NE"), nil, xchannel.StatusSent)
	require.True(t, out.HasReply())

	ack, err := Parse(out.Message)
	require.NoError(t, err)
	assert.Equal(t, "CA", ack.MustGet("MSA.1"))
}
