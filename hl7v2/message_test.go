package hl7v2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adt = "MSH|^~\\&|SENDAPP|SENDFAC|RECVAPP|RECVFAC|20240101120000||ADT^A01^ADT_A01|MSG00001|P|2.5.1|||AL\r" +
	"EVN|A01|20240101120000\r" +
	"PID|1||12345^^^HOSP^MR~999^^^SSN||Doe^John^Q||19800101|M"

// TestParse_FieldNumbering tests MSH field numbering and component access.
func TestParse_FieldNumbering(t *testing.T) {
	m, err := Parse(adt)
	require.NoError(t, err)

	assert.Equal(t, "|", m.MustGet("MSH.1"))
	assert.Equal(t, "^~\\&", m.MustGet("MSH.2"))
	assert.Equal(t, "SENDAPP", m.MustGet("MSH.3"))
	assert.Equal(t, "ADT", m.MustGet("MSH.9.1"))
	assert.Equal(t, "A01", m.MustGet("MSH.9.2"))
	assert.Equal(t, "MSG00001", m.MustGet("MSH.10"))
	assert.Equal(t, "AL", m.MustGet("MSH.15"))
	assert.Equal(t, "John", m.MustGet("PID.5.2"))
	assert.Equal(t, "12345", m.MustGet("PID.3.1"), "first repetition only")
	assert.Equal(t, "", m.MustGet("PID.30"))
	assert.Equal(t, "", m.MustGet("ZZZ.1"))
}

// TestParse_NewlineTerminators tests that \n and \r\n are accepted.
func TestParse_NewlineTerminators(t *testing.T) {
	m, err := Parse("MSH|^~\\&|A|B\r\nPID|1\nPV1|1\n")
	require.NoError(t, err)
	require.Len(t, m.Segments, 3)
	assert.Equal(t, "MSH|^~\\&|A|B\rPID|1\rPV1|1", m.Encode())
}

// TestParse_Rejects tests inputs that are not HL7.
func TestParse_Rejects(t *testing.T) {
	_, err := Parse(`{"resourceType":"Patient"}`)
	assert.ErrorIs(t, err, ErrNotHL7)

	_, err = Parse("MSH|||||")
	assert.ErrorIs(t, err, ErrBadEncoding)
}

// TestEncode_RoundTrip tests that parse then encode is lossless.
func TestEncode_RoundTrip(t *testing.T) {
	m, err := Parse(adt)
	require.NoError(t, err)
	assert.Equal(t, adt, m.Encode())
}

// TestSet_GrowsFields tests setting fields and components past the end.
func TestSet_GrowsFields(t *testing.T) {
	m, err := Parse("MSH|^~\\&|A\rPID|1")
	require.NoError(t, err)

	require.NoError(t, m.Set("PID.5.2", "Jane"))
	require.NoError(t, m.Set("PID.5.1", "Roe"))
	require.NoError(t, m.Set("MSH.9.1", "ORU"))
	assert.Equal(t, "Roe^Jane", m.MustGet("PID.5"))
	assert.Equal(t, "ORU", m.MustGet("MSH.9.1"))

	assert.ErrorIs(t, m.Set("OBX.5", "x"), ErrSegmentMissing)
	assert.ErrorIs(t, m.Set("MSH.1", "#"), ErrBadPath)
}

// TestParsePath tests path syntax.
func TestParsePath(t *testing.T) {
	p, err := ParsePath("pid.5.1.2")
	require.NoError(t, err)
	assert.Equal(t, Path{Segment: "PID", Field: 5, Component: 1, SubComponent: 2}, p)

	for _, bad := range []string{"PID", "PID.0", "PID.x", "PIDX.1", "PID.1.2.3.4"} {
		_, err := ParsePath(bad)
		assert.ErrorIs(t, err, ErrBadPath, bad)
	}
}

// TestCodec_ExtractMetaData tests header metadata extraction.
func TestCodec_ExtractMetaData(t *testing.T) {
	md, err := Codec{}.ExtractMetaData(adt)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source": "SENDFAC", "type": "ADT-A01", "version": "2.5.1"}, md)
}

// TestCodec_Serialize tests normalization of text input.
func TestCodec_Serialize(t *testing.T) {
	out, err := Codec{}.Serialize("MSH|^~\\&|A\nPID|1\n")
	require.NoError(t, err)
	assert.Equal(t, "MSH|^~\\&|A\rPID|1", out)

	_, err = Codec{}.Serialize(42)
	assert.Error(t, err)
}
