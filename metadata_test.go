package xchannel

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCastMetaData tests casting for every column type.
func TestCastMetaData(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		typ     MetaDataType
		value   any
		want    any
		wantErr bool
	}{
		{name: "string from int", typ: MetaDataString, value: 42, want: "42"},
		{name: "number from string", typ: MetaDataNumber, value: "3.14", want: decimal.RequireFromString("3.14")},
		{name: "number from int", typ: MetaDataNumber, value: 7, want: decimal.NewFromInt(7)},
		{name: "number just below limit", typ: MetaDataNumber, value: "9999999999999999", want: decimal.RequireFromString("9999999999999999")},
		{name: "number at limit", typ: MetaDataNumber, value: "10000000000000000", wantErr: true},
		{name: "negative number at limit", typ: MetaDataNumber, value: -1e16, wantErr: true},
		{name: "number not numeric", typ: MetaDataNumber, value: "abc", wantErr: true},
		{name: "number NaN", typ: MetaDataNumber, value: math.NaN(), wantErr: true},
		{name: "number +Inf", typ: MetaDataNumber, value: math.Inf(1), wantErr: true},
		{name: "number -Inf float32", typ: MetaDataNumber, value: float32(math.Inf(-1)), wantErr: true},
		{name: "string from slice", typ: MetaDataString, value: []int{1, 2}, want: "[1 2]"},
		{name: "string from struct", typ: MetaDataString, value: struct{ A int }{A: 1}, want: "{1}"},
		{name: "boolean yes", typ: MetaDataBoolean, value: "Yes", want: true},
		{name: "boolean zero", typ: MetaDataBoolean, value: "0", want: false},
		{name: "boolean native", typ: MetaDataBoolean, value: true, want: true},
		{name: "boolean junk", typ: MetaDataBoolean, value: "maybe", wantErr: true},
		{name: "timestamp native", typ: MetaDataTimestamp, value: ts, want: ts},
		{name: "timestamp string", typ: MetaDataTimestamp, value: "2024-03-01T10:30:00Z", want: ts},
		{name: "timestamp zero", typ: MetaDataTimestamp, value: time.Time{}, wantErr: true},
		{name: "timestamp junk", typ: MetaDataTimestamp, value: "yesterday", wantErr: true},
		{name: "unknown type", typ: "BLOB", value: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := MetaDataColumn{Name: "COL", Type: tt.typ}
			got, err := CastMetaData(col, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				var ce *CastError
				assert.True(t, errors.As(err, &ce))
				assert.Equal(t, "COL", ce.Column)
				return
			}
			require.NoError(t, err)
			if d, ok := tt.want.(decimal.Decimal); ok {
				assert.True(t, d.Equal(got.(decimal.Decimal)), "got %v", got)
				return
			}
			if want, ok := tt.want.(time.Time); ok {
				assert.True(t, want.Equal(got.(time.Time)), "got %v", got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestCastMetaData_StringTruncation tests the UTF-16 length limit.
func TestCastMetaData_StringTruncation(t *testing.T) {
	col := MetaDataColumn{Name: "NOTE", Type: MetaDataString}

	got, err := CastMetaData(col, strings.Repeat("a", 300))
	require.NoError(t, err)
	assert.Len(t, got, MaxMetaDataStringLength)

	// Each emoji is a surrogate pair; a pair is never split.
	got, err = CastMetaData(col, "a"+strings.Repeat("😀", 200))
	require.NoError(t, err)
	assert.Equal(t, "a"+strings.Repeat("😀", 127), got)
}

// TestExtractMetaData tests map lookup priority and skipped columns.
func TestExtractMetaData(t *testing.T) {
	msg := NewMessage(1, "ch", "srv", time.Now())
	msg.SourceMap().Put("facility", "GH")
	msg.SourceMap().Put("mrn", "from-source")
	cm, err := msg.NewConnectorMessage(0, "Source", nil, time.Now())
	require.NoError(t, err)
	cm.ChannelMap.Put("mrn", "from-channel")
	cm.ChannelMap.Put("age", "not a number")
	cm.ChannelMap.Put("score", math.NaN())
	cm.ConnectorMap.Put("priority", "1")

	got := ExtractMetaData(cm, []MetaDataColumn{
		{Name: "MRN", MappingName: "mrn", Type: MetaDataString},
		{Name: "FACILITY", MappingName: "facility", Type: MetaDataString},
		{Name: "AGE", MappingName: "age", Type: MetaDataNumber},
		{Name: "SCORE", MappingName: "score", Type: MetaDataNumber},
		{Name: "URGENT", MappingName: "priority", Type: MetaDataBoolean},
		{Name: "MISSING", MappingName: "missing", Type: MetaDataString},
		{Name: "UNMAPPED", Type: MetaDataString},
	}, nil)

	assert.Equal(t, map[string]any{
		"MRN":      "from-channel",
		"FACILITY": "GH",
		"URGENT":   true,
	}, got)
}
