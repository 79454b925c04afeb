package xchannel

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/trickstertwo/xlog"
)

// MetaDataType is the declared type of a custom metadata column.
type MetaDataType string

const (
	MetaDataString    MetaDataType = "STRING"
	MetaDataNumber    MetaDataType = "NUMBER"
	MetaDataBoolean   MetaDataType = "BOOLEAN"
	MetaDataTimestamp MetaDataType = "TIMESTAMP"
)

// MaxMetaDataStringLength is measured in UTF-16 code units.
const MaxMetaDataStringLength = 255

var maxMetaDataNumber = decimal.New(1, 16)

var (
	errNumberTooLarge  = errors.New("value must be less than 10^16")
	errNumberNotFinite = errors.New("value must be a finite number")
)

// MetaDataColumn maps a variable from the message maps onto a custom column.
type MetaDataColumn struct {
	Name        string       `yaml:"name"`
	MappingName string       `yaml:"mapping"`
	Type        MetaDataType `yaml:"type"`
}

// ExtractMetaData resolves every column with a mapping name from the
// connector message maps and casts it to the declared type. Columns whose
// value is absent are skipped. Cast failures are logged and skipped.
func ExtractMetaData(cm *ConnectorMessage, columns []MetaDataColumn, logger *xlog.Logger) map[string]any {
	out := make(map[string]any, len(columns))
	for _, col := range columns {
		if col.MappingName == "" {
			continue
		}
		raw, ok := cm.Lookup(col.MappingName)
		if !ok {
			continue
		}
		v, err := CastMetaData(col, raw)
		if err != nil {
			if logger != nil {
				logger.Warn().
					Str("channel_id", cm.ChannelID).
					Str("connector", cm.ConnectorName).
					Str("column", col.Name).
					Err(err).
					Msg("xchannel: metadata column skipped")
			}
			continue
		}
		out[col.Name] = v
	}
	return out
}

// CastMetaData casts value to the column's type.
func CastMetaData(col MetaDataColumn, value any) (any, error) {
	fail := func(err error) (any, error) {
		return nil, &CastError{Column: col.Name, Type: col.Type, Value: value, Err: err}
	}

	switch col.Type {
	case MetaDataString:
		s, err := cast.ToStringE(value)
		if err != nil {
			s = fmt.Sprint(value)
		}
		return truncateUTF16(s, MaxMetaDataStringLength), nil

	case MetaDataNumber:
		d, err := toDecimal(value)
		if err != nil {
			return fail(err)
		}
		if d.Abs().GreaterThanOrEqual(maxMetaDataNumber) {
			return fail(errNumberTooLarge)
		}
		return d, nil

	case MetaDataBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return fail(err)
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1", "on", "y":
			return true, nil
		case "false", "no", "0", "off", "n":
			return false, nil
		}
		return fail(nil)

	case MetaDataTimestamp:
		switch t := value.(type) {
		case time.Time:
			if !t.IsZero() {
				return t, nil
			}
			return fail(nil)
		case *time.Time:
			if t != nil && !t.IsZero() {
				return *t, nil
			}
			return fail(nil)
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return fail(err)
		}
		t, err := cast.ToTimeE(strings.TrimSpace(s))
		if err != nil {
			return fail(err)
		}
		if t.IsZero() {
			return fail(nil)
		}
		return t, nil
	}
	return fail(fmt.Errorf("unknown metadata type %q", col.Type))
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float32:
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Decimal{}, errNumberNotFinite
		}
		return decimal.NewFromFloat32(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Decimal{}, errNumberNotFinite
		}
		return decimal.NewFromFloat(v), nil
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}

// truncateUTF16 keeps at most max UTF-16 code units without splitting a
// surrogate pair.
func truncateUTF16(s string, max int) string {
	units := 0
	for i, r := range s {
		n := utf16.RuneLen(r)
		if n < 1 {
			n = 1
		}
		if units+n > max {
			return s[:i]
		}
		units += n
	}
	return s
}
