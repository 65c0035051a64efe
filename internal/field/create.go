package field

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Layouts used when parsing and formatting the date family.
const (
	DateLayout     = "2006-01-02"
	DatetimeLayout = time.RFC3339Nano
	TimeLayout     = "15:04:05.000"
)

var timeLayouts = []string{TimeLayout, "15:04:05", "15:04"}

// Create builds a field of type t from an arbitrary Go value, coercing where the
// conversion is unambiguous (numeric strings, formatted dates, decimal strings).
// A nil value yields a null field of type t.
func Create(t Type, v any) (*Field, error) {
	if v == nil {
		return Null(t), nil
	}
	if f, ok := v.(*Field); ok {
		if f.typ != t {
			return nil, fmt.Errorf("cannot use %s field as %s", f.typ, t)
		}
		return f, nil
	}

	switch t {
	case TypeString:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, coerceErr(t, v, err)
		}
		return NewString(s), nil
	case TypeInteger:
		i, err := cast.ToInt32E(v)
		if err != nil {
			return nil, coerceErr(t, v, err)
		}
		return NewInteger(i), nil
	case TypeLong:
		i, err := cast.ToInt64E(v)
		if err != nil {
			return nil, coerceErr(t, v, err)
		}
		return NewLong(i), nil
	case TypeFloat:
		fl, err := cast.ToFloat32E(v)
		if err != nil {
			return nil, coerceErr(t, v, err)
		}
		return NewFloat(fl), nil
	case TypeDouble:
		fl, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, coerceErr(t, v, err)
		}
		return NewDouble(fl), nil
	case TypeBoolean:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, coerceErr(t, v, err)
		}
		return NewBoolean(b), nil
	case TypeDecimal:
		d, err := toDecimal(v)
		if err != nil {
			return nil, coerceErr(t, v, err)
		}
		return NewDecimal(d), nil
	case TypeByteArray:
		switch b := v.(type) {
		case []byte:
			return NewByteArray(b), nil
		case string:
			return NewByteArray([]byte(b)), nil
		}
		return nil, coerceErr(t, v, nil)
	case TypeDate, TypeDatetime, TypeTime:
		ts, err := toTime(t, v)
		if err != nil {
			return nil, coerceErr(t, v, err)
		}
		switch t {
		case TypeDate:
			return NewDate(ts), nil
		case TypeTime:
			return NewTime(ts), nil
		}
		return NewDatetime(ts), nil
	case TypeList:
		if items, ok := v.([]*Field); ok {
			return NewList(items), nil
		}
		return nil, coerceErr(t, v, nil)
	case TypeMap, TypeOrderedMap:
		m, ok := v.(*Map)
		if !ok {
			return nil, coerceErr(t, v, nil)
		}
		if t == TypeMap {
			return NewMapField(m), nil
		}
		return NewOrderedMap(m), nil
	}
	return nil, fmt.Errorf("unsupported field type %s", t)
}

func coerceErr(t Type, v any, cause error) error {
	if cause != nil {
		return fmt.Errorf("cannot convert %T to %s: %w", v, t, cause)
	}
	return fmt.Errorf("cannot convert %T to %s", v, t)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, nil
	case string:
		return decimal.NewFromString(d)
	case float32:
		return decimal.NewFromFloat32(d), nil
	case float64:
		return decimal.NewFromFloat(d), nil
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromInt(i), nil
}

func toTime(t Type, v any) (time.Time, error) {
	switch ts := v.(type) {
	case time.Time:
		return ts, nil
	case string:
		return ParseTime(t, ts)
	}
	// numbers are epoch milliseconds
	ms, err := cast.ToInt64E(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// ParseTime parses s with the layout of the given date-family type.
func ParseTime(t Type, s string) (time.Time, error) {
	switch t {
	case TypeDate:
		return time.Parse(DateLayout, s)
	case TypeTime:
		var lastErr error
		for _, layout := range timeLayouts {
			ts, err := time.Parse(layout, s)
			if err == nil {
				return ts, nil
			}
			lastErr = err
		}
		return time.Time{}, lastErr
	default:
		return time.Parse(DatetimeLayout, s)
	}
}

// FormatTime formats ts with the layout of the given date-family type.
func FormatTime(t Type, ts time.Time) string {
	switch t {
	case TypeDate:
		return ts.Format(DateLayout)
	case TypeTime:
		return ts.Format(TimeLayout)
	default:
		return ts.Format(DatetimeLayout)
	}
}
