package marshal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/nfrund/scriptproc/internal/field"
)

// ToScript returns the host value of f. Containers become live views; a nil
// or null field yields nil.
func ToScript(f *field.Field) any {
	if f == nil || f.IsNull() {
		return nil
	}
	switch v := f.Value().(type) {
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	case decimal.Decimal:
		return Decimal{v}
	case time.Time:
		switch f.Type() {
		case field.TypeDate:
			return Date{v}
		case field.TypeTime:
			return Time{v}
		}
		return Datetime{v}
	case []*field.Field:
		return &ListView{f: f}
	case *field.Map:
		return &MapView{f: f, m: v}
	default:
		// string, int64, float64, bool, []byte
		return v
	}
}

// FromScript converts a host value back to a field. hint is the field that
// previously occupied the same position, or nil when there was none; it decides
// number widths, date flavours and the type of a bare nil.
func FromScript(v any, hint *field.Field) (*field.Field, error) {
	return fromScript(v, hint, "")
}

func fromScript(v any, hint *field.Field, path string) (*field.Field, error) {
	switch val := v.(type) {
	case nil:
		if hint == nil {
			return nil, Errorf(path, "undefined type for null value; assign a NULL_* constant")
		}
		return field.Null(hint.Type()), nil
	case *Sentinel:
		return field.Null(val.typ), nil
	case *field.Field:
		return val, nil
	case *FieldRef:
		return val.f, nil
	case *MapView:
		return val.f, nil
	case *ListView:
		return val.f, nil
	case string:
		return field.NewString(val), nil
	case bool:
		return field.NewBoolean(val), nil
	case int:
		return fromInt(int64(val), hint), nil
	case int32:
		return fromInt(int64(val), hint), nil
	case int64:
		return fromInt(val, hint), nil
	case float32:
		return fromFloat(float64(val), hint), nil
	case float64:
		return fromFloat(val, hint), nil
	case []byte:
		return field.NewByteArray(val), nil
	case Decimal:
		return field.NewDecimal(val.Decimal), nil
	case decimal.Decimal:
		return field.NewDecimal(val), nil
	case Date:
		return field.NewDate(val.Time), nil
	case Datetime:
		return field.NewDatetime(val.Time), nil
	case Time:
		return field.NewTime(val.Time), nil
	case time.Time:
		return fromTime(val, hint), nil
	case []any:
		return fromSlice(val, hint, path)
	case []Pair:
		return fromPairs(val, hint, path)
	case map[string]any:
		keys := lo.Keys(val)
		sort.Strings(keys)
		pairs := lo.Map(keys, func(k string, _ int) Pair { return Pair{Key: k, Value: val[k]} })
		return fromPairs(pairs, hint, path)
	}
	return nil, Errorf(path, "unsupported value of type %T", v)
}

func fromInt(i int64, hint *field.Field) *field.Field {
	if hint != nil {
		switch hint.Type() {
		case field.TypeInteger:
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return field.NewInteger(int32(i))
			}
		case field.TypeFloat:
			return field.NewFloat(float32(i))
		case field.TypeDouble:
			return field.NewDouble(float64(i))
		}
	}
	return field.NewLong(i)
}

func fromFloat(fl float64, hint *field.Field) *field.Field {
	if hint != nil && hint.Type() == field.TypeFloat {
		return field.NewFloat(float32(fl))
	}
	return field.NewDouble(fl)
}

func fromTime(ts time.Time, hint *field.Field) *field.Field {
	if hint != nil {
		switch hint.Type() {
		case field.TypeDate:
			return field.NewDate(ts)
		case field.TypeTime:
			return field.NewTime(ts)
		}
	}
	return field.NewDatetime(ts)
}

func fromSlice(items []any, hint *field.Field, path string) (*field.Field, error) {
	out := make([]*field.Field, len(items))
	for i, item := range items {
		var childHint *field.Field
		if hint != nil {
			childHint, _ = hint.Index(i)
		}
		f, err := fromScript(item, childHint, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return field.NewList(out), nil
}

func fromPairs(pairs []Pair, hint *field.Field, path string) (*field.Field, error) {
	var hintMap *field.Map
	if hint != nil {
		hintMap, _ = hint.Map()
	}
	m := field.NewMap()
	for _, p := range pairs {
		var childHint *field.Field
		if hintMap != nil {
			childHint, _ = hintMap.Get(p.Key)
		}
		f, err := fromScript(p.Value, childHint, path+"/"+p.Key)
		if err != nil {
			return nil, err
		}
		m.Set(p.Key, f)
	}
	return field.NewMapField(m), nil
}
