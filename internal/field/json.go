package field

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type fieldJSON struct {
	Type       Type              `json:"type"`
	Value      json.RawMessage   `json:"value"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

var jsonNull = []byte("null")

// MarshalJSON encodes the field as {"type","value","attributes"}.
func (f *Field) MarshalJSON() ([]byte, error) {
	value, err := f.marshalValue()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fieldJSON{Type: f.typ, Value: value, Attributes: f.attrs})
}

func (f *Field) marshalValue() ([]byte, error) {
	if f.value == nil {
		return jsonNull, nil
	}
	switch v := f.value.(type) {
	case time.Time:
		return json.Marshal(FormatTime(f.typ, v))
	case decimal.Decimal:
		return json.Marshal(v.String())
	default:
		// []byte is base64, *Map keeps its order
		return json.Marshal(v)
	}
}

// UnmarshalJSON decodes a field written by MarshalJSON.
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.typ = raw.Type
	f.attrs = raw.Attributes
	f.value = nil
	if len(raw.Value) == 0 || bytes.Equal(bytes.TrimSpace(raw.Value), jsonNull) {
		return nil
	}
	value, err := decodeValue(raw.Type, raw.Value)
	if err != nil {
		return fmt.Errorf("decode %s value: %w", raw.Type, err)
	}
	f.value = value
	return nil
}

func decodeValue(t Type, data json.RawMessage) (any, error) {
	switch t {
	case TypeString:
		var v string
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeInteger:
		var v int32
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeLong:
		var v int64
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeFloat:
		var v float32
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeDouble:
		var v float64
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeBoolean:
		var v bool
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeDecimal:
		var v decimal.Decimal
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeByteArray:
		var v []byte
		err := json.Unmarshal(data, &v)
		return v, err
	case TypeDate, TypeDatetime, TypeTime:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		ts, err := ParseTime(t, s)
		if err != nil {
			return nil, err
		}
		switch t {
		case TypeDate:
			return TruncateDate(ts), nil
		case TypeTime:
			return TruncateTime(ts), nil
		}
		return ts, nil
	case TypeList:
		var items []*Field
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		if items == nil {
			items = []*Field{}
		}
		return items, nil
	case TypeMap, TypeOrderedMap:
		m := NewMap()
		if err := json.Unmarshal(data, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported field type %s", t)
}
