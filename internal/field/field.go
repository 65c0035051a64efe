package field

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Field is a typed value. A Field whose value is null still carries its type.
//
// Go storage per type:
//
//	STRING     string          BOOLEAN     bool
//	INTEGER    int32           DECIMAL     decimal.Decimal
//	LONG       int64           BYTE_ARRAY  []byte
//	FLOAT      float32         LIST        []*Field
//	DOUBLE     float64         MAP         *Map
//	DATE       time.Time       ORDERED_MAP *Map
//	DATETIME   time.Time
//	TIME       time.Time
type Field struct {
	typ   Type
	value any
	attrs map[string]string
}

// Null returns a null field of type t.
func Null(t Type) *Field {
	return &Field{typ: t}
}

// NewString and the constructors below build non-null scalar fields.
func NewString(v string) *Field { return &Field{typ: TypeString, value: v} }

func NewInteger(v int32) *Field { return &Field{typ: TypeInteger, value: v} }

func NewLong(v int64) *Field { return &Field{typ: TypeLong, value: v} }

func NewFloat(v float32) *Field { return &Field{typ: TypeFloat, value: v} }

func NewDouble(v float64) *Field { return &Field{typ: TypeDouble, value: v} }

func NewBoolean(v bool) *Field { return &Field{typ: TypeBoolean, value: v} }

func NewByteArray(v []byte) *Field {
	if v == nil {
		return Null(TypeByteArray)
	}
	return &Field{typ: TypeByteArray, value: v}
}

// NewDecimal returns a DECIMAL field.
func NewDecimal(v decimal.Decimal) *Field {
	return &Field{typ: TypeDecimal, value: v}
}

// NewDate returns a DATE field holding the calendar day of v at midnight UTC.
func NewDate(v time.Time) *Field {
	return &Field{typ: TypeDate, value: TruncateDate(v)}
}

// NewDatetime returns a DATETIME field.
func NewDatetime(v time.Time) *Field {
	return &Field{typ: TypeDatetime, value: v}
}

// NewTime returns a TIME field holding the UTC wall clock of v on 1970-01-01.
func NewTime(v time.Time) *Field {
	return &Field{typ: TypeTime, value: TruncateTime(v)}
}

// NewList returns a LIST field. A nil slice yields an empty list.
func NewList(items []*Field) *Field {
	if items == nil {
		items = []*Field{}
	}
	return &Field{typ: TypeList, value: items}
}

// NewMapField returns a MAP field over m. A nil map yields an empty map.
func NewMapField(m *Map) *Field {
	if m == nil {
		m = NewMap()
	}
	return &Field{typ: TypeMap, value: m}
}

// NewOrderedMap returns an ORDERED_MAP field over m. A nil map yields an empty map.
func NewOrderedMap(m *Map) *Field {
	if m == nil {
		m = NewMap()
	}
	return &Field{typ: TypeOrderedMap, value: m}
}

// TruncateDate keeps the calendar day of t, as midnight UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TruncateTime keeps the UTC wall clock of t, on 1970-01-01.
func TruncateTime(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(1970, time.January, 1, u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
}

// Type returns the declared type.
func (f *Field) Type() Type { return f.typ }

// Value returns the stored Go value, nil for a null field.
func (f *Field) Value() any { return f.value }

// IsNull reports whether the field has no value.
func (f *Field) IsNull() bool { return f.value == nil }

// List returns the children of a non-null LIST field.
func (f *Field) List() ([]*Field, bool) {
	items, ok := f.value.([]*Field)
	return items, ok && f.typ == TypeList
}

// Map returns the children of a non-null MAP or ORDERED_MAP field.
func (f *Field) Map() (*Map, bool) {
	m, ok := f.value.(*Map)
	return m, ok && f.typ.IsMap()
}

// Len returns the number of children of a container, 0 otherwise.
func (f *Field) Len() int {
	if items, ok := f.List(); ok {
		return len(items)
	}
	if m, ok := f.Map(); ok {
		return m.Len()
	}
	return 0
}

// Index returns the i-th child of a LIST field.
func (f *Field) Index(i int) (*Field, bool) {
	items, ok := f.List()
	if !ok || i < 0 || i >= len(items) {
		return nil, false
	}
	return items[i], true
}

// SetIndex replaces the i-th child of a LIST field.
func (f *Field) SetIndex(i int, child *Field) error {
	items, ok := f.List()
	if !ok {
		return fmt.Errorf("field of type %s is not a list", f.typ)
	}
	if i < 0 || i >= len(items) {
		return fmt.Errorf("list index %d out of range [0,%d)", i, len(items))
	}
	items[i] = child
	return nil
}

// Append adds a child to the end of a LIST field.
func (f *Field) Append(child *Field) error {
	items, ok := f.List()
	if !ok {
		return fmt.Errorf("field of type %s is not a list", f.typ)
	}
	f.value = append(items, child)
	return nil
}

// RemoveIndex deletes the i-th child of a LIST field.
func (f *Field) RemoveIndex(i int) (*Field, error) {
	items, ok := f.List()
	if !ok {
		return nil, fmt.Errorf("field of type %s is not a list", f.typ)
	}
	if i < 0 || i >= len(items) {
		return nil, fmt.Errorf("list index %d out of range [0,%d)", i, len(items))
	}
	removed := items[i]
	f.value = append(items[:i:i], items[i+1:]...)
	return removed, nil
}

// GetAttribute returns a field attribute.
func (f *Field) GetAttribute(name string) (string, bool) {
	v, ok := f.attrs[name]
	return v, ok
}

// SetAttribute sets a field attribute.
func (f *Field) SetAttribute(name, value string) {
	if f.attrs == nil {
		f.attrs = make(map[string]string)
	}
	f.attrs[name] = value
}

// DeleteAttribute removes a field attribute.
func (f *Field) DeleteAttribute(name string) {
	delete(f.attrs, name)
}

// Attributes returns a copy of the field attributes.
func (f *Field) Attributes() map[string]string {
	out := make(map[string]string, len(f.attrs))
	for k, v := range f.attrs {
		out[k] = v
	}
	return out
}

// AttributeNames returns the attribute names in sorted order.
func (f *Field) AttributeNames() []string {
	names := make([]string, 0, len(f.attrs))
	for k := range f.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy, attributes included.
func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	cp := &Field{typ: f.typ}
	if len(f.attrs) > 0 {
		cp.attrs = f.Attributes()
	}
	switch v := f.value.(type) {
	case []byte:
		cp.value = append([]byte(nil), v...)
	case []*Field:
		items := make([]*Field, len(v))
		for i, child := range v {
			items[i] = child.Clone()
		}
		cp.value = items
	case *Map:
		cp.value = v.Clone()
	default:
		cp.value = v
	}
	return cp
}

// Equal reports whether both fields have the same type and value.
// Attributes are not compared.
func (f *Field) Equal(other *Field) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.typ != other.typ {
		return false
	}
	if f.value == nil || other.value == nil {
		return f.value == nil && other.value == nil
	}
	switch v := f.value.(type) {
	case []byte:
		return bytes.Equal(v, other.value.([]byte))
	case decimal.Decimal:
		return v.Equal(other.value.(decimal.Decimal))
	case time.Time:
		return v.Equal(other.value.(time.Time))
	case []*Field:
		o := other.value.([]*Field)
		if len(v) != len(o) {
			return false
		}
		for i := range v {
			if !v[i].Equal(o[i]) {
				return false
			}
		}
		return true
	case *Map:
		return v.equal(other.value.(*Map), f.typ == TypeOrderedMap)
	default:
		return f.value == other.value
	}
}

// String renders the field for logs and test failures.
func (f *Field) String() string {
	if f == nil {
		return "<nil>"
	}
	if f.value == nil {
		return fmt.Sprintf("%s(null)", f.typ)
	}
	switch v := f.value.(type) {
	case []*Field:
		return fmt.Sprintf("%s%v", f.typ, v)
	case *Map:
		buf := bytes.NewBufferString(f.typ.String() + "{")
		first := true
		v.Each(func(key string, child *Field) bool {
			if !first {
				buf.WriteString(", ")
			}
			first = false
			fmt.Fprintf(buf, "%s: %s", key, child)
			return true
		})
		buf.WriteString("}")
		return buf.String()
	case time.Time:
		return fmt.Sprintf("%s(%s)", f.typ, v.Format(time.RFC3339Nano))
	default:
		return fmt.Sprintf("%s(%v)", f.typ, v)
	}
}
