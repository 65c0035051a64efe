package field

import (
	"fmt"
	"strings"
)

// Type is the immutable type tag carried by every Field, including null ones.
type Type int

const (
	TypeString Type = iota
	TypeInteger
	TypeLong
	TypeFloat
	TypeDouble
	TypeBoolean
	TypeDate
	TypeDatetime
	TypeTime
	TypeDecimal
	TypeByteArray
	TypeList
	TypeMap
	TypeOrderedMap
)

var typeNames = map[Type]string{
	TypeString:     "STRING",
	TypeInteger:    "INTEGER",
	TypeLong:       "LONG",
	TypeFloat:      "FLOAT",
	TypeDouble:     "DOUBLE",
	TypeBoolean:    "BOOLEAN",
	TypeDate:       "DATE",
	TypeDatetime:   "DATETIME",
	TypeTime:       "TIME",
	TypeDecimal:    "DECIMAL",
	TypeByteArray:  "BYTE_ARRAY",
	TypeList:       "LIST",
	TypeMap:        "MAP",
	TypeOrderedMap: "ORDERED_MAP",
}

// aliases accepted by ParseType in addition to the canonical names
var typeAliases = map[string]Type{
	"LIST_MAP": TypeOrderedMap,
	"BYTES":    TypeByteArray,
}

// Types returns every supported type in declaration order.
func Types() []Type {
	types := make([]Type, 0, len(typeNames))
	for t := TypeString; t <= TypeOrderedMap; t++ {
		types = append(types, t)
	}
	return types
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// IsContainer reports whether fields of this type hold child fields.
func (t Type) IsContainer() bool {
	return t == TypeList || t == TypeMap || t == TypeOrderedMap
}

// IsMap reports whether the type is MAP or ORDERED_MAP.
func (t Type) IsMap() bool {
	return t == TypeMap || t == TypeOrderedMap
}

// ParseType resolves a case-insensitive type name.
func ParseType(name string) (Type, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == upper {
			return t, nil
		}
	}
	if t, ok := typeAliases[upper]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unknown field type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if _, ok := typeNames[t]; !ok {
		return nil, fmt.Errorf("unknown field type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
