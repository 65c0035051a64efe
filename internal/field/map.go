package field

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map is the insertion-ordered child storage of MAP and ORDERED_MAP fields.
// Both types share it; only ORDERED_MAP promises the order to consumers.
type Map struct {
	entries *orderedmap.OrderedMap[string, *Field]
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{entries: orderedmap.New[string, *Field]()}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return m.entries.Len()
}

// Get returns the child stored under key.
func (m *Map) Get(key string) (*Field, bool) {
	return m.entries.Get(key)
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.entries.Get(key)
	return ok
}

// Set stores child under key. Replacing an existing key keeps its position.
func (m *Map) Set(key string, child *Field) {
	m.entries.Set(key, child)
}

// Delete removes key and returns the removed child, if any.
func (m *Map) Delete(key string) (*Field, bool) {
	return m.entries.Delete(key)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, m.entries.Len())
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Each calls fn for every entry in insertion order until fn returns false.
func (m *Map) Each(fn func(key string, child *Field) bool) {
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Clone returns a deep copy preserving key order.
func (m *Map) Clone() *Map {
	cp := NewMap()
	m.Each(func(key string, child *Field) bool {
		cp.Set(key, child.Clone())
		return true
	})
	return cp
}

// MarshalJSON encodes the entries as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	return m.entries.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object keeping the document's key order.
func (m *Map) UnmarshalJSON(data []byte) error {
	if m.entries == nil {
		m.entries = orderedmap.New[string, *Field]()
	}
	return m.entries.UnmarshalJSON(data)
}

func (m *Map) equal(other *Map, ordered bool) bool {
	if m.Len() != other.Len() {
		return false
	}
	if ordered {
		a, b := m.entries.Oldest(), other.entries.Oldest()
		for ; a != nil && b != nil; a, b = a.Next(), b.Next() {
			if a.Key != b.Key || !a.Value.Equal(b.Value) {
				return false
			}
		}
		return true
	}
	equal := true
	m.Each(func(key string, child *Field) bool {
		o, ok := other.Get(key)
		if !ok || !child.Equal(o) {
			equal = false
		}
		return equal
	})
	return equal
}
