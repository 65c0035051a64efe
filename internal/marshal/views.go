package marshal

import (
	"fmt"

	"github.com/nfrund/scriptproc/internal/field"
)

// MapView is a live view over a non-null MAP or ORDERED_MAP field.
type MapView struct {
	f *field.Field
	m *field.Map
}

// NewMap returns a view over a fresh empty map field, ORDERED_MAP when
// ordered is set.
func NewMap(ordered bool) *MapView {
	if ordered {
		return viewMap(field.NewOrderedMap(nil))
	}
	return viewMap(field.NewMapField(nil))
}

func viewMap(f *field.Field) *MapView {
	m, _ := f.Map()
	return &MapView{f: f, m: m}
}

// Field returns the backing field.
func (v *MapView) Field() *field.Field { return v.f }

// Ordered reports whether the backing field is an ORDERED_MAP.
func (v *MapView) Ordered() bool { return v.f.Type() == field.TypeOrderedMap }

func (v *MapView) Len() int { return v.m.Len() }

// Keys returns the keys in map order.
func (v *MapView) Keys() []string { return v.m.Keys() }

func (v *MapView) Has(key string) bool { return v.m.Has(key) }

// Get returns the host value stored under key.
func (v *MapView) Get(key string) (any, bool) {
	child, ok := v.m.Get(key)
	if !ok {
		return nil, false
	}
	return ToScript(child), true
}

// Child returns the field stored under key.
func (v *MapView) Child(key string) (*field.Field, bool) {
	return v.m.Get(key)
}

// Set converts value, using the field currently under key as type hint, and
// stores it. Replacing a key keeps its position.
func (v *MapView) Set(key string, value any) error {
	hint, _ := v.m.Get(key)
	f, err := fromScript(value, hint, "/"+key)
	if err != nil {
		return err
	}
	if f == v.f {
		return Errorf("/"+key, "cannot nest a map inside itself")
	}
	v.m.Set(key, f)
	return nil
}

// Delete removes key and reports whether it was present.
func (v *MapView) Delete(key string) bool {
	_, ok := v.m.Delete(key)
	return ok
}

// Each calls fn with every key and host value in map order until fn returns false.
func (v *MapView) Each(fn func(key string, value any) bool) {
	v.m.Each(func(key string, child *field.Field) bool {
		return fn(key, ToScript(child))
	})
}

func (v *MapView) String() string { return v.f.String() }

// ListView is a live view over a non-null LIST field.
type ListView struct {
	f *field.Field
}

// NewList returns a view over a fresh empty list field.
func NewList() *ListView {
	return &ListView{f: field.NewList(nil)}
}

// Field returns the backing field.
func (v *ListView) Field() *field.Field { return v.f }

func (v *ListView) Len() int { return v.f.Len() }

// Get returns the host value at index i.
func (v *ListView) Get(i int) (any, error) {
	child, ok := v.f.Index(i)
	if !ok {
		return nil, fmt.Errorf("list index %d out of range [0,%d)", i, v.f.Len())
	}
	return ToScript(child), nil
}

// Child returns the field at index i.
func (v *ListView) Child(i int) (*field.Field, bool) {
	return v.f.Index(i)
}

// Set converts value using the element at i as type hint and stores it.
func (v *ListView) Set(i int, value any) error {
	hint, ok := v.f.Index(i)
	if !ok {
		return fmt.Errorf("list index %d out of range [0,%d)", i, v.f.Len())
	}
	f, err := fromScript(value, hint, fmt.Sprintf("[%d]", i))
	if err != nil {
		return err
	}
	if f == v.f {
		return Errorf(fmt.Sprintf("[%d]", i), "cannot nest a list inside itself")
	}
	return v.f.SetIndex(i, f)
}

// Append converts value and adds it to the end of the list.
func (v *ListView) Append(value any) error {
	path := fmt.Sprintf("[%d]", v.f.Len())
	f, err := fromScript(value, nil, path)
	if err != nil {
		return err
	}
	if f == v.f {
		return Errorf(path, "cannot nest a list inside itself")
	}
	return v.f.Append(f)
}

// Remove deletes the element at index i and returns its host value.
func (v *ListView) Remove(i int) (any, error) {
	removed, err := v.f.RemoveIndex(i)
	if err != nil {
		return nil, err
	}
	return ToScript(removed), nil
}

// Items returns the host values of all elements.
func (v *ListView) Items() []any {
	items, _ := v.f.List()
	out := make([]any, len(items))
	for i, child := range items {
		out[i] = ToScript(child)
	}
	return out
}

func (v *ListView) String() string { return v.f.String() }
