package marshal

import "github.com/nfrund/scriptproc/internal/field"

// FieldRef is a direct handle on one field, giving scripts access to its type
// and attributes.
type FieldRef struct {
	f *field.Field
}

// NewFieldRef wraps f.
func NewFieldRef(f *field.Field) *FieldRef {
	return &FieldRef{f: f}
}

// Field returns the wrapped field.
func (r *FieldRef) Field() *field.Field { return r.f }

// Type returns the field type name.
func (r *FieldRef) Type() string { return r.f.Type().String() }

// Value returns the host value of the field.
func (r *FieldRef) Value() any { return ToScript(r.f) }

func (r *FieldRef) IsNull() bool { return r.f.IsNull() }

// GetAttribute returns the attribute value, or nil when unset.
func (r *FieldRef) GetAttribute(name string) any {
	if v, ok := r.f.GetAttribute(name); ok {
		return v
	}
	return nil
}

func (r *FieldRef) SetAttribute(name, value string) { r.f.SetAttribute(name, value) }

func (r *FieldRef) RemoveAttribute(name string) { r.f.DeleteAttribute(name) }

func (r *FieldRef) AttributeNames() []string { return r.f.AttributeNames() }

func (r *FieldRef) String() string { return r.f.String() }
