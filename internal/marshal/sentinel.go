package marshal

import "github.com/nfrund/scriptproc/internal/field"

// Sentinel is the typed null of one field type. There is exactly one Sentinel
// per type and sentinels compare by identity.
type Sentinel struct {
	typ  field.Type
	name string
}

// Type returns the field type the sentinel stands for.
func (s *Sentinel) Type() field.Type { return s.typ }

// Name returns the scope name, such as NULL_INTEGER.
func (s *Sentinel) Name() string { return s.name }

func (s *Sentinel) String() string { return s.name }

var sentinels = func() []*Sentinel {
	out := make([]*Sentinel, 0, len(field.Types()))
	for _, t := range field.Types() {
		out = append(out, &Sentinel{typ: t, name: "NULL_" + t.String()})
	}
	return out
}()

// SentinelFor returns the sentinel of type t.
func SentinelFor(t field.Type) *Sentinel {
	return sentinels[t]
}

// Sentinels returns every sentinel in type declaration order.
func Sentinels() []*Sentinel {
	out := make([]*Sentinel, len(sentinels))
	copy(out, sentinels)
	return out
}

// NullOrValue returns the sentinel matching the type of a null field, or the
// host value of a non-null one. A nil field yields nil.
func NullOrValue(f *field.Field) any {
	if f == nil {
		return nil
	}
	if f.IsNull() {
		return SentinelFor(f.Type())
	}
	return ToScript(f)
}
