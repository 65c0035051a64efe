// Package scope implements the objects bound into every script invocation:
// record views, the output and error sinks, process-wide state, the
// sdcFunctions namespace and the effects an invocation produces.
package scope

import (
	"errors"

	"github.com/nfrund/scriptproc/internal/field"
	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/record"
)

// RecordType selects how record values are presented to scripts.
type RecordType string

const (
	// SdcRecords exposes the root field as a FieldRef.
	SdcRecords RecordType = "SDC_RECORDS"
	// NativeObjects exposes host values and live views.
	NativeObjects RecordType = "NATIVE_OBJECTS"
)

// RecordView is the script-visible wrapper of one record.
type RecordView struct {
	rec  *record.Record
	mode RecordType
}

// NewRecordView wraps rec.
func NewRecordView(rec *record.Record, mode RecordType) *RecordView {
	return &RecordView{rec: rec, mode: mode}
}

// Record returns the wrapped record.
func (v *RecordView) Record() *record.Record { return v.rec }

func (v *RecordView) ID() string { return v.rec.ID() }

// Value returns the root as a host value, or as a FieldRef in SDC_RECORDS mode.
func (v *RecordView) Value() any {
	if v.mode == SdcRecords {
		return marshal.NewFieldRef(v.rec.Root())
	}
	return marshal.ToScript(v.rec.Root())
}

// SetValue replaces the root, using the previous root as type hint.
func (v *RecordView) SetValue(value any) error {
	f, err := marshal.FromScript(value, v.rec.Root())
	if err != nil {
		return err
	}
	v.rec.SetRoot(f)
	return nil
}

// Attributes returns the header view.
func (v *RecordView) Attributes() *Attributes {
	return &Attributes{h: v.rec.Header()}
}

// SdcRecord returns the low-level record handle.
func (v *RecordView) SdcRecord() *SdcRecord {
	return &SdcRecord{rec: v.rec}
}

// Attributes is a live view over record header attributes.
type Attributes struct {
	h *record.Header
}

func (a *Attributes) Get(name string) (string, bool) { return a.h.Get(name) }

func (a *Attributes) Set(name, value string) { a.h.Set(name, value) }

func (a *Attributes) Has(name string) bool {
	_, ok := a.h.Get(name)
	return ok
}

// Remove deletes name; removing an absent name is a no-op.
func (a *Attributes) Remove(name string) { a.h.Delete(name) }

func (a *Attributes) Keys() []string { return a.h.Keys() }

func (a *Attributes) Len() int { return a.h.Len() }

// SdcRecord gives direct access to the field tree of a record by path.
type SdcRecord struct {
	rec *record.Record
}

func (s *SdcRecord) ID() string { return s.rec.ID() }

// Get returns a handle on the field at path, or nil when absent.
func (s *SdcRecord) Get(path string) (*marshal.FieldRef, error) {
	f, err := s.rec.Get(path)
	if err != nil || f == nil {
		return nil, err
	}
	return marshal.NewFieldRef(f), nil
}

// Set converts value, hinted by the field currently at path, and stores it.
func (s *SdcRecord) Set(path string, value any) error {
	hint, err := s.rec.Get(path)
	if err != nil {
		return err
	}
	f, err := marshal.FromScript(value, hint)
	if err != nil {
		var merr *marshal.MarshallingError
		if errors.As(err, &merr) && merr.Path == "" {
			merr.Path = path
		}
		return err
	}
	return s.rec.Set(path, f)
}

func (s *SdcRecord) Has(path string) bool { return s.rec.Has(path) }

// Delete removes the field at path and returns its host value.
func (s *SdcRecord) Delete(path string) (any, error) {
	f, err := s.rec.Delete(path)
	if err != nil {
		return nil, err
	}
	return marshal.ToScript(f), nil
}

func (s *SdcRecord) GetFieldPaths() []string { return s.rec.FieldPaths() }

// GetAttribute reads a header attribute, nil when unset.
func (s *SdcRecord) GetAttribute(name string) any {
	if v, ok := s.rec.Header().Get(name); ok {
		return v
	}
	return nil
}

func (s *SdcRecord) SetAttribute(name, value string) { s.rec.Header().Set(name, value) }

// Root returns the root field.
func (s *SdcRecord) Root() *field.Field { return s.rec.Root() }
