package scope

import (
	"fmt"
	"maps"

	"github.com/nfrund/scriptproc/internal/field"
	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/record"
)

// Functions is the namespace bound as `sdcFunctions`.
type Functions struct {
	effects        *Effects
	mode           RecordType
	pipelineParams map[string]string
	preview        bool
}

// CreateRecord returns a new record with the given id and a null MAP root.
func (fn *Functions) CreateRecord(id string) (*RecordView, error) {
	rec, err := record.New(id, nil)
	if err != nil {
		return nil, fmt.Errorf("createRecord: %w", err)
	}
	return NewRecordView(rec, fn.mode), nil
}

// CreateMap returns an empty map, ORDERED_MAP when ordered is set.
func (fn *Functions) CreateMap(ordered bool) *marshal.MapView {
	return marshal.NewMap(ordered)
}

// CreateEvent returns a new event record.
func (fn *Functions) CreateEvent(eventType string, version int) (*RecordView, error) {
	rec, err := record.NewEventRecord(eventType, version)
	if err != nil {
		return nil, fmt.Errorf("createEvent: %w", err)
	}
	return NewRecordView(rec, fn.mode), nil
}

// ToEvent enqueues a snapshot of an event record for the event channel.
func (fn *Functions) ToEvent(v any) error {
	rec, err := recordOf("event", v)
	if err != nil {
		return err
	}
	ev, err := record.EventFromRecord(rec.Clone())
	if err != nil {
		return contractErr("event", "%v", err)
	}
	fn.effects.Events = append(fn.effects.Events, ev)
	return nil
}

// GetFieldNull returns the sentinel of a null field at path, the host value of
// a non-null one, and nil when the path is absent.
func (fn *Functions) GetFieldNull(v any, path string) (any, error) {
	view, ok := v.(*RecordView)
	if !ok || view == nil {
		return nil, fmt.Errorf("getFieldNull: expected a record, got %T", v)
	}
	f, err := view.rec.Get(path)
	if err != nil {
		return nil, fmt.Errorf("getFieldNull: %w", err)
	}
	return marshal.NullOrValue(f), nil
}

// CreateField builds a typed field from a type name and a value. Scalars are
// coerced; containers accept script lists and mappings.
func (fn *Functions) CreateField(typeName string, value any) (*marshal.FieldRef, error) {
	t, err := field.ParseType(typeName)
	if err != nil {
		return nil, fmt.Errorf("createField: %w", err)
	}
	if t.IsContainer() && value != nil {
		f, err := marshal.FromScript(value, field.Null(t))
		if err != nil {
			return nil, err
		}
		if m, ok := f.Map(); ok && t == field.TypeOrderedMap {
			f = field.NewOrderedMap(m)
		}
		if f.Type() != t {
			return nil, fmt.Errorf("createField: cannot build %s from %T", t, value)
		}
		return marshal.NewFieldRef(f), nil
	}
	f, err := field.Create(t, unwrapHost(value))
	if err != nil {
		return nil, fmt.Errorf("createField: %w", err)
	}
	return marshal.NewFieldRef(f), nil
}

// unwrapHost maps the marshal wrappers to the plain Go values field.Create accepts.
func unwrapHost(v any) any {
	switch w := v.(type) {
	case marshal.Decimal:
		return w.Decimal
	case marshal.Date:
		return w.Time
	case marshal.Datetime:
		return w.Time
	case marshal.Time:
		return w.Time
	case *marshal.FieldRef:
		return w.Field()
	}
	return v
}

// PipelineParameters returns a copy of the pipeline-level parameters.
func (fn *Functions) PipelineParameters() map[string]string {
	if fn.pipelineParams == nil {
		return map[string]string{}
	}
	return maps.Clone(fn.pipelineParams)
}

// IsPreview reports whether the host runs a preview.
func (fn *Functions) IsPreview() bool { return fn.preview }
