package scope

import (
	"github.com/nfrund/scriptproc/internal/record"
)

// Output is the normal output sink bound as `output`.
type Output struct {
	effects *Effects
}

// Write appends a snapshot of the record to the output.
func (o *Output) Write(v any) error {
	rec, err := recordOf("output", v)
	if err != nil {
		return err
	}
	o.effects.Outputs = append(o.effects.Outputs, rec.Clone())
	return nil
}

// ErrorSink is the error sink bound as `error`.
type ErrorSink struct {
	effects *Effects
}

// Write appends a snapshot of the record to the error output with message.
// It does not stop the script.
func (s *ErrorSink) Write(v any, message string) error {
	rec, err := recordOf("error", v)
	if err != nil {
		return err
	}
	s.effects.Errors = append(s.effects.Errors, &record.ErrorRecord{Record: rec.Clone(), Message: message})
	return nil
}

func recordOf(sink string, v any) (*record.Record, error) {
	view, ok := v.(*RecordView)
	if !ok || view == nil {
		return nil, contractErr(sink, "expected a record, got %T", v)
	}
	if view.rec.ID() == "" {
		return nil, contractErr(sink, "record has no id")
	}
	return view.rec, nil
}
