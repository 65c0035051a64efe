package processor

import (
	"errors"
	"strings"

	"github.com/nfrund/scriptproc/internal/script"
)

// Lifecycle misuse.
var (
	ErrNotReady = errors.New("processor is not ready")
	ErrShutDown = errors.New("processor is shut down")
)

// ErrorKind classifies a surfaced stage failure.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindScript        ErrorKind = "script"
	KindMarshalling   ErrorKind = "marshalling"
	KindSinkContract  ErrorKind = "sink_contract"
	// KindErrorRecords is the pipeline stop signal raised when a batch wrote
	// to the error output and the stage stops on error records.
	KindErrorRecords ErrorKind = "error_records"
)

// StageError is a failure surfaced to the pipeline.
type StageError struct {
	Stage    string
	RecordID string
	Kind     ErrorKind
	Err      error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString("stage ")
	b.WriteString(e.Stage)
	if e.RecordID != "" {
		b.WriteString(", record ")
		b.WriteString(e.RecordID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Kind == KindConfiguration
}

func kindOf(err *script.ScriptError) ErrorKind {
	switch err.Type {
	case script.ErrorTypeCompilation, script.ErrorTypeConfiguration, script.ErrorTypeNotFound:
		return KindConfiguration
	case script.ErrorTypeMarshalling:
		return KindMarshalling
	case script.ErrorTypeSinkContract:
		return KindSinkContract
	}
	return KindScript
}

func configError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindConfiguration, Err: err}
}
