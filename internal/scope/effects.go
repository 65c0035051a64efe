package scope

import (
	"errors"
	"fmt"

	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/record"
)

// ContractError is raised when a script writes something a sink cannot accept.
// It is handled like any other script failure.
type ContractError struct {
	Sink   string
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("sink contract violation on %s: %s", e.Sink, e.Reason)
}

func contractErr(sink, format string, args ...any) *ContractError {
	return &ContractError{Sink: sink, Reason: fmt.Sprintf(format, args...)}
}

// Effects collects the writes of one invocation in call order.
type Effects struct {
	Outputs []*record.Record
	Errors  []*record.ErrorRecord
	Events  []*record.Event

	fatal     error
	violation error
}

// NewEffects returns an empty collector.
func NewEffects() *Effects {
	return &Effects{}
}

// Check records err as the fatal error of the invocation when it is a
// marshalling error, and returns err unchanged. Backends pass every host call
// error through Check so that a script catching the error cannot hide it.
func (e *Effects) Check(err error) error {
	var merr *marshal.MarshallingError
	if e.fatal == nil && errors.As(err, &merr) {
		e.fatal = err
	}
	var cerr *ContractError
	if e.violation == nil && errors.As(err, &cerr) {
		e.violation = err
	}
	return err
}

// Fatal returns the first marshalling error raised during the invocation.
func (e *Effects) Fatal() error { return e.fatal }

// Violation returns the first sink contract violation raised during the invocation.
func (e *Effects) Violation() error { return e.violation }

// Empty reports whether nothing was written.
func (e *Effects) Empty() bool {
	return len(e.Outputs) == 0 && len(e.Errors) == 0 && len(e.Events) == 0
}

// Merge appends the writes of other.
func (e *Effects) Merge(other *Effects) {
	e.Outputs = append(e.Outputs, other.Outputs...)
	e.Errors = append(e.Errors, other.Errors...)
	e.Events = append(e.Events, other.Events...)
}
