package marshal

import "fmt"

// MarshallingError reports a value that could not be converted to or from a
// typed field. It is always fatal to the invocation that raised it.
type MarshallingError struct {
	Path   string
	Reason string
}

func (e *MarshallingError) Error() string {
	if e.Path == "" {
		return "marshalling error: " + e.Reason
	}
	return fmt.Sprintf("marshalling error at %s: %s", e.Path, e.Reason)
}

// Errorf builds a MarshallingError for the value at path.
func Errorf(path, format string, args ...any) *MarshallingError {
	return &MarshallingError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
