package script

import (
	"time"

	"github.com/nfrund/scriptproc/internal/scope"
)

// ScriptLanguage represents supported scripting languages
type ScriptLanguage string

const (
	LanguageTengo      ScriptLanguage = "tengo"
	LanguageJavaScript ScriptLanguage = "javascript"
	LanguageStarlark   ScriptLanguage = "starlark"
)

// ScriptOrigin indicates where a script was loaded from
type ScriptOrigin string

const (
	SourceInline ScriptOrigin = "inline"
	SourceFile   ScriptOrigin = "file"
)

// Script names of one stage
const (
	ScriptMain    = "main"
	ScriptInit    = "init"
	ScriptDestroy = "destroy"
)

// ErrorType categorizes different types of script errors
type ErrorType string

const (
	ErrorTypeCompilation   ErrorType = "compilation"
	ErrorTypeExecution     ErrorType = "execution"
	ErrorTypeMarshalling   ErrorType = "marshalling"
	ErrorTypeSinkContract  ErrorType = "sink_contract"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeMemoryLimit   ErrorType = "memory_limit"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeInternal      ErrorType = "internal" // host panic during a run
)

// Script represents a script with metadata
type Script struct {
	Stage        string
	Name         string
	Language     ScriptLanguage
	Content      string
	Source       ScriptOrigin
	Path         string
	LastModified time.Time
	Checksum     string
}

// ScriptOutput contains the results of script execution
type ScriptOutput struct {
	Effects *scope.Effects
	Metrics ExecutionMetrics
}

// ExecutionMetrics tracks performance and execution data
type ExecutionMetrics struct {
	CompilationTime time.Duration
	ExecutionTime   time.Duration
	Success         bool
	ErrorType       ErrorType
}

// SecurityLimits defines resource constraints for script execution.
// A zero MaxExecutionTime or MaxAllocs means unlimited.
type SecurityLimits struct {
	MaxExecutionTime time.Duration
	MaxAllocs        int64
	AllowedPackages  []string
}

// CompiledScript represents a compiled script ready for execution
type CompiledScript struct {
	Script          *Script
	Compiled        interface{} // language-specific compiled representation
	CompilationTime time.Duration
}

// ScriptError represents script-related errors with context
type ScriptError struct {
	Type       ErrorType
	Stage      string
	ScriptName string
	Message    string
	// Detail carries the engine rendering of a script failure, with position.
	Detail    string
	Cause     error
	Timestamp time.Time
}

func (e *ScriptError) Error() string {
	switch {
	case e.Cause == nil:
		return e.Message
	case e.Message == "":
		return e.Cause.Error()
	default:
		return e.Message + ": " + e.Cause.Error()
	}
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// NewScriptError creates a new ScriptError with the given parameters
func NewScriptError(errorType ErrorType, stage, scriptName, message string, cause error) *ScriptError {
	return &ScriptError{
		Type:       errorType,
		Stage:      stage,
		ScriptName: scriptName,
		Message:    message,
		Cause:      cause,
		Timestamp:  time.Now(),
	}
}
