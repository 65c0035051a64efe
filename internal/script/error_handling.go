package script

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrorReporter records script errors with severity and recoverability and
// keeps aggregated counts per stage, script and error type.
type ErrorReporter struct {
	mu          sync.Mutex
	errorCounts map[string]int
	lastErrors  map[string]*ScriptError
}

// ErrorSummary provides aggregated error information
type ErrorSummary struct {
	TotalErrors     int
	ErrorsByType    map[ErrorType]int
	ErrorsByStage   map[string]int
	MostCommonError *ScriptError
	LastErrorTime   time.Time
}

// ErrorReport contains comprehensive information about a script error
type ErrorReport struct {
	Error           *ScriptError
	RecordID        string
	Severity        ErrorSeverity
	Recoverable     bool
	Contained       bool
	SuggestedAction string
	Occurrences     int
	FirstOccurrence bool
}

// ErrorSeverity categorizes the impact of errors
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical" // Stage cannot start or must stop
	SeverityHigh     ErrorSeverity = "high"     // Batch failed
	SeverityMedium   ErrorSeverity = "medium"   // Record dropped or diverted
	SeverityLow      ErrorSeverity = "low"      // Minor issues
)

// NewErrorReporter creates a new error reporter
func NewErrorReporter() *ErrorReporter {
	return &ErrorReporter{
		errorCounts: make(map[string]int),
		lastErrors:  make(map[string]*ScriptError),
	}
}

// ReportError records an error. contained tells whether the on-error policy
// absorbed it (record dropped or routed to the error output) instead of
// surfacing it.
func (er *ErrorReporter) ReportError(ctx context.Context, err *ScriptError, recordID string, contained bool) *ErrorReport {
	er.mu.Lock()
	errorKey := fmt.Sprintf("%s/%s/%s", err.Stage, err.ScriptName, err.Type)
	er.errorCounts[errorKey]++
	er.lastErrors[errorKey] = err
	count := er.errorCounts[errorKey]
	er.mu.Unlock()

	report := &ErrorReport{
		Error:           err,
		RecordID:        recordID,
		Severity:        determineSeverity(err, contained),
		Recoverable:     IsRecoverable(err),
		Contained:       contained,
		SuggestedAction: suggestAction(err),
		Occurrences:     count,
		FirstOccurrence: count == 1,
	}

	er.logError(ctx, report)
	return report
}

// IsRecoverable reports whether an error of this type may be absorbed by the
// on-error policy. Marshalling, compilation, configuration and host panics
// never are.
func IsRecoverable(err *ScriptError) bool {
	switch err.Type {
	case ErrorTypeExecution, ErrorTypeSinkContract, ErrorTypeMemoryLimit:
		return true
	default:
		return false
	}
}

func determineSeverity(err *ScriptError, contained bool) ErrorSeverity {
	switch err.Type {
	case ErrorTypeCompilation, ErrorTypeConfiguration:
		return SeverityCritical
	case ErrorTypeInternal:
		return SeverityCritical
	case ErrorTypeMarshalling, ErrorTypeTimeout, ErrorTypeMemoryLimit:
		return SeverityHigh
	case ErrorTypeNotFound:
		return SeverityLow
	}
	if contained {
		return SeverityMedium
	}
	return SeverityHigh
}

// suggestAction provides actionable suggestions for error resolution
func suggestAction(err *ScriptError) string {
	switch err.Type {
	case ErrorTypeCompilation:
		return "Check script syntax and fix compilation errors."
	case ErrorTypeExecution:
		return "Review script logic and input data. Check for runtime errors in script code."
	case ErrorTypeMarshalling:
		return "Assign typed values; use a NULL_* constant when a new field must be null."
	case ErrorTypeSinkContract:
		return "Only write records obtained from records or sdcFunctions to output and error."
	case ErrorTypeConfiguration:
		return "Review the stage configuration."
	case ErrorTypeTimeout:
		return "Optimize script performance or increase the execution time limit."
	case ErrorTypeMemoryLimit:
		return "Reduce allocations in the script or raise the allocation limit."
	case ErrorTypeNotFound:
		return "Ensure the script file exists."
	case ErrorTypeInternal:
		return "Report the failure; the script engine hit an unexpected host error."
	default:
		return "Review error details and script implementation."
	}
}

func (er *ErrorReporter) logError(ctx context.Context, report *ErrorReport) {
	fields := []interface{}{
		"stage", report.Error.Stage,
		"script", report.Error.ScriptName,
		"error_type", report.Error.Type,
		"severity", report.Severity,
		"recoverable", report.Recoverable,
		"contained", report.Contained,
		"occurrences", report.Occurrences,
		"error_message", report.Error.Error(),
	}
	if report.RecordID != "" {
		fields = append(fields, "record_id", report.RecordID)
	}
	if report.Error.Detail != "" {
		fields = append(fields, "detail", report.Error.Detail)
	}

	switch report.Severity {
	case SeverityCritical:
		slog.ErrorContext(ctx, "Critical script error", fields...)
	case SeverityHigh:
		slog.ErrorContext(ctx, "High severity script error", fields...)
	case SeverityMedium:
		slog.WarnContext(ctx, "Medium severity script error", fields...)
	case SeverityLow:
		slog.InfoContext(ctx, "Low severity script error", fields...)
	}

	if report.FirstOccurrence && report.SuggestedAction != "" {
		slog.DebugContext(ctx, "Error resolution suggestion",
			"stage", report.Error.Stage,
			"script", report.Error.ScriptName,
			"suggestion", report.SuggestedAction,
		)
	}
}

// GetErrorSummary returns aggregated error statistics
func (er *ErrorReporter) GetErrorSummary() *ErrorSummary {
	er.mu.Lock()
	defer er.mu.Unlock()

	summary := &ErrorSummary{
		ErrorsByType:  make(map[ErrorType]int),
		ErrorsByStage: make(map[string]int),
	}

	var mostCommonCount int
	for errorKey, count := range er.errorCounts {
		summary.TotalErrors += count

		// key is stage/script/type; the stage name may itself contain slashes
		if i := strings.LastIndex(errorKey, "/"); i >= 0 {
			summary.ErrorsByType[ErrorType(errorKey[i+1:])] += count
			rest := errorKey[:i]
			if j := strings.LastIndex(rest, "/"); j >= 0 {
				summary.ErrorsByStage[rest[:j]] += count
			}
		}

		lastErr := er.lastErrors[errorKey]
		if count > mostCommonCount {
			mostCommonCount = count
			summary.MostCommonError = lastErr
		}
		if lastErr != nil && lastErr.Timestamp.After(summary.LastErrorTime) {
			summary.LastErrorTime = lastErr.Timestamp
		}
	}

	return summary
}

// ClearErrorHistory clears error tracking history
func (er *ErrorReporter) ClearErrorHistory() {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.errorCounts = make(map[string]int)
	er.lastErrors = make(map[string]*ScriptError)
}
