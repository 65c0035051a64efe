package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorReporter_ReportError(t *testing.T) {
	reporter := NewErrorReporter()
	scriptErr := NewScriptError(ErrorTypeExecution, "stage", ScriptMain, "boom", nil)

	report := reporter.ReportError(context.Background(), scriptErr, "r1", true)

	assert.Equal(t, scriptErr, report.Error)
	assert.Equal(t, "r1", report.RecordID)
	assert.Equal(t, SeverityMedium, report.Severity)
	assert.True(t, report.Recoverable)
	assert.True(t, report.Contained)
	assert.True(t, report.FirstOccurrence)
	assert.Equal(t, 1, report.Occurrences)
	assert.NotEmpty(t, report.SuggestedAction)

	again := reporter.ReportError(context.Background(), scriptErr, "r2", true)
	assert.False(t, again.FirstOccurrence)
	assert.Equal(t, 2, again.Occurrences)
}

func TestErrorReporter_DetermineSeverity(t *testing.T) {
	testCases := []struct {
		errorType ErrorType
		contained bool
		expected  ErrorSeverity
	}{
		{ErrorTypeCompilation, false, SeverityCritical},
		{ErrorTypeConfiguration, false, SeverityCritical},
		{ErrorTypeMarshalling, false, SeverityHigh},
		{ErrorTypeTimeout, false, SeverityHigh},
		{ErrorTypeMemoryLimit, true, SeverityHigh},
		{ErrorTypeNotFound, false, SeverityLow},
		{ErrorTypeInternal, true, SeverityCritical},
		{ErrorTypeExecution, true, SeverityMedium},
		{ErrorTypeExecution, false, SeverityHigh},
		{ErrorTypeSinkContract, true, SeverityMedium},
	}

	for _, tc := range testCases {
		t.Run(string(tc.errorType), func(t *testing.T) {
			err := NewScriptError(tc.errorType, "stage", ScriptMain, "msg", nil)
			assert.Equal(t, tc.expected, determineSeverity(err, tc.contained))
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := map[ErrorType]bool{
		ErrorTypeExecution:     true,
		ErrorTypeSinkContract:  true,
		ErrorTypeMemoryLimit:   true,
		ErrorTypeCompilation:   false,
		ErrorTypeConfiguration: false,
		ErrorTypeMarshalling:   false,
		ErrorTypeTimeout:       false,
		ErrorTypeNotFound:      false,
		ErrorTypeInternal:      false,
	}
	for errType, want := range recoverable {
		err := NewScriptError(errType, "stage", ScriptMain, "msg", nil)
		assert.Equal(t, want, IsRecoverable(err), errType)
	}
}

func TestErrorReporter_GetErrorSummary(t *testing.T) {
	reporter := NewErrorReporter()
	ctx := context.Background()

	reporter.ReportError(ctx, NewScriptError(ErrorTypeExecution, "a/b", ScriptMain, "x", nil), "", true)
	reporter.ReportError(ctx, NewScriptError(ErrorTypeExecution, "a/b", ScriptMain, "x", nil), "", true)
	reporter.ReportError(ctx, NewScriptError(ErrorTypeMarshalling, "other", ScriptInit, "y", nil), "", false)

	summary := reporter.GetErrorSummary()
	assert.Equal(t, 3, summary.TotalErrors)
	assert.Equal(t, 2, summary.ErrorsByType[ErrorTypeExecution])
	assert.Equal(t, 1, summary.ErrorsByType[ErrorTypeMarshalling])
	assert.Equal(t, 2, summary.ErrorsByStage["a/b"])
	assert.Equal(t, 1, summary.ErrorsByStage["other"])
	require.NotNil(t, summary.MostCommonError)
	assert.Equal(t, ErrorTypeExecution, summary.MostCommonError.Type)
	assert.False(t, summary.LastErrorTime.IsZero())

	reporter.ClearErrorHistory()
	assert.Zero(t, reporter.GetErrorSummary().TotalErrors)
}

func TestScriptError_Error(t *testing.T) {
	cause := assert.AnError
	assert.Equal(t, "msg", NewScriptError(ErrorTypeExecution, "s", "main", "msg", nil).Error())
	assert.Equal(t, cause.Error(), NewScriptError(ErrorTypeMarshalling, "s", "main", "", cause).Error())
	assert.Equal(t, "msg: "+cause.Error(), NewScriptError(ErrorTypeExecution, "s", "main", "msg", cause).Error())
	assert.ErrorIs(t, NewScriptError(ErrorTypeExecution, "s", "main", "msg", cause), cause)
}
