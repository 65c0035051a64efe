package processor

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nfrund/scriptproc/internal/scope"
	"github.com/nfrund/scriptproc/internal/script"
)

// ProcessingMode selects how the main script is scheduled.
type ProcessingMode string

const (
	ModeRecord ProcessingMode = "RECORD"
	ModeBatch  ProcessingMode = "BATCH"
)

// OnRecordError selects what happens to a record whose invocation failed.
type OnRecordError string

const (
	OnErrorDiscard      OnRecordError = "DISCARD"
	OnErrorToError      OnRecordError = "TO_ERROR"
	OnErrorStopPipeline OnRecordError = "STOP_PIPELINE"
)

// Config is the stage definition.
type Config struct {
	StageName      string                `validate:"required"`
	Language       script.ScriptLanguage `validate:"required,oneof=tengo javascript starlark"`
	ProcessingMode ProcessingMode        `validate:"required,oneof=RECORD BATCH"`
	OnRecordError  OnRecordError         `validate:"required,oneof=DISCARD TO_ERROR STOP_PIPELINE"`
	RecordType     scope.RecordType      `validate:"required,oneof=SDC_RECORDS NATIVE_OBJECTS"`
	Script         string                `validate:"required"`
	InitScript     string
	DestroyScript  string
	UserParams     map[string]string
}

// Context is what the host supplies for one execution.
type Context struct {
	Preview            bool
	PipelineParameters map[string]string
}

// DefaultConfig returns a RECORD mode, TO_ERROR, NATIVE_OBJECTS configuration
// with no scripts.
func DefaultConfig(stage string, language script.ScriptLanguage) Config {
	return Config{
		StageName:      stage,
		Language:       language,
		ProcessingMode: ModeRecord,
		OnRecordError:  OnErrorToError,
		RecordType:     scope.NativeObjects,
	}
}

var validate = validator.New()

// Validate checks the configuration.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			problems = append(problems, fe.Field()+" is required")
			continue
		}
		problems = append(problems, fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid stage configuration: %s", strings.Join(problems, "; "))
}

// scripts returns the stage scripts keyed by name, skipping empty ones.
func (c Config) scripts() map[string]string {
	out := map[string]string{script.ScriptMain: c.Script}
	if strings.TrimSpace(c.InitScript) != "" {
		out[script.ScriptInit] = c.InitScript
	}
	if strings.TrimSpace(c.DestroyScript) != "" {
		out[script.ScriptDestroy] = c.DestroyScript
	}
	return out
}

// LoadScripts takes the language and the main, init and destroy scripts from
// a loaded registry.
func (c *Config) LoadScripts(reg script.ScriptSource) error {
	language, err := reg.Language()
	if err != nil {
		return err
	}
	c.Language = language
	c.Script = reg.Content(script.ScriptMain)
	c.InitScript = reg.Content(script.ScriptInit)
	c.DestroyScript = reg.Content(script.ScriptDestroy)
	return nil
}
