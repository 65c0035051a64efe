package scope

import (
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/samber/lo"

	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/record"
)

// Env holds what stays fixed for the lifetime of one processor and is shared
// by every invocation.
type Env struct {
	Stage          string
	RecordType     RecordType
	UserParams     map[string]string
	PipelineParams map[string]string
	Preview        bool
	State          *State
	Logger         *slog.Logger
}

// Bindings are the objects bound into one script invocation.
type Bindings struct {
	Script     string
	Records    []*RecordView
	Output     *Output
	Error      *ErrorSink
	State      *State
	Functions  *Functions
	UserParams map[string]string
	Sentinels  []*marshal.Sentinel
	Effects    *Effects

	logger *slog.Logger
}

// Bind prepares the bindings of one invocation of the named script over
// records, which is empty for the init and destroy scripts.
func (e *Env) Bind(script string, records []*record.Record) *Bindings {
	if e.State == nil {
		e.State = NewState()
	}
	mode := e.RecordType
	if mode == "" {
		mode = NativeObjects
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	effects := NewEffects()
	userParams := maps.Clone(e.UserParams)
	if userParams == nil {
		userParams = map[string]string{}
	}
	views := lo.Map(records, func(r *record.Record, _ int) *RecordView {
		return NewRecordView(r, mode)
	})
	return &Bindings{
		Script:     script,
		Records:    views,
		Output:     &Output{effects: effects},
		Error:      &ErrorSink{effects: effects},
		State:      e.State,
		Functions:  &Functions{effects: effects, mode: mode, pipelineParams: e.PipelineParams, preview: e.Preview},
		UserParams: userParams,
		Sentinels:  marshal.Sentinels(),
		Effects:    effects,
		logger:     logger.With(slog.String("component", "script"), slog.String("stage", e.Stage), slog.String("script", script)),
	}
}

// Log writes a script log line.
func (b *Bindings) Log(args ...any) {
	parts := lo.Map(args, func(a any, _ int) string { return fmt.Sprint(a) })
	b.logger.Info(strings.Join(parts, " "), slog.String("event_type", "script_log"))
}

// Logger returns the logger carrying the invocation attributes.
func (b *Bindings) Logger() *slog.Logger { return b.logger }
