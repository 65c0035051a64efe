package script

import (
	"context"

	"github.com/nfrund/scriptproc/internal/scope"
)

// ScriptSource supplies the scripts of one stage: main, init and destroy, all
// in the same language.
type ScriptSource interface {
	// Language is the language shared by the stage scripts.
	Language() (ScriptLanguage, error)

	// Content returns the source of the named script, or "" when the stage
	// has none.
	Content(name string) string
}

// ScriptRegistry is a ScriptSource read from files that can follow edits.
type ScriptRegistry interface {
	ScriptSource

	LoadScripts() error
	GetScript(name string) (*Script, error)
	ListScripts() []string

	// StartWatcher calls onChange with the script name after each reload or
	// removal until ctx is done or StopWatcher is called.
	StartWatcher(ctx context.Context, onChange func(name string)) error
	StopWatcher()
}

// EngineFactory creates language-specific script engines
type EngineFactory interface {
	CreateEngine(language ScriptLanguage) (LanguageEngine, error)
	SupportedLanguages() []ScriptLanguage
}

// LanguageEngine compiles and runs scripts in one language. An engine owns
// its interpreter state and must not be shared between processors.
type LanguageEngine interface {
	Compile(script *Script) (*CompiledScript, error)

	// Execute runs compiled against one invocation's bindings. Everything the
	// script emits is collected in bindings.Effects.
	Execute(ctx context.Context, compiled *CompiledScript, bindings *scope.Bindings) (*ScriptOutput, error)

	// SetSecurityLimits rejects negative limits.
	SetSecurityLimits(limits SecurityLimits) error
}

var _ ScriptRegistry = (*Registry)(nil)
