package script

import (
	"fmt"
	"path"
	"strings"
)

// Factory implements the EngineFactory interface
type Factory struct {
	supportedLanguages []ScriptLanguage
	limits             SecurityLimits
}

// NewFactory creates a new engine factory
func NewFactory() *Factory {
	return &Factory{
		supportedLanguages: []ScriptLanguage{
			LanguageTengo,
			LanguageJavaScript,
			LanguageStarlark,
		},
		limits: GetDefaultSecurityLimits(),
	}
}

// WithSecurityLimits sets the limits applied to every engine created afterwards.
func (f *Factory) WithSecurityLimits(limits SecurityLimits) *Factory {
	f.limits = limits
	return f
}

// CreateEngine returns an engine for the specified language
func (f *Factory) CreateEngine(language ScriptLanguage) (LanguageEngine, error) {
	var engine LanguageEngine
	switch language {
	case LanguageTengo:
		engine = NewTengoEngine()
	case LanguageJavaScript:
		engine = NewJSEngine()
	case LanguageStarlark:
		engine = NewStarlarkEngine()
	default:
		return nil, fmt.Errorf("unsupported script language: %s", language)
	}
	if err := engine.SetSecurityLimits(f.limits); err != nil {
		return nil, err
	}
	return engine, nil
}

// SupportedLanguages returns all supported script languages
func (f *Factory) SupportedLanguages() []ScriptLanguage {
	// Return a copy to prevent modification
	languages := make([]ScriptLanguage, len(f.supportedLanguages))
	copy(languages, f.supportedLanguages)
	return languages
}

var extensions = map[ScriptLanguage]string{
	LanguageTengo:      ".tengo",
	LanguageJavaScript: ".js",
	LanguageStarlark:   ".star",
}

// Extension returns the file extension of scripts in language.
func Extension(language ScriptLanguage) string {
	return extensions[language]
}

// LanguageForFile infers the language of a script file from its extension.
func LanguageForFile(name string) (ScriptLanguage, bool) {
	ext := strings.ToLower(path.Ext(name))
	for lang, e := range extensions {
		if e == ext {
			return lang, true
		}
	}
	return "", false
}

// ParseLanguage resolves a language name, accepting a few common aliases.
func ParseLanguage(name string) (ScriptLanguage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tengo":
		return LanguageTengo, nil
	case "javascript", "js":
		return LanguageJavaScript, nil
	case "starlark", "star", "python":
		return LanguageStarlark, nil
	}
	return "", fmt.Errorf("unsupported script language: %s", name)
}
