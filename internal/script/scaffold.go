package script

import (
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

//go:embed templates
var templatesFS embed.FS

// Scaffolder writes the example stage scripts of a language into a directory.
type Scaffolder struct {
	fs    afero.Fs
	force bool
}

// ScaffoldResult lists the files a scaffold run wrote and the ones it left alone.
type ScaffoldResult struct {
	Dir      string
	Language ScriptLanguage
	Written  []string
	Skipped  []string
}

// NewScaffolder creates a Scaffolder on fs. Existing files are only
// overwritten when force is set.
func NewScaffolder(fs afero.Fs, force bool) *Scaffolder {
	return &Scaffolder{fs: fs, force: force}
}

// Scaffold writes main, init and destroy scripts for language into dir,
// creating dir when it does not exist.
func (s *Scaffolder) Scaffold(dir string, language ScriptLanguage) (*ScaffoldResult, error) {
	ext := Extension(language)
	if ext == "" {
		return nil, NewScriptError(ErrorTypeConfiguration, "", "", "unsupported script language: "+string(language), nil)
	}
	if err := s.prepareTargetDirectory(dir); err != nil {
		return nil, err
	}

	result := &ScaffoldResult{Dir: dir, Language: language}
	for _, name := range []string{ScriptMain, ScriptInit, ScriptDestroy} {
		file := name + ext
		target := filepath.Join(dir, file)

		exists, err := afero.Exists(s.fs, target)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", target, err)
		}
		if exists && !s.force {
			slog.Debug("Keeping existing script", "path", target)
			result.Skipped = append(result.Skipped, file)
			continue
		}

		content, err := templatesFS.ReadFile(path.Join("templates", string(language), file))
		if err != nil {
			return nil, fmt.Errorf("no %s template for %s: %w", name, language, err)
		}
		if err := afero.WriteFile(s.fs, target, content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", target, err)
		}
		slog.Info("Wrote example script", "path", target, "language", language)
		result.Written = append(result.Written, file)
	}
	return result, nil
}

// prepareTargetDirectory ensures the target directory exists and is a directory
func (s *Scaffolder) prepareTargetDirectory(dir string) error {
	info, err := s.fs.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("target %s is not a directory", dir)
		}
		return nil
	case os.IsNotExist(err):
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create target directory: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("failed to check target directory: %w", err)
	}
}

// Template returns the embedded example script name of language.
func Template(language ScriptLanguage, name string) (string, error) {
	content, err := templatesFS.ReadFile(path.Join("templates", string(language), name+Extension(language)))
	if err != nil {
		return "", err
	}
	return string(content), nil
}
