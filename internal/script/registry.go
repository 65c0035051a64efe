package script

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// Registry implements the ScriptRegistry interface over the script files of one
// stage: main.<ext>, init.<ext> and destroy.<ext> in a single directory.
type Registry struct {
	mu            sync.RWMutex
	fs            afero.Fs
	dir           string
	stage         string
	scripts       map[string]*Script // scriptName -> Script
	watcher       *fsnotify.Watcher
	watcherActive bool
}

// NewRegistry creates a registry reading the scripts of stage from dir on fs.
func NewRegistry(fs afero.Fs, dir, stage string) *Registry {
	return &Registry{
		fs:      fs,
		dir:     dir,
		stage:   stage,
		scripts: make(map[string]*Script),
	}
}

// Register adds an inline script, replacing any script of the same name.
func (r *Registry) Register(name string, language ScriptLanguage, content string) *Script {
	r.mu.Lock()
	defer r.mu.Unlock()

	script := &Script{
		Stage:        r.stage,
		Name:         name,
		Language:     language,
		Content:      content,
		Source:       SourceInline,
		LastModified: time.Now(),
		Checksum:     generateChecksum(content),
	}
	r.scripts[name] = script
	return script
}

// LoadScripts discovers and loads the stage scripts from the directory. A
// missing main script, or scripts in more than one language, is a
// configuration error.
func (r *Registry) LoadScripts() error {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		return NewScriptError(ErrorTypeConfiguration, r.stage, "",
			fmt.Sprintf("failed to read scripts directory %s", r.dir), err)
	}

	loaded := make(map[string]*Script)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, _, ok := r.parseScriptPath(entry.Name())
		if !ok {
			continue
		}
		if existing, dup := loaded[name]; dup {
			return NewScriptError(ErrorTypeConfiguration, r.stage, name,
				fmt.Sprintf("script %s is defined twice: %s and %s", name, filepath.Base(existing.Path), entry.Name()), nil)
		}
		script, err := r.loadScriptFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return err
		}
		loaded[name] = script
	}

	if _, ok := loaded[ScriptMain]; !ok {
		return NewScriptError(ErrorTypeNotFound, r.stage, ScriptMain,
			fmt.Sprintf("no main script found in %s", r.dir), nil)
	}
	languages := lo.Uniq(lo.MapToSlice(loaded, func(_ string, s *Script) ScriptLanguage { return s.Language }))
	if len(languages) > 1 {
		return NewScriptError(ErrorTypeConfiguration, r.stage, "",
			fmt.Sprintf("stage scripts must share one language, found %v", languages), nil)
	}

	r.mu.Lock()
	r.scripts = loaded
	r.mu.Unlock()

	slog.Info("Loaded stage scripts", "stage", r.stage, "dir", r.dir, "scripts", len(loaded), "language", languages[0])
	return nil
}

// GetScript retrieves a script by name
func (r *Registry) GetScript(name string) (*Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if script, exists := r.scripts[name]; exists {
		return script, nil
	}
	return nil, NewScriptError(
		ErrorTypeNotFound,
		r.stage,
		name,
		fmt.Sprintf("script not found: %s/%s", r.stage, name),
		nil,
	)
}

// Content returns the source of the named script, or "" when it is not loaded.
func (r *Registry) Content(name string) string {
	script, err := r.GetScript(name)
	if err != nil {
		return ""
	}
	return script.Content
}

// Language returns the language of the main script.
func (r *Registry) Language() (ScriptLanguage, error) {
	script, err := r.GetScript(ScriptMain)
	if err != nil {
		return "", err
	}
	return script.Language, nil
}

// ListScripts returns the names of the loaded scripts, sorted
func (r *Registry) ListScripts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Keys(r.scripts)
	slices.Sort(names)
	return names
}

// ReloadScript reloads a specific script from disk
func (r *Registry) ReloadScript(name, filePath string) error {
	script, err := r.loadScriptFile(filePath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.scripts[name] = script
	r.mu.Unlock()

	slog.Info("Reloaded script", "stage", r.stage, "script", name, "language", script.Language)
	return nil
}

// StartWatcher begins monitoring the script directory for changes and calls
// onChange with the script name after each reload or removal. Watching needs
// the OS filesystem.
func (r *Registry) StartWatcher(ctx context.Context, onChange func(name string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watcherActive {
		slog.Debug("Script watcher already active")
		return nil
	}
	if _, ok := r.fs.(*afero.OsFs); !ok {
		return fmt.Errorf("hot reload needs the OS filesystem, got %s", r.fs.Name())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}

	r.watcher = watcher
	r.watcherActive = true

	go r.watchFiles(ctx, watcher, onChange)

	slog.Debug("Started file system watcher for script hot-reloading", "directory", r.dir)
	return nil
}

// watchFiles handles file system events
func (r *Registry) watchFiles(ctx context.Context, watcher *fsnotify.Watcher, onChange func(name string)) {
	defer func() {
		r.StopWatcher()
		slog.Info("File system watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("File system watcher context cancelled")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				slog.Debug("File system watcher events channel closed")
				return
			}
			if name, changed := r.handleFileEvent(event); changed && onChange != nil {
				onChange(name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				slog.Debug("File system watcher errors channel closed")
				return
			}
			slog.Error("File system watcher error", "error", err)
		}
	}
}

// handleFileEvent processes one file system event and reports which script
// changed, if any.
func (r *Registry) handleFileEvent(event fsnotify.Event) (string, bool) {
	name, _, ok := r.parseScriptPath(event.Name)
	if !ok {
		return "", false
	}

	slog.Debug("File system event", "event", event.Op.String(), "path", event.Name, "stage", r.stage, "script", name)

	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		err := r.ReloadScript(name, event.Name)
		logs().Reload("reload", r.stage, name, event.Name, err)
		return name, err == nil

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		r.mu.Lock()
		_, existed := r.scripts[name]
		delete(r.scripts, name)
		r.mu.Unlock()
		logs().Reload("remove", r.stage, name, event.Name, nil)
		return name, existed
	}
	return "", false
}

// StopWatcher stops the file system watcher
func (r *Registry) StopWatcher() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}
	r.watcherActive = false
}

// parseScriptPath maps a file path to a stage script name and language.
// Only main, init and destroy files with a known extension qualify.
func (r *Registry) parseScriptPath(filePath string) (string, ScriptLanguage, bool) {
	base := filepath.Base(filePath)
	language, ok := LanguageForFile(base)
	if !ok {
		return "", "", false
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))
	switch name {
	case ScriptMain, ScriptInit, ScriptDestroy:
		return name, language, true
	}
	return "", "", false
}

func (r *Registry) loadScriptFile(filePath string) (*Script, error) {
	name, language, ok := r.parseScriptPath(filePath)
	if !ok {
		return nil, NewScriptError(ErrorTypeConfiguration, r.stage, filepath.Base(filePath),
			"not a stage script file: "+filePath, nil)
	}

	content, err := afero.ReadFile(r.fs, filePath)
	if err != nil {
		return nil, NewScriptError(ErrorTypeNotFound, r.stage, name, "failed to read script file "+filePath, err)
	}
	info, err := r.fs.Stat(filePath)
	if err != nil {
		return nil, NewScriptError(ErrorTypeNotFound, r.stage, name, "failed to stat script file "+filePath, err)
	}

	slog.Debug("Loaded script file",
		"stage", r.stage,
		"script", name,
		"path", filePath,
		"language", language,
		"size", len(content))

	return &Script{
		Stage:        r.stage,
		Name:         name,
		Language:     language,
		Content:      string(content),
		Source:       SourceFile,
		Path:         filePath,
		LastModified: info.ModTime(),
		Checksum:     generateChecksum(string(content)),
	}, nil
}

// generateChecksum creates a checksum for script content
func generateChecksum(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// GetScriptMetadata returns metadata about all loaded scripts
func (r *Registry) GetScriptMetadata() map[string]ScriptMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.MapValues(r.scripts, func(script *Script, _ string) ScriptMetadata {
		return ScriptMetadata{
			Name:         script.Name,
			Language:     script.Language,
			Source:       script.Source,
			Path:         script.Path,
			LastModified: script.LastModified,
			Checksum:     script.Checksum,
			Size:         len(script.Content),
		}
	})
}

// ScriptMetadata contains metadata about a script without the content
type ScriptMetadata struct {
	Name         string
	Language     ScriptLanguage
	Source       ScriptOrigin
	Path         string
	LastModified time.Time
	Checksum     string
	Size         int
}
