package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce is how long Watch waits after the last file event before
// reloading.
const DefaultDebounce = 100 * time.Millisecond

// aliasFile is the on-disk layout:
//
//	aliases:
//	  gpt-4o: openai/gpt-4o
//	  sonnet: anthropic/claude-3-5-sonnet
type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// FileSource serves aliases from a YAML file.
type FileSource struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	aliases map[string]string
}

// NewFileSource loads the alias file at path.
func NewFileSource(path string, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileSource{
		path:     path,
		debounce: DefaultDebounce,
		logger:   logger.With("component", "catalog.file"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the alias file. On error the previous aliases are kept.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read alias file %q: %w", s.path, err)
	}

	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse alias file %q: %w", s.path, err)
	}
	for from, to := range f.Aliases {
		if from == "" || to == "" {
			return fmt.Errorf("alias file %q: empty alias %q -> %q", s.path, from, to)
		}
	}
	if f.Aliases == nil {
		f.Aliases = map[string]string{}
	}

	s.mu.Lock()
	s.aliases = f.Aliases
	s.mu.Unlock()

	s.logger.Debug("loaded aliases", "path", s.path, "count", len(f.Aliases))
	return nil
}

// Lookup implements Source.
func (s *FileSource) Lookup(_ context.Context, id string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonical, ok := s.aliases[id]
	return canonical, ok, nil
}

// Len returns the number of aliases.
func (s *FileSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.aliases)
}

// Watch reloads the alias file whenever it changes and calls onChange after
// each successful reload. It blocks until ctx is done.
//
// The parent directory is watched so that editors replacing the file by
// rename are picked up.
func (s *FileSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(target), err)
	}
	s.logger.Info("alias file watcher started", "path", target)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		if err := s.Reload(); err != nil {
			s.logger.Warn("alias reload failed, keeping previous aliases", "error", err)
			return
		}
		s.logger.Info("aliases reloaded", "path", target, "count", s.Len())
		if onChange != nil {
			onChange()
		}
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, reload)
			timerMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			s.logger.Error("alias file watcher error", "error", err)
		}
	}
}
