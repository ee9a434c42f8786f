package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		varName := submatch[1]
		defaultVal := ""
		if len(submatch) >= 3 {
			defaultVal = submatch[2]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultVal
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Loader manages configuration loading and hot-reload via fsnotify.
type Loader struct {
	configDir string
	mu        sync.RWMutex
	cfg       *Config
	corpus    *CorpusConfig
	watchers  []func()
	stop      func() error
	debounce  time.Duration
	logger    *slog.Logger
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		debounce:  200 * time.Millisecond,
		logger:    logger,
	}
}

// Load reads sentinel.yaml over the defaults and, when present, corpus.yaml.
func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(filepath.Join(l.configDir, "sentinel.yaml"), cfg); err != nil {
		return fmt.Errorf("load sentinel config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate sentinel config: %w", err)
	}

	corpus := &CorpusConfig{}
	corpusPath := filepath.Join(l.configDir, "corpus.yaml")
	if _, err := os.Stat(corpusPath); err == nil {
		if err := LoadFile(corpusPath, corpus); err != nil {
			return fmt.Errorf("load corpus config: %w", err)
		}
	}

	l.mu.Lock()
	l.cfg = cfg
	l.corpus = corpus
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "dir", l.configDir, "corpus_snippets", len(corpus.Snippets))
	return nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) Corpus() *CorpusConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.corpus
}

// OnReload registers a callback that fires after a successful reload.
func (l *Loader) OnReload(fn func()) {
	l.mu.Lock()
	l.watchers = append(l.watchers, fn)
	l.mu.Unlock()
}

// Watch reloads when a YAML file in the config directory changes. Bursts of
// events, as editors produce on save, collapse into one reload. A failed
// reload keeps the previous configuration.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	l.mu.Lock()
	l.stop = watcher.Close
	l.mu.Unlock()

	go func() {
		var pending *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isConfigFile(event.Name) || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				l.logger.Debug("config file changed", "file", event.Name, "op", event.Op.String())
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(l.debounce, l.reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher started by Watch.
func (l *Loader) Close() error {
	l.mu.Lock()
	stop := l.stop
	l.stop = nil
	l.mu.Unlock()
	if stop == nil {
		return nil
	}
	return stop()
}

func (l *Loader) reload() {
	if err := l.Load(); err != nil {
		l.logger.Error("failed to reload config, keeping previous", "error", err)
		return
	}
	l.mu.RLock()
	watchers := slices.Clone(l.watchers)
	l.mu.RUnlock()
	for _, fn := range watchers {
		fn()
	}
}

func isConfigFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return !strings.HasPrefix(filepath.Base(name), ".")
	}
	return false
}
