// Package config loads and layers the mining pipeline's runtime
// configuration: built-in defaults, a project-local .filedex/config.yaml,
// a user config file, a project-local/gitignored override, and finally
// FILEDEX_* environment variables, in that increasing order of
// precedence. A Manager holds the merged Config behind an atomic pointer;
// Reload re-reads the layers when called explicitly, and functions
// registered with OnChange receive each newly installed Config. Nothing
// in the pipeline calls Reload or OnChange.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/arjunmehta/filedex/internal/storage"
)

// Manager owns the current merged Config and notifies registered
// watchers when Load or Reload installs a new one.
type Manager struct {
	current   atomic.Pointer[Config]
	dirs      *storage.Dirs
	projectRoot string

	watcherMu sync.RWMutex
	watchers  []func(*Config)
}

// Config is the mining pipeline's full runtime configuration.
type Config struct {
	Roots    []RootConfig   `yaml:"roots"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Store    StoreConfig    `yaml:"store"`
	Fulltext FulltextConfig `yaml:"fulltext"`
	Log      LogConfig      `yaml:"log"`
}

// RootConfig names a directory to mine and whether to recurse into it.
type RootConfig struct {
	Path    string `yaml:"path"`
	Recurse bool   `yaml:"recurse"`
}

// PipelineConfig controls the scheduler and policy filter.
type PipelineConfig struct {
	PoolLimit       int      `yaml:"pool_limit"`
	Throttle        float64  `yaml:"throttle"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	MonitorDefault  bool     `yaml:"monitor_default"`
}

// StoreConfig controls the SQLite triple store.
type StoreConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	FreshCache   int64  `yaml:"fresh_cache_entries"`
}

// FulltextConfig controls the bleve full-text sidecar.
type FulltextConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig controls slog handler selection.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// NewManager returns a Manager seeded with DefaultConfig, scoped to
// projectRoot for locating .filedex/config.yaml.
func NewManager(dirs *storage.Dirs, projectRoot string) *Manager {
	m := &Manager{dirs: dirs, projectRoot: projectRoot}
	m.current.Store(DefaultConfig(dirs, projectRoot))
	return m
}

// DefaultConfig returns the built-in defaults, with store/fulltext paths
// resolved against dirs and projectRoot.
func DefaultConfig(dirs *storage.Dirs, projectRoot string) *Config {
	cfg := &Config{
		Pipeline: PipelineConfig{
			PoolLimit:      4,
			Throttle:       0,
			MonitorDefault: true,
			ExcludePatterns: []string{
				".git", ".hg", ".svn", "node_modules", "*.tmp", "*.swp", "*~",
			},
		},
		Store: StoreConfig{
			MaxOpenConns: 8,
			FreshCache:   10_000,
		},
		Fulltext: FulltextConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
	if dirs != nil {
		cfg.Store.Path = dirs.StorePath(projectRoot)
		cfg.Fulltext.Path = dirs.FulltextDir(projectRoot)
	}
	return cfg
}

// Get returns the currently active Config. Safe for concurrent use.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Load builds a fresh Config from defaults, layers every configuration
// source in increasing precedence, installs it, and notifies watchers.
func (m *Manager) Load() error {
	cfg := DefaultConfig(m.dirs, m.projectRoot)

	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	if err := loadYAMLFile(projectDirs.Config, cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}
	if m.dirs != nil {
		if err := loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg); err != nil {
			return fmt.Errorf("user config: %w", err)
		}
	}
	if err := loadYAMLFile(filepath.Join(projectDirs.Local, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("local config: %w", err)
	}
	applyEnvironment(cfg)

	m.current.Store(cfg)
	m.notifyWatchers(cfg)
	return nil
}

// Reload re-runs Load, picking up any on-disk or environment change.
func (m *Manager) Reload() error {
	return m.Load()
}

// OnChange registers fn to be called with every newly installed Config.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := append([]func(*Config){}, m.watchers...)
	m.watcherMu.RUnlock()
	for _, fn := range watchers {
		fn(cfg)
	}
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("FILEDEX_POOL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.PoolLimit = n
		}
	}
	if v := os.Getenv("FILEDEX_THROTTLE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pipeline.Throttle = f
		}
	}
	if v := os.Getenv("FILEDEX_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FILEDEX_FULLTEXT_ENABLED"); v != "" {
		cfg.Fulltext.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("FILEDEX_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FILEDEX_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
