// Package storage resolves the platform-native directories filedex uses
// for its own configuration, per-project SQLite stores, and full-text
// indexes, adapted from a general XDG-aware directory resolver down to
// the four kinds of state this mining pipeline actually keeps on disk.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
)

// Dirs provides platform-native directory resolution with XDG support.
type Dirs struct {
	Config string // user configuration (config.yaml)
	Data   string // per-project SQLite stores and bleve indexes
	Cache  string // regenerable caches
	State  string // logs, locks
}

// ProjectDirs are project-local directories rooted at a mined tree.
type ProjectDirs struct {
	Root   string // .filedex/
	Config string // .filedex/config.yaml (committed)
	Local  string // .filedex/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs returns platform-appropriate directories, cached after the
// first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveDirsImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveDirsImpl() (*Dirs, error) {
	return &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
		Cache:  resolveDir("XDG_CACHE_HOME", platformCacheDefault()),
		State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
	}, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, "filedex")
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for projectRoot.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	dir := filepath.Join(projectRoot, ".filedex")
	return &ProjectDirs{
		Root:   dir,
		Config: filepath.Join(dir, "config.yaml"),
		Local:  filepath.Join(dir, "local"),
	}
}

// ProjectHash generates a stable identifier for a project root, used to
// key that project's store and full-text index files.
func ProjectHash(projectRoot string) string {
	absPath, err := filepath.Abs(projectRoot)
	if err != nil {
		absPath = projectRoot
	}
	hash := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(hash[:8])
}

// EnsureDir creates path with perm (0755 if unset) if it doesn't exist.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0755
	}
	return os.MkdirAll(path, perm)
}

// ConfigDir joins subpath onto the config root.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// DataDir joins subpath onto the data root.
func (d *Dirs) DataDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Data}, subpath...)...)
}

// StateDir joins subpath onto the state root.
func (d *Dirs) StateDir(subpath ...string) string {
	return filepath.Join(append([]string{d.State}, subpath...)...)
}

// StorePath returns the SQLite store path for the project rooted at
// projectRoot.
func (d *Dirs) StorePath(projectRoot string) string {
	return d.DataDir("stores", ProjectHash(projectRoot)+".db")
}

// FulltextDir returns the bleve index directory for the project rooted at
// projectRoot.
func (d *Dirs) FulltextDir(projectRoot string) string {
	return d.DataDir("fulltext", ProjectHash(projectRoot))
}

// LogDir returns the log directory.
func (d *Dirs) LogDir() string {
	return d.StateDir("logs")
}

// LockDir returns the path of the advisory-lock directory. This package
// only computes the path; it creates no lock files and takes no locks.
func (d *Dirs) LockDir() string {
	return d.StateDir("locks")
}

// EnsureAll creates every standard directory this process writes to.
func (d *Dirs) EnsureAll() error {
	dirs := []string{
		d.Config,
		d.DataDir("stores"),
		d.DataDir("fulltext"),
		d.Cache,
		d.State,
		d.LogDir(),
		d.LockDir(),
	}
	for _, dir := range dirs {
		if err := EnsureDir(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
