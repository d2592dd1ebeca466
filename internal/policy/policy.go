// Package policy implements the Indexing Policy Filter (C2): host
// predicates plus the store-freshness check that together decide whether
// a candidate file or directory produces an event.
package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arjunmehta/filedex/internal/fileref"
)

// FreshnessChecker is the store-backed asynchronous query described in
// §4.2. internal/store.Store satisfies this.
type FreshnessChecker interface {
	MTimeMatches(ctx context.Context, uri string, mtime time.Time) (bool, error)
}

// Predicates bundles the two host-supplied, pure/synchronous decisions
// spec §4.2 names. A nil predicate accepts everything (the permissive
// default a CLI without extra configuration gets).
type Predicates struct {
	// ShouldCheck decides whether file (a file or a directory, per
	// isDir) should be considered at all.
	ShouldCheck func(file fileref.Ref, isDir bool) bool
	// MonitorDirectory decides whether a directory should receive a
	// live filesystem watch once accepted.
	MonitorDirectory func(dir fileref.Ref) bool
}

// Filter is C2: it AND-composes the host predicates with the store
// freshness check, and caches compiled ignore-glob sets per directory so
// a rescan of an unchanged tree doesn't recompile patterns per entry.
type Filter struct {
	predicates Predicates
	store      FreshnessChecker
	excludes   []glob.Glob
	globCache  *lru.Cache[string, []glob.Glob]
}

// Config seeds a Filter's exclude patterns (gitignore-style globs applied
// to the base name, e.g. "*.tmp", ".git", "node_modules").
type Config struct {
	ExcludePatterns []string
	Predicates      Predicates
}

// New compiles cfg's exclude patterns and returns a Filter backed by
// store for freshness checks.
func New(cfg Config, store FreshnessChecker) (*Filter, error) {
	compiled := make([]glob.Glob, 0, len(cfg.ExcludePatterns))
	for _, pat := range cfg.ExcludePatterns {
		g, err := glob.Compile(pat)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, g)
	}
	cache, err := lru.New[string, []glob.Glob](128)
	if err != nil {
		return nil, err
	}
	return &Filter{predicates: cfg.Predicates, store: store, excludes: compiled, globCache: cache}, nil
}

// ShouldCheck applies the pure, synchronous acceptance predicate plus the
// exclude-glob match against the file's base name, against the compiled
// glob set for the file's containing directory.
func (f *Filter) ShouldCheck(file fileref.Ref, isDir bool) bool {
	base := file.Base()
	for _, g := range f.globsFor(file.Dir()) {
		if g.Match(base) {
			return false
		}
	}
	if f.predicates.ShouldCheck != nil {
		return f.predicates.ShouldCheck(file, isDir)
	}
	return true
}

// globsFor returns the compiled glob set that applies to entries of dir:
// the filter's global excludes plus whatever patterns dir's own
// .gitignore contributes, compiled once and cached by directory path so
// that a crawl visiting every sibling in a large directory doesn't
// re-read and recompile the same .gitignore per entry (§4.2's
// ignore-pattern-set cache).
func (f *Filter) globsFor(dir fileref.Ref) []glob.Glob {
	key := dir.String()
	if cached, ok := f.globCache.Get(key); ok {
		return cached
	}

	set := f.excludes
	if extra := readGitignore(key); len(extra) > 0 {
		set = append(append([]glob.Glob{}, f.excludes...), extra...)
	}
	f.globCache.Add(key, set)
	return set
}

// readGitignore compiles each non-blank, non-comment line of dir's
// .gitignore, if one exists, into a glob.Glob. A missing file or a
// malformed line is not an error: the directory simply contributes no
// extra patterns beyond the global excludes.
func readGitignore(dir string) []glob.Glob {
	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		return nil
	}
	var globs []glob.Glob
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		g, err := glob.Compile(line)
		if err != nil {
			continue
		}
		globs = append(globs, g)
	}
	return globs
}

// MonitorDirectory applies the host's monitor-subscription predicate.
func (f *Filter) MonitorDirectory(dir fileref.Ref) bool {
	if f.predicates.MonitorDirectory != nil {
		return f.predicates.MonitorDirectory(dir)
	}
	return true
}

// Decision is the outcome of ShouldProcess: whether to emit an event for
// the file itself, and whether it should still be tagged "contents-only"
// (§4.2's ignore annotation — the directory is enumerated but produces no
// event of its own).
type Decision struct {
	Accepted     bool
	ContentsOnly bool
}

// ShouldProcess implements should_process(file, is_dir) := should_check
// ∧ ¬mtime_matches_store, plus the contents-only tagging rule for
// directories that fail only the freshness check.
func (f *Filter) ShouldProcess(ctx context.Context, file fileref.Ref, isDir bool) (Decision, error) {
	if !f.ShouldCheck(file, isDir) {
		return Decision{Accepted: false}, nil
	}

	info, err := os.Stat(file.String())
	if err != nil {
		// The file vanished between discovery and the check; treat as
		// not fresh so the caller's crawl/monitor logic decides what to
		// do (a stat failure downstream will resolve to a Deleted).
		return Decision{Accepted: true}, nil
	}

	fresh, err := f.store.MTimeMatches(ctx, file.URI(), info.ModTime())
	if err != nil {
		return Decision{}, err
	}
	if !fresh {
		return Decision{Accepted: true}, nil
	}
	if isDir {
		// Contents may have changed even though the directory's own
		// mtime record matches; still enumerate, but tag contents-only
		// so C1 does not emit an event for the directory itself.
		return Decision{Accepted: true, ContentsOnly: true}, nil
	}
	return Decision{Accepted: false}, nil
}
