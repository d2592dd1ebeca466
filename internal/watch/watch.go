// Package watch implements the concrete Monitor collaborator (C7): a
// fusion of live fsnotify events, a periodic re-scan fallback, and an
// optional git-aware change source, deduplicated onto one channel before
// reaching the event source adapter.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arjunmehta/filedex/internal/events"
	"github.com/arjunmehta/filedex/internal/fileref"
)

// Source tags which collaborator produced a MonitorEvent. It does not
// affect deduplication: when two sources report the same path and kind
// within the same dedupe window, whichever event arrived first is kept.
type Source int

const (
	SourceFSNotify Source = iota
	SourceGit
	SourcePeriodic
)

func (s Source) String() string {
	switch s {
	case SourceFSNotify:
		return "fsnotify"
	case SourceGit:
		return "git"
	case SourcePeriodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// MonitorEvent is what the Monitor collaborator hands to the event
// source adapter (C1), matching its item_created/item_updated/
// item_deleted/item_moved surface.
type MonitorEvent struct {
	Kind            events.Kind
	File            fileref.Ref
	IsDir           bool
	From            fileref.Ref // populated only for Moved
	SourceMonitored bool        // populated only for Moved
	Source          Source
	Time            time.Time
}

// Config tunes debounce and rescan cadence.
type Config struct {
	Debounce         time.Duration // default 100ms, per fsnotify.go's grounding
	PeriodicInterval time.Duration // 0 disables the periodic fallback
	DedupeWindow     time.Duration // default 1s
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 100 * time.Millisecond
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = time.Second
	}
	return c
}

// Monitor fuses fsnotify with a periodic re-scanner.
type Monitor struct {
	cfg Config
	log *slog.Logger

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	watching map[string]struct{}
	pending  map[string]*time.Timer

	dedupeMu sync.Mutex
	seen     map[string]time.Time

	renameMu    sync.Mutex
	renameQueue []*pendingRename

	gitMu      sync.Mutex
	gitSources []*GitSource

	out chan MonitorEvent
}

// renamePairWindow bounds how long a Rename event waits for a paired
// Create before falling back to an ordinary Deleted. fsnotify (and the
// inotify/kqueue/ReadDirectoryChanges backend it wraps on each platform)
// reports a rename as two separate, unlinked events — Rename on the old
// name, Create on the new one — with no shared cookie tying them
// together at this API's level, so pairing is done by arrival order
// within a short window instead.
const renamePairWindow = 2 * time.Second

// pendingRename is one renamed-away path waiting to be paired with the
// Create its rename produces elsewhere in a watched tree.
type pendingRename struct {
	path  string
	timer *time.Timer
}

// New creates a Monitor. Call Watch to add roots before Start.
func New(cfg Config, log *slog.Logger) (*Monitor, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:      cfg.withDefaults(),
		log:      log,
		fsw:      fsw,
		watching: make(map[string]struct{}),
		pending:  make(map[string]*time.Timer),
		seen:     make(map[string]time.Time),
		out:      make(chan MonitorEvent, 256),
	}, nil
}

// Events returns the fused, deduplicated event stream.
func (m *Monitor) Events() <-chan MonitorEvent { return m.out }

// Watch registers dir (and, only if recurse is set, its subdirectories)
// with the fsnotify watcher.
func (m *Monitor) Watch(dir fileref.Ref, recurse bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addRecursive(dir.String(), recurse)
}

func (m *Monitor) addRecursive(path string, recurse bool) error {
	if _, ok := m.watching[path]; ok {
		return nil
	}
	if err := m.fsw.Add(path); err != nil {
		return err
	}
	m.watching[path] = struct{}{}
	if !recurse {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil // best-effort: directory may have raced out of existence
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = m.addRecursive(filepath.Join(path, e.Name()), true)
		}
	}
	return nil
}

// AttachGitSource opens root as a git working tree (best-effort) and, if
// it is inside one, registers it so fsnotify bursts under it also trigger
// a git-status Poll (§6.2 C7). A root outside any git repository, or a
// root whose repository is already covered by a previously attached
// source, is a silent no-op rather than an error: most mined trees are
// not git repositories, and recursively discovered subdirectories of one
// that is would otherwise re-attach the same repository on every
// live-created directory.
func (m *Monitor) AttachGitSource(root fileref.Ref) {
	src, err := OpenGitSource(root, m.log)
	if err != nil {
		m.log.Warn("git source unavailable", "root", root.String(), "error", err)
		return
	}
	if src == nil {
		return
	}

	m.gitMu.Lock()
	defer m.gitMu.Unlock()
	for _, existing := range m.gitSources {
		if existing.Root().String() == src.Root().String() {
			return
		}
	}
	m.gitSources = append(m.gitSources, src)
	m.log.Info("git change source attached", "repo_root", src.Root().String())
}

// pollGitSources polls every attached git source whose worktree contains
// path, feeding whatever it finds through the same dedupe window as every
// other source. It runs on every fsnotify burst that settles through
// handleFSEvent's debounce, per GitSource's own doc comment, rather than
// on a fixed timer like periodicLoop.
func (m *Monitor) pollGitSources(path string) {
	m.gitMu.Lock()
	sources := make([]*GitSource, len(m.gitSources))
	copy(sources, m.gitSources)
	m.gitMu.Unlock()

	ref := fileref.New(path)
	for _, src := range sources {
		if !ref.HasPrefix(src.Root()) {
			continue
		}
		evs, err := src.Poll(context.Background())
		if err != nil {
			m.log.Warn("git source poll failed", "repo_root", src.Root().String(), "error", err)
			continue
		}
		for _, ev := range evs {
			m.dispatch(ev)
		}
	}
}

// Unwatch removes dir and everything beneath it from the fsnotify set,
// used when remove_directory tears down a monitored root.
func (m *Monitor) Unwatch(dir fileref.Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := dir.String()
	for path := range m.watching {
		if path == prefix || (len(path) > len(prefix) && path[:len(prefix)+1] == prefix+string(filepath.Separator)) {
			_ = m.fsw.Remove(path)
			delete(m.watching, path)
		}
	}
}

// Start runs the fsnotify read loop and, if configured, the periodic
// rescanner, until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go m.readLoop(ctx)
	if m.cfg.PeriodicInterval > 0 {
		go m.periodicLoop(ctx)
	}
}

func (m *Monitor) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.fsw.Events:
			if !ok {
				return
			}
			m.handleFSEvent(ev)
		case err, ok := <-m.fsw.Errors:
			if !ok {
				return
			}
			m.log.Warn("fsnotify error", "error", err)
		}
	}
}

func (m *Monitor) handleFSEvent(ev fsnotify.Event) {
	m.mu.Lock()
	if t, ok := m.pending[ev.Name]; ok {
		t.Stop()
	}
	m.pending[ev.Name] = time.AfterFunc(m.cfg.Debounce, func() {
		m.mu.Lock()
		delete(m.pending, ev.Name)
		m.mu.Unlock()
		m.emitFromOp(ev)
		m.pollGitSources(ev.Name)
	})
	m.mu.Unlock()
}

func (m *Monitor) emitFromOp(ev fsnotify.Event) {
	ref := fileref.New(ev.Name)
	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case ev.Has(fsnotify.Create):
		if isDir {
			m.mu.Lock()
			_ = m.addRecursive(ev.Name, true)
			m.mu.Unlock()
		}
		if from, ok := m.popPendingRename(); ok {
			m.EmitMoved(from, ref, isDir, true)
			return
		}
		m.dispatch(MonitorEvent{Kind: events.Created, File: ref, IsDir: isDir, Source: SourceFSNotify, Time: time.Now()})
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
		m.dispatch(MonitorEvent{Kind: events.Updated, File: ref, IsDir: isDir, Source: SourceFSNotify, Time: time.Now()})
	case ev.Has(fsnotify.Rename):
		// The old name is already gone by the time this fires (the
		// rename already happened), so it cannot be stat'd here —
		// pairing with the Create on the new name is what tells us
		// whether it was a directory. Stash it and give it
		// renamePairWindow to be claimed before treating it as a plain
		// delete.
		m.pushPendingRename(ref)
	case ev.Has(fsnotify.Remove):
		m.Unwatch(ref)
		m.dispatch(MonitorEvent{Kind: events.Deleted, File: ref, IsDir: isDir, Source: SourceFSNotify, Time: time.Now()})
	}
}

// pushPendingRename records ref as renamed-away, arming a fallback timer
// that treats it as an ordinary Deleted if no Create claims it within
// renamePairWindow.
func (m *Monitor) pushPendingRename(ref fileref.Ref) {
	m.renameMu.Lock()
	defer m.renameMu.Unlock()

	pr := &pendingRename{path: ref.String()}
	pr.timer = time.AfterFunc(renamePairWindow, func() {
		m.renameMu.Lock()
		for i, p := range m.renameQueue {
			if p == pr {
				m.renameQueue = append(m.renameQueue[:i], m.renameQueue[i+1:]...)
				break
			}
		}
		m.renameMu.Unlock()

		m.Unwatch(ref)
		m.dispatch(MonitorEvent{Kind: events.Deleted, File: ref, Source: SourceFSNotify, Time: time.Now()})
	})
	m.renameQueue = append(m.renameQueue, pr)
}

// popPendingRename returns the oldest outstanding renamed-away path, if
// any is still waiting to be paired, and cancels its Deleted fallback.
func (m *Monitor) popPendingRename() (fileref.Ref, bool) {
	m.renameMu.Lock()
	defer m.renameMu.Unlock()

	if len(m.renameQueue) == 0 {
		return fileref.Ref{}, false
	}
	pr := m.renameQueue[0]
	m.renameQueue = m.renameQueue[1:]
	pr.timer.Stop()
	return fileref.New(pr.path), true
}

func (m *Monitor) periodicLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PeriodicInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.rescanWatched()
		}
	}
}

// rescanWatched re-stats every watched root's direct entries; this is a
// deliberately shallow fallback catching changes fsnotify missed (common
// on network filesystems where inotify does not fire), not a full
// re-crawl — the periodic source relies on the policy filter's freshness
// check to no-op files that did not actually change.
func (m *Monitor) rescanWatched() {
	m.mu.Lock()
	roots := make([]string, 0, len(m.watching))
	for p := range m.watching {
		roots = append(roots, p)
	}
	m.mu.Unlock()

	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			ref := fileref.New(filepath.Join(root, e.Name()))
			m.dispatch(MonitorEvent{
				Kind:   events.Updated,
				File:   ref,
				IsDir:  info.IsDir(),
				Source: SourcePeriodic,
				Time:   time.Now(),
			})
		}
	}
}

// dispatch applies the dedupe window before handing an event to the
// fused output channel: two sources reporting the same (path, kind)
// within the window collapse to one, keeping whichever arrived first
// (fsnotify, being registered first in Source's priority order, usually
// wins).
func (m *Monitor) dispatch(ev MonitorEvent) {
	key := ev.File.String() + "|" + ev.Kind.String()

	m.dedupeMu.Lock()
	if last, ok := m.seen[key]; ok && ev.Time.Sub(last) < m.cfg.DedupeWindow {
		m.dedupeMu.Unlock()
		return
	}
	m.seen[key] = ev.Time
	m.dedupeMu.Unlock()

	select {
	case m.out <- ev:
	default:
		m.log.Warn("monitor output channel full, dropping event", "path", ev.File.String())
	}
}

// EmitMoved injects a Moved event directly, since fsnotify on most
// platforms reports a rename as a Rename+Create pair rather than one
// move event. emitFromOp calls it when a pending Rename pairs with a
// later Create, instead of two separate dispatches.
func (m *Monitor) EmitMoved(from, to fileref.Ref, isDir, sourceMonitored bool) {
	m.dispatch(MonitorEvent{
		Kind:            events.Moved,
		From:            from,
		File:            to,
		IsDir:           isDir,
		SourceMonitored: sourceMonitored,
		Source:          SourceFSNotify,
		Time:            time.Now(),
	})
}

// Close stops the underlying fsnotify watcher.
func (m *Monitor) Close() error {
	return m.fsw.Close()
}
