package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/arjunmehta/filedex/internal/events"
	"github.com/arjunmehta/filedex/internal/fileref"
)

// GitSource compares a working tree against HEAD to surface files git
// considers modified but that fsnotify's debounce window coalesced away
// (rapid editor save sequences, checkouts, stash pops). It reports
// through the same Monitor output channel, tagged SourceGit, and is
// lowest priority behind live fsnotify events but ahead of the periodic
// fallback in the sense that it runs on every fsnotify burst rather than
// on a fixed timer.
type GitSource struct {
	repo *git.Repository
	root fileref.Ref
	log  *slog.Logger
}

// OpenGitSource opens root (or whichever of its ancestors holds the
// .git directory) as a git working tree. It returns (nil, nil) if root
// is not inside a git repository, which callers treat as "no git source
// available" rather than an error.
func OpenGitSource(root fileref.Ref, log *slog.Logger) (*GitSource, error) {
	repo, err := git.PlainOpenWithOptions(root.String(), &git.PlainOpenOptions{DetectDotGit: true})
	if err == git.ErrRepositoryNotExists {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	// Status paths come back relative to the worktree root, which may sit
	// above root if root is a subdirectory of a repository discovered via
	// DetectDotGit — join against that, not the argument, or Poll's paths
	// would be wrong for anything but the repository's top level.
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	worktreeRoot := fileref.New(wt.Filesystem.Root())

	return &GitSource{repo: repo, root: worktreeRoot, log: log}, nil
}

// Root returns the worktree root this source compares against HEAD, used
// by the Monitor to decide which fsnotify bursts should trigger a Poll.
func (g *GitSource) Root() fileref.Ref { return g.root }

// Poll compares the working tree status against HEAD and returns any
// modified/untracked paths as MonitorEvents, deduplicated by the caller's
// dedupe window once fed through Monitor.dispatch.
func (g *GitSource) Poll(_ context.Context) ([]MonitorEvent, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []MonitorEvent
	for path, st := range status {
		ref := fileref.New(g.joinRoot(path))
		kind, ok := gitStatusKind(st)
		if !ok {
			continue
		}
		out = append(out, MonitorEvent{
			Kind:   kind,
			File:   ref,
			Source: SourceGit,
			Time:   now,
		})
	}
	return out, nil
}

func (g *GitSource) joinRoot(relPath string) string {
	return filepath.Join(g.root.String(), relPath)
}

func gitStatusKind(st *git.FileStatus) (events.Kind, bool) {
	switch st.Worktree {
	case git.Untracked, git.Added:
		return events.Created, true
	case git.Modified:
		return events.Updated, true
	case git.Deleted:
		return events.Deleted, true
	case git.Renamed:
		return events.Updated, true
	default:
		return 0, false
	}
}
