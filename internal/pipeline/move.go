package pipeline

import (
	"context"
	"os"
	"strings"

	"github.com/arjunmehta/filedex/internal/events"
	"github.com/arjunmehta/filedex/internal/store"
)

// deleteFulltext best-effort removes uri (and, for a directory,
// descendants) from the full-text sidecar. Called only after the store
// batch that made the removal durable has already succeeded.
func (c *Core) deleteFulltext(uris []string) {
	if c.ft == nil {
		return
	}
	for _, u := range uris {
		_ = c.ft.Delete(u)
	}
}

// performMove resolves one Moved event off the loop goroutine, since it
// needs a store lookup (does the source exist?), a stat of the target
// (does it still exist on disk?) and a policy check (is the target
// accepted?) before it knows which of the four move cases applies
// (§4.5):
//
//   - source in store, target accepted and present on disk: rename in place
//   - source in store, target rejected or vanished: treat as a delete of the source
//   - source not in store, target accepted and present: treat as a create of the target
//   - otherwise: no-op
//
// The target's own existence must be checked with a fresh stat rather
// than trusted from the event: by the time this resolves, a fast
// rename-then-delete or rename-through-a-temp-file sequence upstream may
// have already removed the path the Moved event named. The original
// item_move (tracker-miner-fs.c) queries the target's GFileInfo and
// falls back to item_remove(source) on failure; a vanished target is not
// grounds for a false rename record staying in the store forever.
//
// Descendant URIs are rewritten with a single flat pass over
// ContainedBeneath rather than a recursive walk mirroring the store's own
// tree, since every descendant's URI already carries the source URI as a
// literal string prefix — the "linearized worklist" resolution of the
// reentrant nested move recorded in DESIGN.md.
func (c *Core) performMove(ev events.Event) {
	c.wg.Add(1)
	go c.resolveMove(ev)
}

func (c *Core) resolveMove(ev events.Event) {
	defer c.wg.Done()

	ctx := context.Background()
	sourceURI := ev.From.URI()
	targetURI := ev.To.URI()

	sourceExists, err := c.store.Exists(ctx, sourceURI)
	if err != nil {
		c.postOp(func() { c.log.Warn("move: source lookup failed", "from", ev.From.String(), "error", err) })
		return
	}
	targetAccepted := c.filter.ShouldCheck(ev.To, ev.IsDir)
	_, statErr := os.Stat(ev.To.String())
	targetPresent := statErr == nil

	switch {
	case sourceExists && targetAccepted && targetPresent:
		c.renameInPlace(ctx, ev, sourceURI, targetURI)
	case sourceExists:
		c.dropMovedSubtree(ctx, ev, sourceURI)
	case targetAccepted && targetPresent && ev.IsDir:
		// Neither source nor the store's view of it matter here; the
		// target is a directory that just appeared where policy accepts
		// it, so it needs the same recursive crawl add_directory gives any
		// newly discovered directory (§4.5's "no / yes (dir)" case,
		// tracker-miner-fs.c's monitor_item_moved_cb calling
		// tracker_miner_fs_add_directory(fs, other_file, TRUE)) rather than
		// a single extraction of the directory node itself, which would
		// never discover its children.
		c.AddDirectory(ev.To, true)
	case targetAccepted && targetPresent:
		c.postOp(func() {
			c.enqueue(events.Event{Kind: events.Created, File: ev.To, IsDir: ev.IsDir, DetectedAt: ev.DetectedAt})
		})
	default:
		// Neither side is interesting to the store; nothing to do.
	}
}

func (c *Core) renameInPlace(ctx context.Context, ev events.Event, sourceURI, targetURI string) {
	subjects := []string{sourceURI}
	if ev.IsDir {
		descendants, err := c.store.ContainedBeneath(ctx, sourceURI)
		if err != nil {
			c.postOp(func() { c.log.Warn("move: contained-beneath query failed", "from", ev.From.String(), "error", err) })
			return
		}
		subjects = append(subjects, descendants...)
	}

	b := store.NewBatch()
	for _, subj := range subjects {
		triples, err := c.store.GraphTriples(ctx, subj)
		if err != nil {
			c.postOp(func() { c.log.Warn("move: graph-triples query failed", "subject", subj, "error", err) })
			return
		}
		newSubj, ok := store.RewriteChildURI(subj, sourceURI, targetURI)
		if !ok {
			c.log.Warn("move: child URI outside source, skipped", "child", subj, "source", sourceURI)
			continue
		}
		b.DropGraph(subj)
		for _, t := range triples {
			newObject := t.Object
			if strings.HasPrefix(t.Object, sourceURI) {
				if rewritten, ok := store.RewriteChildURI(t.Object, sourceURI, targetURI); ok {
					newObject = rewritten
				}
			}
			if subj == sourceURI {
				switch t.Predicate {
				case store.PredBelongsToDir:
					newObject = ev.To.Dir().URI()
				case store.PredFileName:
					newObject = ev.To.Base()
				}
			}
			b.Insert(store.Triple{Subject: newSubj, Predicate: t.Predicate, Object: newObject, Graph: newSubj})
		}
	}

	err := c.store.BatchUpdate(ctx, b)
	// The full-text sidecar keys documents by URI. A rename does not carry
	// content to re-submit under the new key, so the old document is left
	// in place rather than deleted outright: a stale hit under the old
	// path is preferable to losing the document from search entirely
	// until its content next changes.
	c.postOp(func() {
		if err != nil {
			c.log.Warn("move: rename batch failed", "from", ev.From.String(), "to", ev.To.String(), "error", err)
			return
		}
		if ev.IsDir {
			c.monitor.Unwatch(ev.From)
			if c.filter.MonitorDirectory(ev.To) {
				if err := c.monitor.Watch(ev.To, false); err != nil {
					c.log.Warn("move: watch failed", "to", ev.To.String(), "error", err)
				}
			}
		}
		c.maybeReportProgress()
	})
}

func (c *Core) dropMovedSubtree(ctx context.Context, ev events.Event, sourceURI string) {
	b := store.NewBatch()
	b.DropGraph(sourceURI)
	dropped := []string{sourceURI}
	if ev.IsDir {
		descendants, err := c.store.ContainedBeneath(ctx, sourceURI)
		if err != nil {
			c.postOp(func() { c.log.Warn("move: contained-beneath query failed", "from", ev.From.String(), "error", err) })
			return
		}
		for _, d := range descendants {
			b.DropGraph(d)
		}
		dropped = append(dropped, descendants...)
	}
	err := c.store.BatchUpdate(ctx, b)
	if err == nil {
		c.deleteFulltext(dropped)
	}
	c.postOp(func() {
		if err != nil {
			c.log.Warn("move: drop batch failed", "from", ev.From.String(), "error", err)
			return
		}
		c.q.RemoveUnderRoot(ev.From)
		c.pool.cancelUnderRoot(ev.From)
		c.monitor.Unwatch(ev.From)
		c.maybeReportProgress()
	})
}
