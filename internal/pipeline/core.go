// Package pipeline wires the crawler, monitor, indexing policy filter,
// priority queue, processing pool, extractor contract, and store into the
// single scheduler loop described in spec §4.4 (C5) and §4.1 (C1). Every
// mutation of shared pipeline state happens on one goroutine, reached
// exclusively through Core's ops channel; everything that can block
// (filesystem I/O, extraction, store queries) runs on its own goroutine
// and reports its result back onto that channel.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arjunmehta/filedex/extractor"
	"github.com/arjunmehta/filedex/internal/crawl"
	"github.com/arjunmehta/filedex/internal/errs"
	"github.com/arjunmehta/filedex/internal/events"
	"github.com/arjunmehta/filedex/internal/fileref"
	"github.com/arjunmehta/filedex/internal/fulltext"
	"github.com/arjunmehta/filedex/internal/policy"
	"github.com/arjunmehta/filedex/internal/queue"
	"github.com/arjunmehta/filedex/internal/store"
	"github.com/arjunmehta/filedex/internal/watch"
)

// Core is the mining pipeline: the event source adapter (C1) and
// scheduler (C5) fused into one object, driving the queue (C3), pool
// (C4), policy filter (C2), and the store, extractor, crawler and
// monitor collaborators.
type Core struct {
	cfg Config
	log *slog.Logger

	q       *queue.Set
	pool    *pool
	filter  *policy.Filter
	store   *store.Store
	monitor *watch.Monitor
	extr    extractor.Extractor
	ft      *fulltext.Index // nil disables the full-text sidecar
	barrier *pauseBarrier

	ops     chan func()
	baseCtx context.Context
	wg      sync.WaitGroup

	throttleMu sync.RWMutex
	throttle   float64

	// The following fields are only ever touched from inside a closure
	// run on ops, so they need no lock of their own.
	roots       map[string]events.DirectoryTask
	beenCrawled map[string]bool
	cumulative  events.Counters

	// idle, currentRun, totalEnqueued, lastRatio, and crawlStarted track
	// the active-crawl session process_stop (§4.4 step 2) and progress
	// (§4.4's progress ratio) depend on. idle starts true so the very
	// first AddDirectory call is itself treated as the start of a fresh
	// session; it flips back to true exactly once the queue drains, the
	// pool empties, and no crawl is still walking.
	idle          bool
	currentRun    events.Counters
	totalEnqueued int64
	lastRatio     float64
	crawlStarted  time.Time
	activeCrawls  int

	lastProgress time.Time
	timer        *time.Timer
}

// New assembles a Core. filter must already be constructed against st
// (policy.New's FreshnessChecker argument).
func New(cfg Config, log *slog.Logger, st *store.Store, filter *policy.Filter, mon *watch.Monitor, extr extractor.Extractor, ft *fulltext.Index) *Core {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Core{
		cfg:         cfg,
		log:         log,
		q:           queue.New(),
		pool:        newPool(cfg.PoolLimit),
		filter:      filter,
		store:       st,
		monitor:     mon,
		extr:        extr,
		ft:          ft,
		barrier:     newPauseBarrier(),
		ops:         make(chan func(), 4096),
		throttle:    cfg.Throttle,
		roots:       make(map[string]events.DirectoryTask),
		beenCrawled: make(map[string]bool),
		idle:        true,
	}
}

// Run starts the scheduler loop, the monitor's read loop, and the
// monitor-event pump, all governed by ctx. Run returns immediately; the
// pipeline keeps running until ctx is cancelled.
func (c *Core) Run(ctx context.Context) {
	c.baseCtx = ctx
	c.monitor.Start(ctx)
	go c.pumpMonitorEvents(ctx)
	go c.loop(ctx)
	c.armTimer()
}

// Shutdown waits for outstanding background work (in-flight extractions,
// store commits, crawls) to drain, up to ShutdownWatchdog, then closes the
// monitor and checkpoints the store regardless.
func (c *Core) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownWatchdog):
		c.log.Warn("shutdown watchdog elapsed with work still outstanding")
	case <-ctx.Done():
	}
	_ = c.monitor.Close()
	return c.store.Commit(context.Background())
}

// Pause engages the pause barrier; the scheduler stops dequeuing until
// Resume is called (§4.4's throttle/pause behavior at the top of the
// tick).
func (c *Core) Pause() { c.barrier.engage() }

// Resume releases the pause barrier.
func (c *Core) Resume() { c.barrier.release() }

// SetThrottle adjusts the scheduler's inter-tick delay factor, clamped to
// [0, 1], and re-arms the pending tick immediately so the new pacing
// takes effect on the next tick rather than after whatever timer was
// already outstanding fires.
func (c *Core) SetThrottle(x float64) {
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	c.throttleMu.Lock()
	c.throttle = x
	c.throttleMu.Unlock()

	if c.baseCtx != nil {
		c.postOp(func() {
			if c.timer != nil {
				c.timer.Stop()
			}
			c.armTimer()
		})
	}
}

// GetThrottle returns the current throttle factor.
func (c *Core) GetThrottle() float64 {
	c.throttleMu.RLock()
	defer c.throttleMu.RUnlock()
	return c.throttle
}

// AddDirectory registers root for crawling and, once accepted entries
// stream in, for live monitoring (§4.1, §6's add_directory host call).
func (c *Core) AddDirectory(root fileref.Ref, recurse bool) {
	c.monitor.AttachGitSource(root)
	c.postOp(func() {
		if c.idle {
			// The pipeline was fully drained before this call, so this
			// is a fresh crawl session (invariant 5: progress resets
			// only when a fresh crawl starts).
			c.totalEnqueued = 0
			c.lastRatio = 0
			c.currentRun = events.Counters{}
			c.crawlStarted = time.Now()
		}
		c.idle = false
		c.roots[root.String()] = events.DirectoryTask{Root: root, Recurse: recurse}
		c.activeCrawls++
	})
	c.wg.Add(1)
	go c.crawlRoot(root, recurse)
}

// RemoveDirectory tears down root: purges pending queue entries and
// in-flight jobs beneath it, unwatches it, and schedules a store subtree
// delete (§4.3's remove_directory, §6's remove_directory host call).
func (c *Core) RemoveDirectory(root fileref.Ref) {
	c.postOp(func() {
		delete(c.roots, root.String())
		delete(c.beenCrawled, root.String())
		c.q.RemoveUnderRoot(root)
		c.pool.cancelUnderRoot(root)
		c.monitor.Unwatch(root)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ctx := context.Background()
			uris, err := c.store.ContainedBeneath(ctx, root.URI())
			if err != nil {
				c.log.Warn("contained-beneath query failed during remove_directory", "root", root.String(), "error", err)
				return
			}
			b := store.NewBatch()
			b.DropGraph(root.URI())
			for _, u := range uris {
				b.DropGraph(u)
			}
			if err := c.store.BatchUpdate(ctx, b); err != nil {
				c.log.Warn("store update failed during remove_directory", "root", root.String(), "error", err)
			}
		}()
	})
}

// loop is the single serializing goroutine: every mutation of q, pool
// bookkeeping, roots, or counters happens here.
func (c *Core) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.ops:
			fn()
		}
	}
}

// postOp hands fn to the loop goroutine, blocking only until either the
// send succeeds or the pipeline's context is cancelled (so callers on
// other goroutines never leak waiting on a stopped loop).
func (c *Core) postOp(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.baseCtx.Done():
	}
}

// armTimer schedules the next scheduler tick, spaced by MaxTimeoutInterval
// directly proportional to the current throttle factor (§5): throttle 0
// reduces the interval to zero, the closest Go equivalent of the original
// scheduler's g_idle_add fallback, and throttle 1 waits a full
// MaxTimeoutInterval between ticks. Run calls it once to arm the first
// tick; after that only the loop goroutine calls it, and c.timer has no
// lock of its own.
func (c *Core) armTimer() {
	interval := time.Duration(float64(MaxTimeoutInterval) * c.GetThrottle())
	c.timer = time.AfterFunc(interval, func() {
		c.postOp(c.tick)
	})
}

// tick is one scheduler cycle (§4.4 steps 1-5): pause check, pool-full
// check, priority pop, file-locked deferral, and dispatch by kind. It
// always runs on the loop goroutine.
func (c *Core) tick() {
	defer c.armTimer()

	if c.barrier.isEngaged() {
		return
	}
	kind, ok := c.q.PeekKind()
	if !ok {
		c.maybeProcessStop()
		return
	}
	needsPoolSlot := kind == events.Created || kind == events.Updated
	if needsPoolSlot && !c.pool.tryAcquire() {
		return
	}

	ev, ok := c.q.Pop()
	if !ok {
		if needsPoolSlot {
			c.pool.release()
		}
		return
	}

	if needsPoolSlot && c.cfg.FileLocked != nil && c.cfg.FileLocked(ev.File.String()) {
		c.pool.release()
		c.q.Push(ev)
		return
	}
	if needsPoolSlot {
		if _, busy := c.pool.get(ev.File); busy {
			c.pool.release()
			c.q.Push(ev)
			return
		}
	}

	switch ev.Kind {
	case events.Deleted:
		c.dispatchDeleted(ev)
	case events.Created, events.Updated:
		c.dispatchProcess(ev)
	case events.Moved:
		c.performMove(ev)
	}
}

// enqueue pushes ev and counts it toward this session's progress total.
// It also reopens the active window: a live monitor event arriving after
// the pipeline already went idle (process_stop already fired once) must
// clear idle so that the next drain fires process_stop again, rather
// than being silently swallowed by the previous transition's guard.
// Always called from the loop goroutine.
func (c *Core) enqueue(ev events.Event) {
	c.idle = false
	c.totalEnqueued++
	c.q.Push(ev)
}

// dispatchProcess starts one file's extraction under a pool slot already
// reserved by tick. The extractor call and the resulting store write both
// run off the loop goroutine; only the bookkeeping steps come back
// through postOp.
func (c *Core) dispatchProcess(ev events.Event) {
	ctx, cancel := context.WithCancel(c.baseCtx)
	job := &events.ProcessJob{
		ID:      uuid.NewString(),
		File:    ev.File,
		IsDir:   ev.IsDir,
		Ctx:     ctx,
		Cancel:  cancel,
		Started: time.Now(),
	}
	c.pool.add(job)

	c.wg.Add(1)
	go c.runExtraction(job, ev)
}

func (c *Core) runExtraction(job *events.ProcessJob, ev events.Event) {
	defer c.wg.Done()
	defer job.Cancel()

	builder := extractor.NewMutationBuilder(job.File.URI())
	notifyCh := make(chan error, 1)
	var notified atomic.Bool
	notify := func(_ fileref.Ref, err error) {
		notified.Store(true)
		select {
		case notifyCh <- err:
		default:
		}
	}

	accepted := c.extr.ProcessFile(job.Ctx, job.File, job.IsDir, builder, notify)
	if !accepted {
		// A plain decline (notify never called) is the ordinary
		// process_file(file) == FALSE path: the pool slot is freed and
		// nothing else happens. Only a decline after notify already
		// fired violates the contract.
		var declineErr error
		if notified.Load() {
			declineErr = errs.ErrExtractorContractViolated
		}
		c.postOp(func() { c.completeProcess(job, ev, nil, declineErr) })
		return
	}

	var err error
	select {
	case err = <-notifyCh:
	case <-job.Ctx.Done():
		err = errs.Wrap(errs.TierDegrading, "extraction cancelled", job.Ctx.Err())
	}
	c.postOp(func() { c.completeProcess(job, ev, builder, err) })
}

// completeProcess releases the pool slot and, on success, schedules the
// store write that turns the builder's triples into a durable update.
func (c *Core) completeProcess(job *events.ProcessJob, ev events.Event, builder *extractor.MutationBuilder, err error) {
	c.pool.remove(job.File)
	c.pool.release()

	if err != nil {
		c.log.Warn("extraction failed", "file", job.File.String(), "tier", errs.TierOf(err), "error", err)
		return
	}
	if builder == nil {
		return
	}

	c.wg.Add(1)
	go c.commitExtraction(ev, builder)
}

func (c *Core) commitExtraction(ev events.Event, builder *extractor.MutationBuilder) {
	defer c.wg.Done()

	b := store.NewBatch()
	b.DropGraph(builder.Graph())
	for _, t := range builder.Triples() {
		b.Insert(t)
	}
	err := c.store.BatchUpdate(context.Background(), b)

	if err == nil && c.ft != nil && builder.Content() != "" {
		if ferr := c.ft.Submit(builder.Graph(), fulltext.Document{
			URI:     builder.Graph(),
			Name:    ev.File.Base(),
			Path:    ev.File.String(),
			Content: builder.Content(),
		}); ferr != nil {
			c.log.Warn("fulltext submit failed", "file", ev.File.String(), "error", ferr)
		}
	}

	c.postOp(func() { c.afterCommit(ev, err) })
}

func (c *Core) afterCommit(ev events.Event, err error) {
	if err != nil {
		c.log.Warn("store update failed", "file", ev.File.String(), "error", err)
		return
	}
	if ev.IsDir {
		c.cumulative.DirectoriesFound++
		c.currentRun.DirectoriesFound++
	} else {
		c.cumulative.FilesFound++
		c.currentRun.FilesFound++
	}
	c.maybeCommitStore(ev.File)
	c.maybeReportProgress()
}

// dispatchDeleted purges any pending queue entries and in-flight jobs
// under the deleted path, then drops its graph (and, for a directory,
// every graph beneath it) in one background store update (§4.4 step 4).
// A deleted file the store does not know is skipped without an update.
func (c *Core) dispatchDeleted(ev events.Event) {
	c.q.RemoveUnderRoot(ev.File)
	c.pool.cancelUnderRoot(ev.File)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := context.Background()
		if !ev.IsDir {
			if ok, err := c.store.Exists(ctx, ev.File.URI()); err == nil && !ok {
				return
			}
		}
		b := store.NewBatch()
		b.DropGraph(ev.File.URI())
		if ev.IsDir {
			uris, err := c.store.ContainedBeneath(ctx, ev.File.URI())
			if err != nil {
				c.postOp(func() { c.log.Warn("contained-beneath query failed", "file", ev.File.String(), "error", err) })
				return
			}
			for _, u := range uris {
				b.DropGraph(u)
			}
		}
		err := c.store.BatchUpdate(ctx, b)
		if err == nil && c.ft != nil {
			_ = c.ft.Delete(ev.File.URI())
		}
		c.postOp(func() { c.afterDelete(ev, err) })
	}()
}

func (c *Core) afterDelete(ev events.Event, err error) {
	if err != nil {
		c.log.Warn("store delete failed", "file", ev.File.String(), "error", err)
		return
	}
	c.maybeCommitStore(ev.File)
	c.maybeReportProgress()
}

// maybeCommitStore checkpoints the store immediately once a root's
// initial crawl has finished (§4.4's "commit after every post-crawl
// success" rule); during the crawl itself, updates accumulate and are
// committed only at process_stop (maybeProcessStop), avoiding a
// checkpoint per file while a large tree is still being discovered.
func (c *Core) maybeCommitStore(file fileref.Ref) {
	for rootKey, task := range c.roots {
		root := task.Root
		if !file.HasPrefix(root) {
			continue
		}
		if c.beenCrawled[rootKey] {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				if err := c.store.Commit(context.Background()); err != nil {
					c.log.Warn("store commit failed", "error", err)
				}
			}()
		}
		return
	}
}

// progressRatio computes (total-remaining)/total for the current crawl
// session, clamped to [0,1] and held to be monotonic nondecreasing since
// the last process_stop (invariant 5): remaining counts whatever is still
// queued or in the processing pool, so the ratio only ever goes up as
// that backlog drains, never down, even when totalEnqueued keeps growing
// while discovery is still under way. Only ever called from the loop
// goroutine.
func (c *Core) progressRatio() float64 {
	total := c.totalEnqueued
	if total <= 0 {
		return c.lastRatio
	}
	remaining := int64(c.q.Len() + c.pool.len())
	ratio := float64(total-remaining) / float64(total)
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}
	if ratio < c.lastRatio {
		ratio = c.lastRatio
	}
	c.lastRatio = ratio
	return ratio
}

func (c *Core) maybeReportProgress() {
	if c.cfg.OnProgress == nil {
		return
	}
	now := time.Now()
	if now.Sub(c.lastProgress) < progressUpdateInterval {
		return
	}
	c.lastProgress = now
	c.cfg.OnProgress(events.Progress{Ratio: c.progressRatio(), Cumulative: c.cumulative})
}

// maybeProcessStop implements §4.4 step 2's idle transition: once the
// queue is drained, the pool is empty, and no crawl is still walking the
// filesystem, the pipeline has gone from active to idle. idle guards
// against re-firing on every subsequent tick while the system stays
// quiescent; it clears again the next time AddDirectory starts a fresh
// session or enqueue receives a new event. Mirrors the original scheduler's process_stop: commit,
// emit the finished signal, and force progress to 1.0.
func (c *Core) maybeProcessStop() {
	if c.idle || c.activeCrawls > 0 || c.pool.len() > 0 || !c.q.Empty() {
		return
	}
	c.idle = true
	c.lastRatio = 1.0

	stats := events.FinishedStats{
		Elapsed:            time.Since(c.crawlStarted),
		DirectoriesFound:   c.currentRun.DirectoriesFound,
		DirectoriesIgnored: c.currentRun.DirectoriesIgnored,
		FilesFound:         c.currentRun.FilesFound,
		FilesIgnored:       c.currentRun.FilesIgnored,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.store.Commit(context.Background()); err != nil {
			c.log.Warn("process_stop commit failed", "error", err)
		}
	}()

	if c.cfg.OnFinished != nil {
		c.cfg.OnFinished(stats)
	}
	c.lastProgress = time.Now()
	if c.cfg.OnProgress != nil {
		c.cfg.OnProgress(events.Progress{Ratio: 1.0, Cumulative: c.cumulative})
	}
}

// crawlRoot runs one Crawler.Walk for root off the loop goroutine,
// pushing every accepted entry back through postOp.
func (c *Core) crawlRoot(root fileref.Ref, recurse bool) {
	defer c.wg.Done()

	ctx := c.baseCtx
	start := time.Now()
	var local events.Counters

	crawler := crawl.New(crawl.Callbacks{
		CheckFile: func(file fileref.Ref) bool {
			decision, err := c.filter.ShouldProcess(ctx, file, false)
			if err != nil {
				c.log.Warn("policy check failed", "file", file.String(), "error", err)
				return false
			}
			if !decision.Accepted {
				local.FilesIgnored++
				return false
			}
			local.FilesFound++
			c.postOp(func() {
				c.enqueue(events.Event{Kind: events.Created, File: file, IsDir: false, DetectedAt: time.Now()})
			})
			return true
		},
		CheckDirectory: func(dir fileref.Ref) bool {
			if !c.filter.ShouldCheck(dir, true) {
				local.DirectoriesIgnored++
				return false
			}
			return true
		},
		CheckDirectoryContents: func(dir fileref.Ref, children []fileref.Ref) bool {
			if c.cfg.DirectoryContentsVeto != nil {
				names := make([]string, len(children))
				for i, ch := range children {
					names[i] = ch.String()
				}
				if !c.cfg.DirectoryContentsVeto(dir.String(), names) {
					local.DirectoriesIgnored++
					return false
				}
			}

			decision, err := c.filter.ShouldProcess(ctx, dir, true)
			if err != nil {
				c.log.Warn("policy check failed", "dir", dir.String(), "error", err)
				return true
			}
			if decision.Accepted {
				if !decision.ContentsOnly {
					local.DirectoriesFound++
					c.postOp(func() {
						c.enqueue(events.Event{Kind: events.Created, File: dir, IsDir: true, DetectedAt: time.Now()})
					})
				}
				if c.filter.MonitorDirectory(dir) {
					if err := c.monitor.Watch(dir, false); err != nil {
						c.log.Warn("watch failed", "dir", dir.String(), "error", err)
					}
				}
			}
			return true
		},
		Finished: func(r fileref.Ref) {
			elapsed := time.Since(start)
			c.postOp(func() { c.onCrawlFinished(r, local, elapsed) })
		},
	})

	if err := crawler.Walk(ctx, root, recurse); err != nil && ctx.Err() == nil {
		c.log.Warn("crawl failed", "root", root.String(), "error", err)
	}
}

// onCrawlFinished folds one root's walk into the session's counters. It
// does not itself commit or emit the finished signal: a walk finishing
// only means discovery for that root is done, not that the pipeline has
// gone idle, since everything that walk enqueued may still be sitting in
// the queue or pool. Those belong to maybeProcessStop, the active→idle
// transition (§4.4 step 2), which this call gives a chance to fire in
// case the queue and pool were already empty by the time the walk ends.
func (c *Core) onCrawlFinished(root fileref.Ref, local events.Counters, elapsed time.Duration) {
	c.cumulative.DirectoriesIgnored += local.DirectoriesIgnored
	c.cumulative.FilesIgnored += local.FilesIgnored
	c.currentRun.DirectoriesIgnored += local.DirectoriesIgnored
	c.currentRun.FilesIgnored += local.FilesIgnored
	c.beenCrawled[root.String()] = true
	c.activeCrawls--
	c.log.Info("crawl finished", "root", root.String(), "elapsed", elapsed,
		"files_found", local.FilesFound, "dirs_found", local.DirectoriesFound)

	c.maybeProcessStop()
}

// pumpMonitorEvents translates the Monitor's fused event stream into
// queue pushes, running the (potentially blocking) policy freshness check
// off the loop goroutine.
func (c *Core) pumpMonitorEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case mev, ok := <-c.monitor.Events():
			if !ok {
				return
			}
			c.handleMonitorEvent(ctx, mev)
		}
	}
}

func (c *Core) handleMonitorEvent(ctx context.Context, mev watch.MonitorEvent) {
	switch mev.Kind {
	case events.Deleted:
		c.postOp(func() {
			c.enqueue(events.Event{Kind: events.Deleted, File: mev.File, IsDir: mev.IsDir, DetectedAt: time.Now()})
		})
	case events.Moved:
		c.postOp(func() {
			c.enqueue(events.Event{
				Kind: events.Moved, From: mev.From, To: mev.File, IsDir: mev.IsDir,
				SourceMonitored: mev.SourceMonitored, DetectedAt: time.Now(),
			})
		})
	default:
		if mev.Kind == events.Created && mev.IsDir {
			// A newly created directory must be recursively crawled, not
			// enqueued as a single extraction: fsnotify only reports the
			// directory's own creation, never its pre-existing children,
			// so treating this like an ordinary Created would index the
			// directory node itself and never discover what is already
			// inside it (§4.3's "if the target is a directory, instead
			// schedule a recursive DirectoryTask", mirroring
			// monitor_item_created_cb's tracker_miner_fs_add_directory(fs,
			// file, TRUE)). AddDirectory's own crawl re-applies
			// should_process to the directory itself and handles both its
			// Created enqueue and its monitor subscription exactly as the
			// initial crawl does for any other root.
			c.AddDirectory(mev.File, true)
			return
		}

		decision, err := c.filter.ShouldProcess(ctx, mev.File, mev.IsDir)
		if err != nil {
			c.log.Warn("policy check failed", "file", mev.File.String(), "error", err)
			return
		}
		if !decision.Accepted || decision.ContentsOnly {
			return
		}
		c.postOp(func() {
			c.enqueue(events.Event{Kind: mev.Kind, File: mev.File, IsDir: mev.IsDir, DetectedAt: time.Now()})
		})
	}
}
