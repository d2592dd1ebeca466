// Package events defines the typed event union and job bookkeeping
// structures that flow from the crawl/monitor sources through the
// indexing pipeline.
package events

import (
	"context"
	"time"

	"github.com/arjunmehta/filedex/internal/fileref"
)

// Kind identifies which case of EventKind an Event carries.
type Kind int

const (
	// Created indicates a file or directory was newly discovered or
	// created.
	Created Kind = iota
	// Updated indicates an existing file's content or metadata changed.
	Updated
	// Deleted indicates a file or directory no longer exists.
	Deleted
	// Moved indicates a rename or relocation, tracked via From/To.
	Moved
)

// String returns a human-readable name for the event kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is the tagged union produced by the event source adapter (C1).
// Only the fields relevant to Kind are populated; Moved is the only case
// using From/To/SourceMonitored.
type Event struct {
	Kind            Kind
	File            fileref.Ref
	IsDir           bool
	From            fileref.Ref
	To              fileref.Ref
	SourceMonitored bool
	DetectedAt      time.Time
}

// DirectoryTask is a unit of crawl work: walk root, recursing into
// subdirectories iff Recurse is set.
type DirectoryTask struct {
	Root    fileref.Ref
	Recurse bool
}

// CancelToken is the cancellation handle a ProcessJob exposes to its
// extractor invocation and any outstanding store I/O. It is a thin alias
// over context.CancelFunc so callers can fire it without importing
// context themselves.
type CancelToken = context.CancelFunc

// ProcessJob is a single file's journey through the processing pool: at
// most one exists per FileRef at any instant (enforced by the pool, see
// internal/pipeline).
type ProcessJob struct {
	ID      string
	File    fileref.Ref
	IsDir   bool
	Ctx     context.Context
	Cancel  CancelToken
	Started time.Time
}

// ItemMoved is the payload carried in the moved queue.
type ItemMoved struct {
	From            fileref.Ref
	To              fileref.Ref
	IsDir           bool
	SourceMonitored bool
}

// Counters tracks per-run and cumulative crawl statistics.
type Counters struct {
	DirectoriesFound   int64
	DirectoriesIgnored int64
	FilesFound         int64
	FilesIgnored       int64
}

// Add accumulates other into c, used to fold a run's counters into the
// cumulative total.
func (c *Counters) Add(other Counters) {
	c.DirectoriesFound += other.DirectoriesFound
	c.DirectoriesIgnored += other.DirectoriesIgnored
	c.FilesFound += other.FilesFound
	c.FilesIgnored += other.FilesIgnored
}

// FinishedStats is the payload of the "finished" signal, fired exactly
// once per crawl transition from active to idle.
type FinishedStats struct {
	Elapsed            time.Duration
	DirectoriesFound   int64
	DirectoriesIgnored int64
	FilesFound         int64
	FilesIgnored       int64
}

// Progress is the payload of the "progress" signal: Ratio is
// (total-remaining)/total for the current crawl, clamped to [0,1] and
// monotonic nondecreasing since the last process_stop; Cumulative carries
// the running counters across every completed and in-flight crawl.
type Progress struct {
	Ratio      float64
	Cumulative Counters
}
