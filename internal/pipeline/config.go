package pipeline

import (
	"time"

	"github.com/arjunmehta/filedex/internal/events"
)

// MaxTimeoutInterval is the base delay (spec's MAX_TIMEOUT_INTERVAL, in
// milliseconds) the scheduler multiplies by the throttle factor between
// ticks.
const MaxTimeoutInterval = 100 * time.Millisecond

// ShutdownWatchdog is the safety window after a shutdown request before
// the process is forced to exit (§5).
const ShutdownWatchdog = 5 * time.Second

// progressUpdateInterval rate-limits progress notifications to at most
// once per wall-clock second (§4.4).
const progressUpdateInterval = time.Second

// Config controls a Core's runtime behavior. Zero values are replaced
// with the documented defaults by withDefaults.
type Config struct {
	// PoolLimit is the hard cap on in-flight ProcessJobs (C4). Must be
	// >= 1.
	PoolLimit int

	// Throttle paces scheduler ticks; see spec §5. 0 means "no delay".
	Throttle float64

	// FileLocked is a host predicate consulted at tick time (§4.4 step
	// 3); a nil predicate means nothing is ever locked.
	FileLocked func(file string) bool

	// DirectoryContentsVeto lets the host reject an entire subtree after
	// seeing its direct children (§4.1's check_directory_contents).
	DirectoryContentsVeto func(dir string, children []string) bool

	// OnFinished fires once per crawl transition from active to idle
	// (§4.1's "finished" signal).
	OnFinished func(stats events.FinishedStats)

	// OnProgress fires at most once per wall-clock second with the
	// current crawl's completion ratio and the cumulative counters
	// across every completed and in-flight crawl (§4.4 step 2, §4.4's
	// progress rate limit).
	OnProgress func(progress events.Progress)
}

func (c Config) withDefaults() Config {
	if c.PoolLimit < 1 {
		c.PoolLimit = 4
	}
	if c.Throttle < 0 || c.Throttle > 1 {
		c.Throttle = 0
	}
	return c
}
