package pipeline

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/arjunmehta/filedex/internal/events"
	"github.com/arjunmehta/filedex/internal/fileref"
)

// pool is the Processing Pool (C4): a hard cap on in-flight ProcessJobs,
// enforced with a weighted semaphore, plus the bookkeeping needed to
// cancel every job under a removed directory.
type pool struct {
	limit int
	sem   *semaphore.Weighted

	mu   sync.Mutex
	jobs map[string]*events.ProcessJob
}

func newPool(limit int) *pool {
	if limit < 1 {
		limit = 1
	}
	return &pool{
		limit: limit,
		sem:   semaphore.NewWeighted(int64(limit)),
		jobs:  make(map[string]*events.ProcessJob),
	}
}

// tryAcquire attempts to reserve one pool slot without blocking, since
// the scheduler tick must never block the single event-loop goroutine.
func (p *pool) tryAcquire() bool {
	return p.sem.TryAcquire(1)
}

func (p *pool) release() {
	p.sem.Release(1)
}

func (p *pool) add(job *events.ProcessJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[job.File.String()] = job
}

func (p *pool) remove(file fileref.Ref) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.jobs, file.String())
}

func (p *pool) get(file fileref.Ref) (*events.ProcessJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[file.String()]
	return j, ok
}

func (p *pool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// cancelUnderRoot fires the cancel token of, and removes from bookkeeping,
// every in-flight job whose file has root as a prefix. It does not touch
// the semaphore: the cancelled job's own goroutine still observes
// ctx.Done(), still runs completeProcess, and completeProcess is what
// releases the slot exactly once. Releasing here too would double-release
// the same acquire and permanently inflate the pool's effective capacity.
func (p *pool) cancelUnderRoot(root fileref.Ref) []fileref.Ref {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cancelled []fileref.Ref
	for key, job := range p.jobs {
		if job.File.HasPrefix(root) {
			job.Cancel()
			delete(p.jobs, key)
			cancelled = append(cancelled, job.File)
		}
	}
	return cancelled
}
