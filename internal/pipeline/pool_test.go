package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/filedex/internal/events"
	"github.com/arjunmehta/filedex/internal/fileref"
)

func newTestJob(path string) (*events.ProcessJob, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	return &events.ProcessJob{File: fileref.New(path), Ctx: ctx, Cancel: cancel}, cancel
}

func TestPool_TryAcquireRespectsLimit(t *testing.T) {
	p := newPool(2)

	require.True(t, p.tryAcquire())
	require.True(t, p.tryAcquire())
	assert.False(t, p.tryAcquire(), "a third acquire must fail once the limit is reached")

	p.release()
	assert.True(t, p.tryAcquire(), "releasing one slot must free capacity for one more acquire")
}

func TestPool_AddRemoveGet(t *testing.T) {
	p := newPool(4)
	job, _ := newTestJob("/a/f.txt")

	p.add(job)
	got, ok := p.get(job.File)
	require.True(t, ok)
	assert.Equal(t, job, got)
	assert.Equal(t, 1, p.len())

	p.remove(job.File)
	_, ok = p.get(job.File)
	assert.False(t, ok)
	assert.Equal(t, 0, p.len())
}

func TestPool_CancelUnderRootDoesNotDoubleReleaseTheSemaphore(t *testing.T) {
	p := newPool(1)
	require.True(t, p.tryAcquire(), "simulate the tick-time acquire dispatchProcess would have made")

	job, cancel := newTestJob("/root/sub/f.txt")
	p.add(job)

	cancelled := p.cancelUnderRoot(fileref.New("/root"))
	require.Len(t, cancelled, 1)
	assert.Equal(t, 0, p.len())

	// The slot must still look held: cancelUnderRoot must not have
	// released it. Only the eventual completeProcess call (simulated
	// here as p.release) should free it.
	assert.False(t, p.tryAcquire(), "cancelUnderRoot must not release the semaphore itself")

	select {
	case <-job.Ctx.Done():
	default:
		t.Fatal("cancelUnderRoot must fire the job's cancel token")
	}
	_ = cancel

	p.release()
	assert.True(t, p.tryAcquire(), "the single release from completeProcess must free exactly one slot")
}

func TestPool_CancelUnderRootLeavesSiblingsUntouched(t *testing.T) {
	p := newPool(4)
	inRoot, _ := newTestJob("/root/f.txt")
	sibling, _ := newTestJob("/other/f.txt")
	p.add(inRoot)
	p.add(sibling)

	cancelled := p.cancelUnderRoot(fileref.New("/root"))

	assert.Len(t, cancelled, 1)
	_, ok := p.get(sibling.File)
	assert.True(t, ok)
}
