package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/filedex/internal/events"
	"github.com/arjunmehta/filedex/internal/fileref"
)

func ev(kind events.Kind, path string) events.Event {
	return events.Event{Kind: kind, File: fileref.New(path), DetectedAt: time.Now()}
}

func TestPop_PriorityOrder(t *testing.T) {
	s := New()
	s.Push(ev(events.Moved, "/a/moved"))
	s.Push(ev(events.Updated, "/a/updated"))
	s.Push(ev(events.Created, "/a/created"))
	s.Push(ev(events.Deleted, "/a/deleted"))

	var order []events.Kind
	for {
		got, ok := s.Pop()
		if !ok {
			break
		}
		order = append(order, got.Kind)
	}

	assert.Equal(t, []events.Kind{events.Deleted, events.Created, events.Updated, events.Moved}, order)
}

func TestPush_DeletedCompactsPendingCreatedForSameFile(t *testing.T) {
	s := New()
	s.Push(ev(events.Created, "/a/file"))
	s.Push(ev(events.Deleted, "/a/file"))

	require.Equal(t, 1, s.Len(), "the compacted Created entry must not still be queued")

	got, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, events.Deleted, got.Kind)

	_, ok = s.Pop()
	assert.False(t, ok)
}

func TestPeekKind_DoesNotRemove(t *testing.T) {
	s := New()
	s.Push(ev(events.Created, "/a/file"))

	kind, ok := s.PeekKind()
	require.True(t, ok)
	assert.Equal(t, events.Created, kind)
	assert.Equal(t, 1, s.Len(), "PeekKind must not dequeue")

	_, ok = s.Pop()
	require.True(t, ok)
	_, ok = s.PeekKind()
	assert.False(t, ok)
}

func TestEmpty(t *testing.T) {
	s := New()
	assert.True(t, s.Empty())
	s.Push(ev(events.Created, "/a/file"))
	assert.False(t, s.Empty())
}

func TestRemoveUnderRoot_PurgesDescendantsOnly(t *testing.T) {
	s := New()
	s.Push(ev(events.Created, "/root/a"))
	s.Push(ev(events.Updated, "/root/sub/b"))
	s.Push(ev(events.Created, "/other/c"))
	s.Push(ev(events.Deleted, "/root/d"))

	removed := s.RemoveUnderRoot(fileref.New("/root"))

	assert.Len(t, removed, 2)
	assert.Equal(t, 2, s.Len(), "the sibling Created and the untouched Deleted must remain")
}
