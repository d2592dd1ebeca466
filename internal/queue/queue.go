// Package queue implements the four-priority FIFO queue set (C3) that
// sits between the indexing policy filter and the scheduler.
package queue

import (
	"container/list"

	"github.com/arjunmehta/filedex/internal/events"
	"github.com/arjunmehta/filedex/internal/fileref"
)

// Priority is the strict dequeue order: deletes win ties so a file
// created then deleted cannot produce a spurious insert.
var Priority = [4]events.Kind{events.Deleted, events.Created, events.Updated, events.Moved}

// entry is what each queue's linked list actually stores; keeping the
// event alongside the list element lets Set do O(1) removal-by-token for
// compaction.
type entry struct {
	event events.Event
}

// Set holds the four FIFOs plus the side index used to compact pending
// Created/Updated entries when a Deleted arrives for the same file (the
// Open Question in spec §9 resolved in favor of compaction, see
// DESIGN.md).
type Set struct {
	lists map[events.Kind]*list.List
	// index maps a FileRef's canonical path to its live element in the
	// created or updated list, so a later Deleted can remove it in O(1).
	index map[string]*list.Element
	// indexKind records which list an indexed element lives in, since
	// FileRef alone doesn't say.
	indexKind map[string]events.Kind
}

// New returns an empty Set.
func New() *Set {
	s := &Set{
		lists:     make(map[events.Kind]*list.List, 4),
		index:     make(map[string]*list.Element),
		indexKind: make(map[string]events.Kind),
	}
	for _, k := range Priority {
		s.lists[k] = list.New()
	}
	return s
}

// Push enqueues an event onto the queue matching its Kind. Pushing a
// Deleted event first removes the most recently pushed pending
// Created/Updated entry for the same file (the side index tracks only
// that one), per the compaction decision in DESIGN.md.
func (s *Set) Push(ev events.Event) {
	if ev.Kind == events.Deleted {
		s.compact(ev.File)
	}
	l := s.lists[ev.Kind]
	elem := l.PushBack(entry{event: ev})
	if ev.Kind == events.Created || ev.Kind == events.Updated {
		key := ev.File.String()
		s.index[key] = elem
		s.indexKind[key] = ev.Kind
	}
}

func (s *Set) compact(file fileref.Ref) {
	key := file.String()
	elem, ok := s.index[key]
	if !ok {
		return
	}
	kind := s.indexKind[key]
	s.lists[kind].Remove(elem)
	delete(s.index, key)
	delete(s.indexKind, key)
}

// Pop dequeues the next event in priority order (Deleted > Created >
// Updated > Moved), returning ok=false when every queue is empty.
func (s *Set) Pop() (events.Event, bool) {
	for _, k := range Priority {
		l := s.lists[k]
		front := l.Front()
		if front == nil {
			continue
		}
		l.Remove(front)
		ev := front.Value.(entry).event
		if k == events.Created || k == events.Updated {
			key := ev.File.String()
			if s.index[key] == front {
				delete(s.index, key)
				delete(s.indexKind, key)
			}
		}
		return ev, true
	}
	return events.Event{}, false
}

// PeekKind reports the Kind of the next entry Pop would return, without
// removing it, so the scheduler can check pool capacity before committing
// to a dequeue.
func (s *Set) PeekKind() (events.Kind, bool) {
	for _, k := range Priority {
		if s.lists[k].Len() > 0 {
			return k, true
		}
	}
	return 0, false
}

// Empty reports whether every queue is empty.
func (s *Set) Empty() bool {
	for _, k := range Priority {
		if s.lists[k].Len() > 0 {
			return false
		}
	}
	return true
}

// Len returns the total number of queued events across all four queues.
func (s *Set) Len() int {
	total := 0
	for _, k := range Priority {
		total += s.lists[k].Len()
	}
	return total
}

// RemoveUnderRoot purges every created/updated entry whose file has root
// as a prefix (or equals it), used by remove_directory (§4.3). It returns
// the removed events so the caller can also cancel any matching in-flight
// jobs.
func (s *Set) RemoveUnderRoot(root fileref.Ref) []events.Event {
	var removed []events.Event
	for _, k := range []events.Kind{events.Created, events.Updated} {
		l := s.lists[k]
		var next *list.Element
		for e := l.Front(); e != nil; e = next {
			next = e.Next()
			ev := e.Value.(entry).event
			if ev.File.HasPrefix(root) {
				l.Remove(e)
				key := ev.File.String()
				if s.index[key] == e {
					delete(s.index, key)
					delete(s.indexKind, key)
				}
				removed = append(removed, ev)
			}
		}
	}
	// Deleted and Moved entries under root are left to drain naturally;
	// a Deleted for an already-removed directory is a harmless no-op at
	// dequeue time, and a Moved whose source is being removed resolves
	// through the normal move table.
	return removed
}
