// Package timerq provides a deadline-ordered priority queue for the
// scheduler's timed waits (event timeouts and sleeps).
//
// The shape — a container/heap min-heap keyed by deadline, with
// tombstone-on-cancel rather than heap removal — follows the timerHeap used
// internally by joeycumines/go-utilpkg's eventloop package: cancellation is
// far more frequent than firing (most timed waits are satisfied by their
// event firing first), so marking an entry dead and skipping it on pop is
// cheaper than the log-n fix-up a real removal would need.
package timerq

import (
	"container/heap"
	"time"
)

// Entry is a single pending deadline. Holder is opaque to the queue; the
// owning scheduler stores whatever identifies the thing to wake, typically
// a *coros.Coroutine.
type Entry struct {
	Deadline time.Time
	Holder   any

	index int
	tomb  bool
}

// Queue is a min-heap of Entry ordered by Deadline.
type Queue struct {
	h entryHeap
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push adds a new timer entry for holder, due at deadline, and returns it.
// The returned *Entry is the cancellation token for Cancel.
func (q *Queue) Push(deadline time.Time, holder any) *Entry {
	e := &Entry{Deadline: deadline, Holder: holder}
	heap.Push(&q.h, e)
	return e
}

// Cancel tombstones e. A tombstoned entry is skipped and discarded the next
// time it would otherwise be popped or peeked; it is never resurrected.
func (q *Queue) Cancel(e *Entry) {
	if e != nil {
		e.tomb = true
	}
}

// PopDue removes and returns every live entry whose deadline is at or before
// now, in deadline order. Tombstoned entries encountered along the way are
// discarded, not returned.
func (q *Queue) PopDue(now time.Time) []*Entry {
	var due []*Entry
	for q.h.Len() > 0 {
		top := q.h[0]
		if top.tomb {
			heap.Pop(&q.h)
			continue
		}
		if top.Deadline.After(now) {
			break
		}
		due = append(due, heap.Pop(&q.h).(*Entry))
	}
	return due
}

// Peek returns the next live deadline without removing it, discarding any
// tombstoned entries found at the head. The second return value is false if
// the queue has no live entries.
func (q *Queue) Peek() (time.Time, bool) {
	for q.h.Len() > 0 {
		top := q.h[0]
		if top.tomb {
			heap.Pop(&q.h)
			continue
		}
		return top.Deadline, true
	}
	return time.Time{}, false
}

// Len returns the number of entries still held, including tombstoned ones
// not yet swept by Peek or PopDue.
func (q *Queue) Len() int { return q.h.Len() }

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].Deadline.Before(h[j].Deadline) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
