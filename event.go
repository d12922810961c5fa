package coros

import "time"

// Forever is the timeout value meaning "wait indefinitely" for Event.Wait.
const Forever time.Duration = -1

// Event is a level-triggered flag that one or more coroutines can wait on.
// It is constructed independently of any Scheduler (by user code, not
// registered) and binds to whichever Scheduler first drives a Wait on it.
//
// Event's methods are only safe to call from within a coroutine body that a
// Scheduler is actively resuming: the driver never runs two coroutine
// bodies concurrently, so no internal locking is needed as long as callers
// respect that single-threaded contract.
type Event struct {
	flag    bool
	waiters []*Coroutine
	sched   *Scheduler
}

// NewEvent returns a cleared Event.
func NewEvent() *Event { return &Event{} }

// Set raises the flag and wakes every coroutine currently waiting on it, in
// the order they started waiting. Waiters that begin waiting after this
// call do not observe this transition: while the flag stays raised, Set is
// a no-op, so they block until a Clear and a later Set, or until their
// timeout elapses (they then read the flag as it is at that moment).
//
// A woken waiter's resumed result reflects the flag's value at the moment
// it actually resumes, not at the moment Set moved it onto the ready
// queue: a Clear racing in between does not rescind the wake (the waiter
// still runs), but the waiter may observe the flag already false again.
func (e *Event) Set() {
	if e.flag {
		return
	}
	e.flag = true
	waiters := e.waiters
	e.waiters = nil
	if e.sched == nil {
		return
	}
	for _, c := range waiters {
		if c.status != StatusAwaitingEvent {
			continue
		}
		if c.timerEntry != nil {
			e.sched.timers.Cancel(c.timerEntry)
			e.sched.metrics.Counter("coros_timers_cancelled_total").Add(1)
			c.timerEntry = nil
		}
		c.waitingEvent = nil
		c.pendingEventRead = e
		e.sched.enqueueResume(c, resumeMsg{})
	}
}

// Clear lowers the flag. A waiter a prior Set already moved onto the ready
// queue still resumes (Clear does not rescind the wake), but it reads the
// flag fresh at resumption time, so it observes set=false if no further
// Set happens first.
func (e *Event) Clear() { e.flag = false }

// IsSet reports the current flag value.
func (e *Event) IsSet() bool { return e.flag }

// Wait returns a suspension-point object: yielding it suspends the calling
// coroutine until the event is set, or until timeout elapses (Forever
// means never time out). The resumed value is a bool: whether the event was
// observed set at resumption. On a timeout that is the flag's value at that
// moment, so it is false unless the flag was already raised.
func (e *Event) Wait(timeout time.Duration) *eventWait {
	return &eventWait{event: e, timeout: timeout}
}

type eventWait struct {
	event   *Event
	timeout time.Duration
}

func (e *Event) removeWaiter(c *Coroutine) {
	for i, w := range e.waiters {
		if w == c {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}
