package coros

import (
	"time"

	"go.uber.org/zap"
)

// triggerShutdown marks the scheduler as shutting down on the first
// observed failure (the origin) and cancels every other outstanding unit.
// A failure observed after shutdown has already started is a sibling, not a
// new origin, and is only recorded as a side error (AggregateError's Others
// under group delivery, Chained siblings under single delivery). This mirrors the
// teacher's errorForwarder: cancel first, forward the first error once,
// keep draining the rest.
func (s *Scheduler) triggerShutdown(origin error, source *Coroutine) {
	if s.shuttingDown {
		if origin != nil {
			s.sideErrors = append(s.sideErrors, origin)
			s.logger.Warn("coros: additional failure observed during shutdown",
				zap.Error(origin))
		}
		return
	}

	s.shuttingDown = true
	s.shutdownStart = time.Now()
	s.origin = origin
	s.originCoro = source
	s.metrics.Counter("coros_shutdowns_total").Add(1)

	cancel := &CancelledError{Origin: origin, Source: source}

	for c := range s.registered {
		if c == source {
			continue
		}
		switch c.status {
		case StatusCompletedOK, StatusCompletedErr, StatusCancelled, StatusAwaitingThread:
			// Awaiting-thread coroutines aren't preemptible: the dispatched
			// call runs to completion and sweepThreadTasks delivers the
			// cancellation once it actually finishes (see threadbridge.go).
			continue
		}
		s.cancelCoroutine(c, cancel)
	}

	for _, t := range s.threadTasks {
		t.cancelRequested.Store(true)
	}
}

// cancelCoroutine detaches c from whatever it's suspended on and enqueues it
// runnable with an injected cancellation.
//
// c may already be sitting in the ready queue with a real, non-cancellation
// error a dispatched thread task published for it moments earlier (see
// sweepThreadTasks): two thread calls can both fail in the same sweep,
// queuing both parents with their own errors before either gets to run. The
// cancellation about to be injected here would otherwise silently overwrite
// that pending error in place, dropping it from both ErrorDeliveryGroup's
// AggregateError and ErrorDeliverySingle's Chained() siblings. Salvage it
// into sideErrors first.
func (s *Scheduler) cancelCoroutine(c *Coroutine, cancel *CancelledError) {
	if c.timerEntry != nil {
		s.timers.Cancel(c.timerEntry)
		s.metrics.Counter("coros_timers_cancelled_total").Add(1)
		c.timerEntry = nil
	}
	if c.waitingEvent != nil {
		c.waitingEvent.removeWaiter(c)
		c.waitingEvent = nil
	}
	c.pendingEventRead = nil
	if pending := c.resumeErr; c.queued && pending != nil {
		if _, isCancel := pending.(*CancelledError); !isCancel {
			s.sideErrors = append(s.sideErrors, pending)
			s.logger.Warn("coros: additional failure observed during shutdown", zap.Error(pending))
		}
	}
	s.enqueueResume(c, resumeMsg{err: cancel})
	c.injectedCancel = cancel
}
