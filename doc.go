// Package coros implements a single-threaded, cooperative coroutine
// scheduler: a driver loop multiplexes generator-style coroutines, each
// suspended and resumed by calling the yield function it's handed, alongside
// timed waits, an Event primitive, and a thread-run bridge for blocking
// synchronous calls.
//
// A coroutine is a *Coroutine built from a Body. Yielding a *Coroutine or a
// []*Coroutine awaits one or more children; yielding the result of an
// Event's Wait suspends until the event fires or the wait times out;
// yielding the result of RunInThread dispatches a blocking call onto a
// worker pool and suspends until it returns.
//
// Scheduler.Run drives a root coroutine to completion and returns its
// result. The first error raised anywhere — by a coroutine, by a dispatched
// thread call, or by a bad yield — cancels every other outstanding
// coroutine and thread task before Run returns it; no partial results
// surface past a failed Run.
//
// Constructors
//   - NewScheduler(opts ...Option): functional-options constructor. A
//     Scheduler is single-use; Run may be called at most once.
//
// Defaults
// Unless overridden, the following defaults apply:
//   - Logger: zap.NewNop() (silent)
//   - Metrics: metrics.NewNoopProvider() (discarded)
//   - Thread pool: dynamic (coros/pool.NewDynamic)
//   - Error delivery: ErrorDeliverySingle
package coros
