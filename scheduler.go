package coros

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/averyhale/coros/metrics"
	"github.com/averyhale/coros/pool"
	"github.com/averyhale/coros/timerq"
	"go.uber.org/zap"
)

// ErrorDelivery selects how a Run that observed more than one failure
// reports them.
type ErrorDelivery int

const (
	// ErrorDeliverySingle raises the origin error directly; if other errors
	// were observed during shutdown, they're reachable via Chained(err) but
	// don't change err's identity (errors.Is/As behave as if origin were
	// returned bare). This is the default.
	ErrorDeliverySingle ErrorDelivery = iota

	// ErrorDeliveryGroup wraps every observed error, origin first, in an
	// *AggregateError.
	ErrorDeliveryGroup

	// ErrorDeliveryOff discards every error but the origin, no chaining.
	ErrorDeliveryOff
)

// Chained returns the non-origin errors attached to err by ErrorDeliverySingle,
// or nil if err wasn't produced that way.
func Chained(err error) []error {
	var ce *chainedError
	if errors.As(err, &ce) {
		return ce.siblings
	}
	return nil
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger sets the diagnostic logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics provider. Default: metrics.NewNoopProvider().
func WithMetrics(p metrics.Provider) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.metrics = p
		}
	}
}

// WithErrorDelivery sets how multi-error Runs report their failure.
func WithErrorDelivery(d ErrorDelivery) Option {
	return func(s *Scheduler) { s.delivery = d }
}

// WithFixedThreadPool caps the thread-run bridge at n concurrently pooled
// workers (it still dispatches one goroutine per call, but each waits for a
// free pooled worker, so at most n calls run at once; matching the teacher's
// WithFixedPool).
func WithFixedThreadPool(n uint) Option {
	return func(s *Scheduler) { s.pool = pool.NewFixed[*threadWorker](n, newThreadWorker) }
}

// WithDynamicThreadPool selects the dynamic (sync.Pool-backed) thread
// worker pool. This is the default.
func WithDynamicThreadPool() Option {
	return func(s *Scheduler) { s.pool = pool.NewDynamic[*threadWorker](newThreadWorker) }
}

var schedulerEpoch atomic.Uint64

// Scheduler drives one or more coroutines to completion on a single
// goroutine (the one that calls Run), dispatching blocking work onto a
// thread pool and delivering failures with strict atomicity: either every
// coroutine completes successfully, or Run returns a single error and
// guarantees no coroutine or thread task is left running.
//
// A Scheduler is single-use: Run may be called at most once.
type Scheduler struct {
	id uint64

	logger   *zap.Logger
	metrics  metrics.Provider
	pool     pool.Pool[*threadWorker]
	delivery ErrorDelivery

	ready       []*Coroutine
	timers      *timerq.Queue
	threadTasks []*threadTask
	wake        chan struct{}

	registered map[*Coroutine]struct{}

	shuttingDown  bool
	shutdownStart time.Time
	origin        error
	originCoro    *Coroutine
	sideErrors    []error

	runOnce sync.Once
}

// NewScheduler constructs a Scheduler. It is not started until Run is
// called.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		id:         schedulerEpoch.Add(1),
		logger:     zap.NewNop(),
		metrics:    metrics.NewNoopProvider(),
		timers:     timerq.New(),
		wake:       make(chan struct{}, 1),
		registered: make(map[*Coroutine]struct{}),
		delivery:   ErrorDeliverySingle,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.pool == nil {
		s.pool = pool.NewDynamic[*threadWorker](newThreadWorker)
	}
	return s
}

// Run drives root to completion, along with every coroutine transitively
// reachable from it via yielded children, and returns root's result.
//
// If root (or any descendant, or any dispatched thread call) fails, every
// other outstanding unit is cancelled before Run returns; the returned
// error is governed by the Scheduler's ErrorDelivery.
//
// Resubmitting a Coroutine that was already driven to completion by a
// previous Scheduler is accepted but treated as having no record: it is
// not re-run, and its value to the new awaiter is absent (nil), with a
// warning logged. This mirrors a generator object that has already been
// exhausted.
func (s *Scheduler) Run(ctx context.Context, root *Coroutine) (result any, err error) {
	alreadyRan := true
	s.runOnce.Do(func() { alreadyRan = false })
	if alreadyRan {
		return nil, ErrAlreadyRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.register(root)
	s.enqueueResume(root, resumeMsg{})

	for s.hasOutstandingWork() {
		s.drainReady()
		s.fireTimers()
		if len(s.ready) > 0 {
			continue
		}

		if s.hasBlockingWait() {
			s.waitForWake(ctx)
			continue
		}

		if s.hasOutstandingWork() {
			// Nothing ready, no timer, no thread task, yet work remains:
			// every registered coroutine is mutually waiting on something
			// that will never resolve. Not expected under the supported
			// primitive set (every registration implies a parent awaits
			// it); surfaced rather than spun on forever.
			return nil, fmt.Errorf("%s: deadlock: no runnable coroutine, timer, or thread task remains", Namespace)
		}
	}

	return s.finish(root)
}

func (s *Scheduler) hasOutstandingWork() bool {
	if len(s.threadTasks) > 0 {
		return true
	}
	for c := range s.registered {
		switch c.status {
		case StatusCompletedOK, StatusCompletedErr, StatusCancelled:
			continue
		}
		return true
	}
	return false
}

func (s *Scheduler) hasBlockingWait() bool {
	if len(s.threadTasks) > 0 {
		return true
	}
	_, ok := s.timers.Peek()
	return ok
}

func (s *Scheduler) register(c *Coroutine) {
	c.epoch = s.id
	s.registered[c] = struct{}{}
	s.metrics.UpDownCounter("coros_coroutines_inflight").Add(1)
}

// enqueueResume marks c runnable with the given resume-input. If c is
// already sitting in the ready queue (e.g. a coroutine cancelled by
// triggerShutdown before it ran its original turn), its pending input is
// overridden in place rather than appending a second ready-queue entry,
// which would otherwise let drainReady resume it twice for one turn.
func (s *Scheduler) enqueueResume(c *Coroutine, in resumeMsg) {
	c.resumeValue = in.value
	c.resumeErr = in.err
	c.status = StatusRunnable
	if c.queued {
		return
	}
	c.queued = true
	s.ready = append(s.ready, c)
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drainReady runs every coroutine in the ready queue to its next
// suspension or completion, including coroutines newly appended to the
// queue by this same pass (e.g. a parent made ready by a child's
// synchronous completion).
func (s *Scheduler) drainReady() {
	for len(s.ready) > 0 {
		c := s.ready[0]
		s.ready = s.ready[1:]
		c.queued = false
		s.step(c)
	}
}

func (s *Scheduler) step(c *Coroutine) {
	in := resumeMsg{value: c.resumeValue, err: c.resumeErr}
	c.resumeValue, c.resumeErr = nil, nil
	if c.pendingEventRead != nil {
		in.value = c.pendingEventRead.flag
		c.pendingEventRead = nil
	}
	s.metrics.Counter("coros_resumes_total").Add(1)

	out := c.resume(in)

	if out.done {
		s.completeCoroutine(c, out.value, out.err)
		return
	}
	s.classify(c, out.obj)
}

func (s *Scheduler) classify(p *Coroutine, obj any) {
	switch y := obj.(type) {
	case nil:
		s.enqueueResume(p, resumeMsg{})

	case *Coroutine:
		s.awaitChildren(p, []*Coroutine{y}, false)

	case []*Coroutine:
		s.awaitChildren(p, append([]*Coroutine(nil), y...), true)

	case *eventWait:
		s.awaitEvent(p, y)

	case *threadHandle:
		s.dispatchThread(p, y)

	default:
		s.completeCoroutine(p, nil, fmt.Errorf("%w: %T", ErrBadYield, obj))
	}
}

func (s *Scheduler) completeCoroutine(c *Coroutine, value any, err error) {
	if c.frozen {
		return
	}
	c.frozen = true
	c.value, c.err = value, err

	switch {
	case err == nil:
		c.status = StatusCompletedOK
	case c.wasInjectedCancel(err):
		c.status = StatusCancelled
	default:
		c.status = StatusCompletedErr
		s.triggerShutdown(&originError{err: err, source: c}, c)
	}
	s.metrics.UpDownCounter("coros_coroutines_inflight").Add(-1)

	s.notifyParents(c)
}

func (s *Scheduler) notifyParents(c *Coroutine) {
	for p := range c.parents {
		if s.allChildrenDone(p) {
			s.resolveParent(p)
		}
	}
}

// childValue reports the value and error a waiting parent should observe
// for c. A coroutine reused from a prior, different Scheduler invocation
// has no record here: it resolves as an absent (nil, nil) value, logged
// once at the point it's bound (see bindChild).
func (s *Scheduler) childValue(c *Coroutine) (any, error) {
	if c.epoch != s.id {
		return nil, nil
	}
	return c.value, c.err
}

func (s *Scheduler) allChildrenDone(p *Coroutine) bool {
	for _, ch := range p.children {
		if ch.epoch == s.id && !ch.frozen {
			return false
		}
	}
	return true
}

func (s *Scheduler) resolveParent(p *Coroutine) {
	if p.status != StatusAwaitingChildren {
		return
	}
	children := p.children
	p.children = nil

	if p.gatherMode {
		vals := make([]any, len(children))
		failed := false
		for i, ch := range children {
			v, e := s.childValue(ch)
			vals[i] = v
			if e != nil {
				failed = true
			}
		}
		if failed {
			s.resumeWithCancellation(p)
			return
		}
		s.enqueueResume(p, resumeMsg{value: vals})
		return
	}

	ch := children[0]
	v, e := s.childValue(ch)
	if e != nil {
		s.resumeWithCancellation(p)
		return
	}
	s.enqueueResume(p, resumeMsg{value: v})
}

func (s *Scheduler) resumeWithCancellation(p *Coroutine) {
	cancel := &CancelledError{Origin: s.origin, Source: p}
	s.enqueueResume(p, resumeMsg{err: cancel})
	p.injectedCancel = cancel
}

func (s *Scheduler) awaitChildren(p *Coroutine, list []*Coroutine, gather bool) {
	p.children = list
	p.gatherMode = gather
	p.status = StatusAwaitingChildren

	seen := make(map[*Coroutine]struct{}, len(list))
	for _, c := range list {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		s.bindChild(p, c)
	}

	if s.allChildrenDone(p) {
		s.resolveParent(p)
	}
}

func (s *Scheduler) bindChild(p, c *Coroutine) {
	if c.epoch != 0 && c.epoch != s.id {
		s.logger.Warn("coros: coroutine reused across scheduler invocations; treating as absent",
			zap.Stringer("coroutine", c),
			zap.Uint64("prior_epoch", c.epoch),
			zap.Uint64("epoch", s.id))
		return
	}
	if c.epoch == 0 {
		s.register(c)
		if s.shuttingDown {
			cancel := &CancelledError{Origin: s.origin, Source: c}
			c.injectedCancel = cancel
			s.enqueueResume(c, resumeMsg{err: cancel})
		} else {
			s.enqueueResume(c, resumeMsg{})
		}
	}
	c.parents[p] = struct{}{}
}

func (s *Scheduler) awaitEvent(p *Coroutine, w *eventWait) {
	e := w.event
	if e.sched == nil {
		e.sched = s
	}
	p.status = StatusAwaitingEvent
	p.waitingEvent = e
	e.waiters = append(e.waiters, p)

	if w.timeout >= 0 {
		p.timerEntry = s.timers.Push(time.Now().Add(w.timeout), p)
	}
}

func (s *Scheduler) fireTimers() {
	due := s.timers.PopDue(time.Now())
	for _, entry := range due {
		c, ok := entry.Holder.(*Coroutine)
		if !ok || c.status != StatusAwaitingEvent {
			continue
		}
		s.metrics.Counter("coros_timers_fired_total").Add(1)
		if c.waitingEvent != nil {
			c.waitingEvent.removeWaiter(c)
			c.pendingEventRead = c.waitingEvent
		}
		c.waitingEvent = nil
		c.timerEntry = nil
		s.enqueueResume(c, resumeMsg{})
	}
}

func (s *Scheduler) dispatchThread(p *Coroutine, h *threadHandle) {
	h.task.parent = p
	h.task.dispatchedAt = time.Now()
	p.status = StatusAwaitingThread
	s.threadTasks = append(s.threadTasks, h.task)
	s.metrics.Counter("coros_thread_dispatches_total").Add(1)
	if s.shuttingDown {
		h.task.cancelRequested.Store(true)
	}

	wake := s.signalWake
	go func(task *threadTask, fn ThreadFunc) {
		w := s.pool.Get()
		w.execute(task, fn, wake)
		s.pool.Put(w)
	}(h.task, h.fn)
}

func (s *Scheduler) sweepThreadTasks() {
	if len(s.threadTasks) == 0 {
		return
	}
	remaining := s.threadTasks[:0]
	for _, t := range s.threadTasks {
		if !t.done.Load() {
			remaining = append(remaining, t)
			continue
		}
		s.metrics.Histogram("coros_thread_dispatch_seconds").Record(time.Since(t.dispatchedAt).Seconds())
		p := t.parent
		if ce, ok := t.err.(*CancelledError); ok {
			p.injectedCancel = ce
		}
		s.enqueueResume(p, resumeMsg{value: t.value, err: t.err})
	}
	s.threadTasks = remaining
}

func (s *Scheduler) waitForWake(ctx context.Context) {
	var timerC <-chan time.Time
	if d, ok := s.timers.Peek(); ok {
		wait := time.Until(d)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-s.wake:
	case <-timerC:
	case <-ctx.Done():
		if !s.shuttingDown {
			s.triggerShutdown(&originError{err: ctx.Err(), source: nil}, nil)
		}
	}
	s.sweepThreadTasks()
}

func (s *Scheduler) finish(root *Coroutine) (any, error) {
	if s.shuttingDown {
		s.metrics.Histogram("coros_shutdown_seconds").Record(time.Since(s.shutdownStart).Seconds())
	}
	if root.status == StatusCompletedOK {
		return root.value, nil
	}
	if s.origin == nil {
		return nil, unwrapOrigin(root.err)
	}

	origin := unwrapOrigin(s.origin)

	switch s.delivery {
	case ErrorDeliveryOff:
		return nil, origin
	case ErrorDeliveryGroup:
		return nil, &AggregateError{Origin: origin, Others: s.sideErrors}
	default:
		if len(s.sideErrors) == 0 {
			return nil, origin
		}
		return nil, &chainedError{origin: origin, siblings: s.sideErrors}
	}
}

// Stats is a point-in-time snapshot of registered coroutine states.
type Stats struct {
	Runnable         int
	AwaitingChildren int
	AwaitingEvent    int
	AwaitingThread   int
	Completed        int
}

// Origin reports the coroutine and error that triggered shutdown, if any.
// The coroutine is nil when the origin was an external ctx cancellation
// rather than a coroutine failure.
func (s *Scheduler) Origin() (*Coroutine, error) {
	if s.origin == nil {
		return nil, nil
	}
	return s.originCoro, unwrapOrigin(s.origin)
}

// Stats reports a snapshot of every coroutine registered with s so far.
func (s *Scheduler) Stats() Stats {
	var st Stats
	for c := range s.registered {
		switch c.status {
		case StatusRunnable, StatusPending:
			st.Runnable++
		case StatusAwaitingChildren:
			st.AwaitingChildren++
		case StatusAwaitingEvent:
			st.AwaitingEvent++
		case StatusAwaitingThread:
			st.AwaitingThread++
		default:
			st.Completed++
		}
	}
	return st
}
