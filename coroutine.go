package coros

import (
	"fmt"
	"time"

	"github.com/averyhale/coros/timerq"
)

// Status is the lifecycle state of a Coroutine.
type Status int

const (
	StatusPending Status = iota
	StatusRunnable
	StatusAwaitingChildren
	StatusAwaitingEvent
	StatusAwaitingThread
	StatusCompletedOK
	StatusCompletedErr
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunnable:
		return "runnable"
	case StatusAwaitingChildren:
		return "awaiting-children"
	case StatusAwaitingEvent:
		return "awaiting-event"
	case StatusAwaitingThread:
		return "awaiting-thread"
	case StatusCompletedOK:
		return "completed-ok"
	case StatusCompletedErr:
		return "completed-err"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Yield suspends the calling coroutine, handing the driver obj (a
// *Coroutine, a []*Coroutine, an event wait, or a thread dispatch handle).
// It returns whatever the driver resumes with: a value, or an injected
// error — typically a *CancelledError.
type Yield func(obj any) (any, error)

// Body defines a coroutine's execution.
type Body func(yield Yield) (any, error)

// Coroutine is a unit of cooperative work. Its identity is its pointer for
// the lifetime of the Scheduler invocation that registers it; resubmitting
// the same Coroutine to a second Scheduler is a documented reuse case, see
// Scheduler.Run.
type Coroutine struct {
	body Body
	name string

	status Status
	value  any
	err    error
	frozen bool

	children   []*Coroutine
	gatherMode bool
	parents    map[*Coroutine]struct{}

	waitingEvent     *Event
	timerEntry       *timerq.Entry
	pendingEventRead *Event

	resumeValue    any
	resumeErr      error
	injectedCancel *CancelledError

	epoch   uint64
	started bool
	queued  bool

	toCoro   chan resumeMsg
	fromCoro chan yieldMsg
}

type resumeMsg struct {
	value any
	err   error
}

type yieldMsg struct {
	obj   any
	done  bool
	value any
	err   error
}

// CoroutineOption configures a Coroutine at construction time.
type CoroutineOption func(*Coroutine)

// Named attaches a diagnostic name to a coroutine, surfaced by String and in
// the logged stale-reuse warning.
func Named(name string) CoroutineOption {
	return func(c *Coroutine) { c.name = name }
}

// New creates a coroutine from body. It is not started until it is resumed
// by a Scheduler, which happens once it (directly or transitively) becomes
// reachable from a Run's root.
func New(body Body, opts ...CoroutineOption) *Coroutine {
	c := &Coroutine{body: body, parents: make(map[*Coroutine]struct{})}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Go wraps a typed body into a Coroutine, so callers don't hand-roll the
// any-to-T assertion on every site that constructs one.
func Go[T any](body func(Yield) (T, error), opts ...CoroutineOption) *Coroutine {
	return New(func(y Yield) (any, error) { return body(y) }, opts...)
}

func (c *Coroutine) String() string {
	if c.name != "" {
		return c.name
	}
	return fmt.Sprintf("coroutine(%p)", c)
}

// start spawns the goroutine that runs body, rendezvousing with resume over
// a pair of unbuffered channels. This is the tcard-coro handshake
// generalized from a zero-value yield/resume to a value-or-error pair: the
// goroutine never runs concurrently with the driver, since each side blocks
// on a channel while the other executes.
func (c *Coroutine) start() {
	c.toCoro = make(chan resumeMsg)
	c.fromCoro = make(chan yieldMsg)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%s: coroutine panicked: %v", Namespace, r)
				}
				c.fromCoro <- yieldMsg{done: true, err: err}
			}
		}()

		<-c.toCoro // initial resume carries no suspension-point value

		yield := func(obj any) (any, error) {
			c.fromCoro <- yieldMsg{obj: obj}
			m := <-c.toCoro
			return m.value, m.err
		}

		val, err := c.body(yield)
		c.fromCoro <- yieldMsg{done: true, value: val, err: err}
	}()
}

// resume hands in to the coroutine and blocks until it next yields or
// returns. A cancellation injected before the coroutine has ever run is
// never delivered into the body at all: like throwing into a fresh,
// unstarted generator, the coroutine completes with that error without
// executing a single line of it.
func (c *Coroutine) resume(in resumeMsg) yieldMsg {
	if !c.started && in.err != nil {
		c.started = true
		return yieldMsg{done: true, err: in.err}
	}
	if !c.started {
		c.start()
		c.started = true
	}
	c.toCoro <- in
	return <-c.fromCoro
}

// wasInjectedCancel reports whether err is exactly the *CancelledError this
// coroutine was last resumed with, as opposed to a distinct error raised in
// response to it.
func (c *Coroutine) wasInjectedCancel(err error) bool {
	if c.injectedCancel == nil || err == nil {
		return false
	}
	return err == error(c.injectedCancel)
}

// Await yields c and type-asserts its result to T, propagating any error
// (including an injected cancellation) unchanged.
func Await[T any](yield Yield, c *Coroutine) (T, error) {
	var zero T
	v, err := yield(c)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s: Await: %T is not %T", Namespace, v, zero)
	}
	return t, nil
}

// GatherValues yields cs as a single suspension point awaiting all of them,
// and type-asserts each result to T in input order. Duplicate coroutines in
// cs are allowed: the same result is delivered at every position that names
// it.
func GatherValues[T any](yield Yield, cs []*Coroutine) ([]T, error) {
	v, err := yield(cs)
	if err != nil {
		return nil, err
	}
	list, _ := v.([]any)
	out := make([]T, len(list))
	for i, x := range list {
		if x == nil {
			continue
		}
		t, ok := x.(T)
		if !ok {
			return nil, fmt.Errorf("%s: GatherValues: %T is not %T", Namespace, x, t)
		}
		out[i] = t
	}
	return out, nil
}

// Sleep suspends the calling coroutine for at least d, or returns early with
// an injected cancellation if one arrives first.
func Sleep(yield Yield, d time.Duration) error {
	e := &Event{}
	_, err := yield(e.Wait(d))
	return err
}
