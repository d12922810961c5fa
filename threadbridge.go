package coros

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ThreadFunc is a blocking synchronous call dispatched onto the thread-run
// bridge. cancelRequested reports whether the scheduler has asked the call
// to stop; since the call already in flight cannot be preempted, checking
// it is advisory — a long-running ThreadFunc should poll it and return
// early.
type ThreadFunc func(cancelRequested func() bool) (any, error)

// RunInThread returns a suspension-point object: yielding it dispatches fn
// onto the thread-run bridge's worker pool and suspends the calling
// coroutine until fn returns.
func RunInThread(fn ThreadFunc) *threadHandle {
	return &threadHandle{fn: fn, task: &threadTask{}}
}

// RunInThreadFunc wraps a typed ThreadFunc so callers don't hand-roll the
// any-to-T assertion at the await site; pair it with AwaitThread.
func RunInThreadFunc[T any](fn func(cancelRequested func() bool) (T, error)) *threadHandle {
	return RunInThread(func(cr func() bool) (any, error) { return fn(cr) })
}

// AwaitThread yields h and type-asserts its result to T.
func AwaitThread[T any](yield Yield, h *threadHandle) (T, error) {
	var zero T
	v, err := yield(h)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s: AwaitThread: %T is not %T", Namespace, v, zero)
	}
	return t, nil
}

type threadHandle struct {
	fn   ThreadFunc
	task *threadTask
}

// CancelRequested reports whether the scheduler has asked this dispatched
// call to stop. Capture h in the ThreadFunc closure to poll it.
func (h *threadHandle) CancelRequested() bool { return h.task.cancelRequested.Load() }

type threadTask struct {
	parent          *Coroutine
	dispatchedAt    time.Time
	value           any
	err             error
	done            atomic.Bool
	cancelRequested atomic.Bool
}

func (t *threadTask) CancelRequested() bool { return t.cancelRequested.Load() }

// threadWorker is the pooled wrapper that actually invokes a ThreadFunc, the
// thread-run-bridge analogue of the teacher's worker[R].execute.
type threadWorker struct{}

func newThreadWorker() *threadWorker { return &threadWorker{} }

func (w *threadWorker) execute(t *threadTask, fn ThreadFunc, wake func()) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%s: thread task panicked: %v", Namespace, r)
			}
			t.err = err
		}
		if t.cancelRequested.Load() {
			t.value, t.err = nil, &CancelledError{}
		}
		t.done.Store(true)
		wake()
	}()

	t.value, t.err = fn(t.CancelRequested)
}
