package coros

import (
	"errors"
	"fmt"
)

const Namespace = "coros"

var (
	// ErrBadYield is wrapped into the error returned when a coroutine yields
	// an object the driver doesn't recognize.
	ErrBadYield = errors.New(Namespace + ": coroutine yielded an unrecognized object")

	// ErrAlreadyRunning is returned by Run if called more than once on the
	// same Scheduler.
	ErrAlreadyRunning = errors.New(Namespace + ": Run called more than once on the same scheduler")
)

// CancelledError is injected into every coroutine and thread task still
// outstanding when a failure is detected elsewhere. Origin chains back to
// the error that triggered the shutdown.
type CancelledError struct {
	Origin error
	Source *Coroutine
}

func (e *CancelledError) Error() string {
	if e.Origin == nil {
		return Namespace + ": cancelled"
	}
	return fmt.Sprintf("%s: cancelled: %v", Namespace, e.Origin)
}

func (e *CancelledError) Unwrap() error { return e.Origin }

// AggregateError collects the origin error together with every other error
// observed during a single Run, used by ErrorDeliveryGroup. Unwrap returns
// all of them per Go 1.20+ multi-error conventions, so errors.Is/As reach
// into any one of them.
type AggregateError struct {
	Origin error
	Others []error
}

func (e *AggregateError) Error() string {
	if len(e.Others) == 0 {
		return e.Origin.Error()
	}
	return fmt.Sprintf("%s (+%d more error(s) during shutdown)", e.Origin.Error(), len(e.Others))
}

func (e *AggregateError) Unwrap() []error {
	all := make([]error, 0, len(e.Others)+1)
	all = append(all, e.Origin)
	return append(all, e.Others...)
}

// chainedError is returned for ErrorDeliverySingle when more than one error
// was observed: it unwraps to origin (so errors.Is/As behave exactly as if
// origin were returned bare) while still exposing the siblings for a
// debugger or log statement that wants them.
type chainedError struct {
	origin   error
	siblings []error
}

func (e *chainedError) Error() string    { return e.origin.Error() }
func (e *chainedError) Unwrap() error    { return e.origin }
func (e *chainedError) Chained() []error { return e.siblings }

// originError tags an error with the coroutine that produced it, the same
// correlation idiom the teacher uses to tag a failed task with its index.
type originError struct {
	err    error
	source *Coroutine
}

func (e *originError) Error() string { return e.err.Error() }
func (e *originError) Unwrap() error { return e.err }

// OriginCoroutine extracts the coroutine that originated err, if tagged.
func OriginCoroutine(err error) (*Coroutine, bool) {
	var oe *originError
	if errors.As(err, &oe) {
		return oe.source, true
	}
	return nil, false
}

func unwrapOrigin(err error) error {
	var oe *originError
	if errors.As(err, &oe) {
		return oe.err
	}
	return err
}
