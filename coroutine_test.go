package coros

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoroutine_String_UsesNameWhenSet(t *testing.T) {
	named := New(func(Yield) (any, error) { return nil, nil }, Named("worker-1"))
	require.Equal(t, "worker-1", named.String())

	anon := New(func(Yield) (any, error) { return nil, nil })
	require.Contains(t, anon.String(), "coroutine(0x")
}

func TestCoroutine_WasInjectedCancel_PointerIdentity(t *testing.T) {
	c := New(func(Yield) (any, error) { return nil, nil })

	require.False(t, c.wasInjectedCancel(errors.New("anything")))
	require.False(t, c.wasInjectedCancel(nil))

	cancel := &CancelledError{}
	c.injectedCancel = cancel
	require.True(t, c.wasInjectedCancel(cancel))

	other := &CancelledError{}
	require.False(t, c.wasInjectedCancel(other), "a distinct CancelledError value is not the one injected")
}

func TestCoroutine_Resume_InjectedErrorBeforeStartNeverRunsBody(t *testing.T) {
	var ran bool
	c := New(func(Yield) (any, error) {
		ran = true
		return nil, nil
	})

	cancel := &CancelledError{}
	out := c.resume(resumeMsg{err: cancel})

	require.True(t, out.done)
	require.Equal(t, error(cancel), out.err)
	require.False(t, ran, "a coroutine cancelled before its first run must never execute its body")
}

func TestCoroutine_Resume_RunsBodyWhenFirstResumeCarriesNoError(t *testing.T) {
	var ran bool
	c := New(func(Yield) (any, error) {
		ran = true
		return 1, nil
	})

	out := c.resume(resumeMsg{})
	require.True(t, out.done)
	require.True(t, ran)
	require.Equal(t, 1, out.value)
}

func TestAwait_TypeMismatchReturnsError(t *testing.T) {
	calls := 0
	yield := func(obj any) (any, error) {
		calls++
		return "not an int", nil
	}
	v, err := Await[int](yield, New(func(Yield) (any, error) { return nil, nil }))
	require.Zero(t, v)
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestGatherValues_NilEntriesBecomeZeroValue(t *testing.T) {
	yield := func(obj any) (any, error) {
		return []any{nil, 5}, nil
	}
	vals, err := GatherValues[int](yield, []*Coroutine{
		New(func(Yield) (any, error) { return nil, nil }),
		New(func(Yield) (any, error) { return nil, nil }),
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 5}, vals)
}

func TestStatus_String(t *testing.T) {
	cases := map[Status]string{
		StatusPending:          "pending",
		StatusRunnable:         "runnable",
		StatusAwaitingChildren: "awaiting-children",
		StatusAwaitingEvent:    "awaiting-event",
		StatusAwaitingThread:   "awaiting-thread",
		StatusCompletedOK:      "completed-ok",
		StatusCompletedErr:     "completed-err",
		StatusCancelled:        "cancelled",
		Status(99):             "unknown",
	}
	for status, want := range cases {
		require.Equal(t, want, status.String())
	}
}
