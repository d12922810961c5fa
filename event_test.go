package coros

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvent_SetIsIdempotent(t *testing.T) {
	e := NewEvent()
	require.False(t, e.IsSet())
	e.Set()
	require.True(t, e.IsSet())
	e.Set()
	require.True(t, e.IsSet())
}

func TestEvent_ClearLowersFlag(t *testing.T) {
	e := NewEvent()
	e.Set()
	e.Clear()
	require.False(t, e.IsSet())
}

func TestEvent_Set_WithNoSchedulerBound_DoesNotPanic(t *testing.T) {
	e := NewEvent()
	require.NotPanics(t, func() { e.Set() })
}

func TestEvent_RemoveWaiter_DropsOnlyNamedEntry(t *testing.T) {
	e := &Event{}
	a := New(func(Yield) (any, error) { return nil, nil })
	b := New(func(Yield) (any, error) { return nil, nil })
	c := New(func(Yield) (any, error) { return nil, nil })
	e.waiters = []*Coroutine{a, b, c}

	e.removeWaiter(b)
	require.Equal(t, []*Coroutine{a, c}, e.waiters)

	e.removeWaiter(b)
	require.Equal(t, []*Coroutine{a, c}, e.waiters, "removing an absent waiter is a no-op")
}

func TestEvent_Wait_ReturnsSuspensionPointWithTimeout(t *testing.T) {
	e := NewEvent()
	w := e.Wait(5 * time.Second)
	require.Same(t, e, w.event)
	require.Equal(t, 5*time.Second, w.timeout)
}

func TestEvent_Set_WakesWaitersInOrder(t *testing.T) {
	e := &Event{}
	s := NewScheduler()
	e.sched = s

	a := New(func(Yield) (any, error) { return nil, nil })
	b := New(func(Yield) (any, error) { return nil, nil })
	a.status = StatusAwaitingEvent
	b.status = StatusAwaitingEvent
	e.waiters = []*Coroutine{a, b}

	e.Set()

	require.Len(t, s.ready, 2)
	require.Same(t, a, s.ready[0])
	require.Same(t, b, s.ready[1])
	require.Same(t, e, a.pendingEventRead, "wake reads the flag fresh at resume time, not at Set time")
	require.Same(t, e, b.pendingEventRead)
	require.Empty(t, e.waiters)
}
