package pool

import "sync"

type dynamic[T any] struct {
	p sync.Pool
}

// NewDynamic is a dynamic-size pool. It is a thin generic wrapper around
// sync.Pool, growing and shrinking as the GC sees fit.
func NewDynamic[T any](newFn func() T) Pool[T] {
	return &dynamic[T]{p: sync.Pool{New: func() interface{} { return newFn() }}}
}

func (d *dynamic[T]) Get() T  { return d.p.Get().(T) }
func (d *dynamic[T]) Put(v T) { d.p.Put(v) }
