package pool

type fixed[T any] struct {
	available chan T
	all       chan T
	buf       chan T
	newFn     func() T
}

// NewFixed is a fixed-capacity pool: at most capacity distinct values are
// ever constructed via newFn, bounding concurrent thread-run dispatches.
func NewFixed[T any](capacity uint, newFn func() T) Pool[T] {
	return &fixed[T]{
		available: make(chan T, capacity),
		all:       make(chan T, capacity),
		buf:       make(chan T, 1024),
		newFn:     newFn,
	}
}

func (p *fixed[T]) Get() T {
	select {
	case el := <-p.available:
		return el

	case el := <-p.buf:
		return el

	default:
		// Reserve one of the capacity slots in all before constructing, or
		// wait for a Put once every slot is taken.
		var slot T
		select {
		case p.all <- slot:
			return p.newFn()
		case el := <-p.available:
			return el
		case el := <-p.buf:
			return el
		}
	}
}

func (p *fixed[T]) Put(el T) {
	select {
	case p.available <- el:
	case p.buf <- el:
	default:
	}
}
