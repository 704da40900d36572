package relay

// Ring is a fixed-size FIFO queue with overwrite-on-full semantics. It is not
// safe for concurrent use; a Room only touches its ring from the room loop.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// NewRing creates a ring with the given capacity. A ring with capacity zero
// discards everything pushed to it.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring[T]{buf: make([]T, 0, capacity)}
}

func (r *Ring[T]) Cap() int {
	return cap(r.buf)
}

func (r *Ring[T]) Len() int {
	return r.size
}

// Push appends x; if full, it overwrites (and evicts) the oldest element.
func (r *Ring[T]) Push(x T) {
	if cap(r.buf) == 0 {
		return
	}
	if r.size < cap(r.buf) {
		r.buf = append(r.buf, x)
		r.size++
		return
	}

	r.buf[r.head] = x
	r.head++
	if r.head == cap(r.buf) {
		r.head = 0
	}
}

// Slice copies the contents oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, 0, r.size)
	if r.size < cap(r.buf) {
		return append(out, r.buf[:r.size]...)
	}
	out = append(out, r.buf[r.head:]...)
	return append(out, r.buf[:r.head]...)
}

// Last copies at most n of the newest elements, oldest first.
func (r *Ring[T]) Last(n int) []T {
	all := r.Slice()
	if n < 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}
