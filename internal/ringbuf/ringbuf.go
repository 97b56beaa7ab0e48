// Package ringbuf provides a fixed-capacity FIFO that overwrites its oldest
// item when full. Used to hold MQTT publishes while disconnected and audit
// entries for sinks that are temporarily failing.
package ringbuf

// Ring is not safe for concurrent use; the caller must synchronize.
type Ring[T any] struct {
	buf      []T
	head     int // next write position
	count    int
	dropped  int64 // total items overwritten since creation
	overflow bool  // true if any item was dropped since the last drain
}

// New returns a Ring holding at most capacity items. A capacity below 1 is
// treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the ring is full the oldest item is overwritten and
// Push reports true.
func (r *Ring[T]) Push(v T) bool {
	c := len(r.buf)
	if r.count == c {
		// head already points at the oldest item
		r.buf[r.head] = v
		r.head = (r.head + 1) % c
		r.dropped++
		r.overflow = true
		return true
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % c
	r.count++
	return false
}

// DrainAll removes and returns every item, oldest first. Returns nil when empty.
func (r *Ring[T]) DrainAll() []T {
	if r.count == 0 {
		return nil
	}
	out := r.Items()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.count = 0
	r.head = 0
	r.overflow = false
	return out
}

// Items returns a copy of the contents, oldest first, without removing them.
func (r *Ring[T]) Items() []T {
	if r.count == 0 {
		return nil
	}
	c := len(r.buf)
	out := make([]T, r.count)
	start := (r.head - r.count + c) % c
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%c]
	}
	return out
}

// Newest returns up to n items, newest first.
func (r *Ring[T]) Newest(n int) []T {
	if n <= 0 || n > r.count {
		n = r.count
	}
	if n == 0 {
		return nil
	}
	c := len(r.buf)
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head-1-i+2*c)%c]
	}
	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Dropped returns how many items have been overwritten since creation.
func (r *Ring[T]) Dropped() int64 { return r.dropped }

// Overflowed reports whether anything was dropped since the last drain.
func (r *Ring[T]) Overflowed() bool { return r.overflow }
