package sequence

// Queue is a generic FIFO. The zero value is ready to use.
//
// It is not safe for concurrent use; callers that share one across
// goroutines bring their own locking.
type Queue[T any] struct {
	items []T
	head  int
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Enqueue appends a value to the tail.
func (q *Queue[T]) Enqueue(value T) {
	q.items = append(q.items, value)
}

// Dequeue removes and returns the head value.
func (q *Queue[T]) Dequeue() (T, bool) {
	if q.head >= len(q.items) {
		var zero T
		return zero, false
	}
	value := q.items[q.head]
	var zero T
	q.items[q.head] = zero // release the reference
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return value, true
}

// Peek returns the head value without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.head >= len(q.items) {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

// Clear drops all queued values.
func (q *Queue[T]) Clear() {
	q.items = q.items[:0]
	q.head = 0
}
