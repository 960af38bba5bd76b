package sequence

import (
	"iter"
	"sort"
)

// Iterator is a lazy, chainable view over a sequence of T. Chained stages
// share the underlying sequence; nothing runs until a terminal call such as
// Collect or Count.
type Iterator[T any] struct {
	seq iter.Seq[T]
}

// From wraps a slice.
func From[T any](data []T) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			for _, v := range data {
				if !yield(v) {
					return
				}
			}
		},
	}
}

// FromMap wraps the values of a map. Order is the map's iteration order,
// callers that need determinism should Sort.
func FromMap[T any, K comparable](data map[K]T) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			for _, v := range data {
				if !yield(v) {
					return
				}
			}
		},
	}
}

// Seq exposes the underlying iter.Seq for range-over-func use.
func (i *Iterator[T]) Seq() iter.Seq[T] {
	return i.seq
}

// Pull converts the iterator to pull style: next yields elements until the
// second return is false. Callers must invoke stop when done early.
func (i *Iterator[T]) Pull() (next func() (T, bool), stop func()) {
	return iter.Pull(i.seq)
}

// Collect drains the iterator into a fresh slice.
func (i *Iterator[T]) Collect() []T {
	var out []T
	i.seq(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Filter keeps elements satisfying pred.
func (i *Iterator[T]) Filter(pred func(T) bool) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			i.seq(func(v T) bool {
				if pred(v) {
					return yield(v)
				}
				return true
			})
		},
	}
}

// Sort materializes the sequence and orders it with less (stable).
func (i *Iterator[T]) Sort(less func(a, b T) bool) *Iterator[T] {
	data := i.Collect()
	sort.SliceStable(data, func(a, b int) bool {
		return less(data[a], data[b])
	})
	return From(data)
}

// Count drains the iterator and reports how many elements it produced.
func (i *Iterator[T]) Count() int {
	count := 0
	i.seq(func(T) bool {
		count++
		return true
	})
	return count
}

// Any reports whether some element satisfies pred, short-circuiting on the
// first match.
func (i *Iterator[T]) Any(pred func(T) bool) bool {
	found := false
	i.seq(func(v T) bool {
		if pred(v) {
			found = true
			return false
		}
		return true
	})
	return found
}

// ToArray maps every element through fn into a slice. A free function since
// methods cannot introduce the result type parameter.
func ToArray[T any, S any](it *Iterator[T], fn func(T) S) []S {
	var out []S
	it.seq(func(v T) bool {
		out = append(out, fn(v))
		return true
	})
	return out
}
