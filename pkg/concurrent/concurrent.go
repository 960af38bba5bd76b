// Package concurrent runs an action across every element of a sequence on
// its own goroutine. The fan-out helpers back the replication hub's
// per-peer broadcast.
package concurrent

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/scenesync/scenesync/pkg/sequence"
)

// Concurrent runs action for each element on its own goroutine and waits for
// all of them. The first error wins; later ones are dropped.
func Concurrent[T any](i *sequence.Iterator[T], action func(T) error) error {
	group := errgroup.Group{}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}
		group.Go(func() error {
			return action(value)
		})
	}
	return group.Wait()
}

// ParallelMute runs action for each element on its own goroutine, waits for
// all of them, and swallows errors. For teardown paths where partial failure
// changes nothing.
func ParallelMute[T any](i *sequence.Iterator[T], action func(T) error) {
	wg := sync.WaitGroup{}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}
		wg.Add(1)
		go func(value T) {
			defer wg.Done()
			_ = action(value)
		}(value)
	}
	wg.Wait()
}
