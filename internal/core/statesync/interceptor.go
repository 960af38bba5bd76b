package statesync

import (
	"sync"

	"github.com/scenesync/scenesync/internal/core/observability/log"
)

// Sink receives captured call records. Implementations decide what a record
// means: queue it for the wire, append it to a change log, hand it to a
// replay recorder.
type Sink interface {
	Consume(rec CallRecord)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(CallRecord)

func (f SinkFunc) Consume(rec CallRecord) { f(rec) }

// SinkID identifies a sink subscription for removal.
type SinkID uint64

type sinkEntry struct {
	id       SinkID
	sink     Sink
	interest Options
}

// Stats counts interceptor activity since construction.
type Stats struct {
	Captured   uint64 // records forwarded to sinks
	Suppressed uint64 // nested or replay-time records held back
	Canceled   uint64 // scopes aborted before emission
	Mismatched uint64 // End or Cancel calls without an open scope
}

// Interceptor tracks open sync scopes and turns completed ones into call
// records. A scope opens with Begin at the top of a mutation and closes with
// exactly one End or Cancel. Scopes nest: a mutation invoked from inside
// another mutation's scope closes at depth 2 and is normally suppressed,
// since replaying the outer record reproduces it.
//
// One interceptor serves one session. It is handed to collaborators
// explicitly; nothing resolves it through package state.
type Interceptor struct {
	log log.Log

	mu       sync.Mutex
	sinks    []sinkEntry
	nextSink SinkID
	depth    int
	replay   int
	stats    Stats
}

// New builds an interceptor with no sinks attached.
func New(logger log.Log) *Interceptor {
	if logger == nil {
		logger = log.Provide()
	}
	return &Interceptor{
		log: logger.With(log.String("component", "statesync")),
	}
}

// AddSink subscribes a sink for records whose options overlap interest.
// The returned id removes the subscription again.
func (i *Interceptor) AddSink(s Sink, interest Options) SinkID {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.nextSink++
	i.sinks = append(i.sinks, sinkEntry{id: i.nextSink, sink: s, interest: interest})
	return i.nextSink
}

// RemoveSink drops a subscription. Unknown ids are ignored.
func (i *Interceptor) RemoveSink(id SinkID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, e := range i.sinks {
		if e.id == id {
			i.sinks = append(i.sinks[:idx], i.sinks[idx+1:]...)
			return
		}
	}
}

// Begin opens a sync scope. Every Begin must be paired with exactly one End
// or Cancel on the same goroutine before the mutation returns.
func (i *Interceptor) Begin() {
	i.mu.Lock()
	i.depth++
	i.mu.Unlock()
}

// End closes the innermost scope and emits its record. Emission is skipped
// for nested scopes unless the options carry OptAnyDepth, and always skipped
// while a replay is running so replicas never re-broadcast what they apply.
func (i *Interceptor) End(method string, opts Options, args ...Arg) {
	i.mu.Lock()
	if i.depth == 0 {
		i.stats.Mismatched++
		i.mu.Unlock()
		i.log.Error("sync scope ended without begin", log.String("method", method))
		return
	}
	depth := i.depth
	i.depth--

	forward := (depth == 1 || opts.AnyDepth()) && i.replay == 0
	var targets []Sink
	if forward {
		i.stats.Captured++
		for _, e := range i.sinks {
			if e.interest&opts.Targets() != 0 {
				targets = append(targets, e.sink)
			}
		}
	} else {
		i.stats.Suppressed++
	}
	i.mu.Unlock()

	if !forward {
		return
	}
	rec := CallRecord{Method: method, Args: args, Options: opts, Depth: depth}
	// Outside the lock: a sink may loop a record straight back into a replay.
	for _, s := range targets {
		s.Consume(rec)
	}
}

// Cancel aborts the innermost scope without emitting anything. The mutation
// that opened the scope must return right after, leaving any outer scope to
// its own End.
func (i *Interceptor) Cancel() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.depth == 0 {
		i.stats.Mismatched++
		i.log.Error("sync scope canceled without begin")
		return
	}
	i.depth--
	i.stats.Canceled++
}

// Depth returns the number of currently open scopes.
func (i *Interceptor) Depth() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.depth
}

// Replaying reports whether a replay is in progress.
func (i *Interceptor) Replaying() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.replay > 0
}

// Replay runs fn with capture suppressed. Mutations executed inside still
// open and close scopes as usual, but nothing they emit leaves the process.
// Replays nest.
func (i *Interceptor) Replay(fn func()) {
	i.mu.Lock()
	i.replay++
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		i.replay--
		i.mu.Unlock()
	}()
	fn()
}

// Stats returns a snapshot of the counters.
func (i *Interceptor) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}
