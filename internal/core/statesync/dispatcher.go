package statesync

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/scenesync/scenesync/internal/core/observability/log"
)

// MethodHash is the stable 64-bit identifier a method name travels under in
// binary frames. Both replicas hash the same registration strings, so the
// mapping never needs negotiation.
func MethodHash(method string) uint64 {
	return xxhash.Sum64String(method)
}

// HandlerFunc applies one decoded call record to local state.
type HandlerFunc func(rec CallRecord) error

// DispatcherStats counts replay activity since construction.
type DispatcherStats struct {
	Applied uint64
	Failed  uint64
}

// Dispatcher routes call records to registered handlers. Application always
// runs inside interceptor.Replay, so handlers reuse the ordinary mutation
// paths without re-emitting records.
type Dispatcher struct {
	log         log.Log
	interceptor *Interceptor

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	byHash   map[uint64]string
	stats    DispatcherStats
}

// NewDispatcher builds a dispatcher bound to the interceptor whose capture
// it must suppress during replay.
func NewDispatcher(ic *Interceptor, logger log.Log) *Dispatcher {
	if logger == nil {
		logger = log.Provide()
	}
	return &Dispatcher{
		log:         logger.With(log.String("component", "statesync.dispatcher")),
		interceptor: ic,
		handlers:    make(map[string]HandlerFunc),
		byHash:      make(map[uint64]string),
	}
}

// Register binds a handler to a method name. Registration happens once at
// session wiring; a duplicate name is a programming error and is rejected.
func (d *Dispatcher) Register(method string, h HandlerFunc) error {
	if method == "" || h == nil {
		return fmt.Errorf("statesync: invalid handler registration for %q", method)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[method]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, method)
	}
	d.handlers[method] = h
	d.byHash[MethodHash(method)] = method
	return nil
}

// MethodByHash resolves a wire hash back to the registered method name.
func (d *Dispatcher) MethodByHash(h uint64) (string, bool) {
	d.mu.RLock()
	m, ok := d.byHash[h]
	d.mu.RUnlock()
	return m, ok
}

// Methods lists the registered method names in registration-independent map
// order. Intended for diagnostics.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for m := range d.handlers {
		out = append(out, m)
	}
	return out
}

// Apply executes one record under replay suppression. Unknown methods and
// handler failures come back as errors; the caller decides whether the
// stream continues.
func (d *Dispatcher) Apply(rec CallRecord) error {
	d.mu.RLock()
	h, ok := d.handlers[rec.Method]
	d.mu.RUnlock()
	if !ok {
		d.mu.Lock()
		d.stats.Failed++
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMethod, rec.Method)
	}

	var err error
	d.interceptor.Replay(func() {
		err = h(rec)
	})

	d.mu.Lock()
	if err != nil {
		d.stats.Failed++
	} else {
		d.stats.Applied++
	}
	d.mu.Unlock()
	return err
}

// ApplyAll executes a record stream in order, logging and skipping entries
// that fail so one bad record cannot wedge a save file or a replay. Returns
// the number applied and the number skipped.
func (d *Dispatcher) ApplyAll(recs []CallRecord) (applied, failed int) {
	for _, rec := range recs {
		if err := d.Apply(rec); err != nil {
			failed++
			d.log.Error("record skipped during replay",
				log.String("method", rec.Method),
				log.Int("depth", rec.Depth),
				log.Error(err))
			continue
		}
		applied++
	}
	return applied, failed
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}
