package events

import (
	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/instance"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/statesync"
)

// Event types published by the session bridges.
const (
	TypeSpawned   = "instance.spawned"
	TypeDespawned = "instance.despawned"
	TypeCaptured  = "sync.captured"
)

// Spawned is the Data payload of a TypeSpawned event.
type Spawned struct {
	ID     identity.ID
	Record instance.Record
}

// Despawned is the Data payload of a TypeDespawned event.
type Despawned struct {
	ID   identity.ID
	Name string
}

// Captured is the Data payload of a TypeCaptured event, published once per
// record the interceptor forwards to its sinks.
type Captured struct {
	Record statesync.CallRecord
}

// BindManager publishes TypeSpawned and TypeDespawned for every instance
// the manager creates or destroys. Hooks fire for local mutations, remote
// applies, and reconciliation alike, so subscribers see the whole lifecycle
// of the replica. The returned function unbinds again.
func BindManager(b *Bus, m *instance.Manager, source string, logger log.Log) func() {
	if logger == nil {
		logger = log.Nop()
	}
	lg := logger.With(log.String("component", "events"))

	spawnID := m.AddSpawnHook(func(root *scene.Node, rec instance.Record) {
		err := b.Publish(Event{
			Type:   TypeSpawned,
			Source: source,
			Data:   Spawned{ID: root.CombineID(), Record: rec},
		})
		if err != nil {
			lg.Warn("spawn event handler failed", log.Error(err))
		}
	})
	despawnID := m.AddDespawnHook(func(root *scene.Node) {
		err := b.Publish(Event{
			Type:   TypeDespawned,
			Source: source,
			Data:   Despawned{ID: root.CombineID(), Name: root.Name()},
		})
		if err != nil {
			lg.Warn("despawn event handler failed", log.Error(err))
		}
	})

	return func() {
		m.RemoveSpawnHook(spawnID)
		m.RemoveDespawnHook(despawnID)
	}
}

// BindInterceptor republishes every record the interceptor forwards to its
// sinks as a TypeCaptured event. Suppressed and cancelled scopes never
// reach the bus, matching what the other sinks see. The returned function
// unbinds again.
func BindInterceptor(b *Bus, ic *statesync.Interceptor, source string, logger log.Log) func() {
	if logger == nil {
		logger = log.Nop()
	}
	lg := logger.With(log.String("component", "events"))

	id := ic.AddSink(statesync.SinkFunc(func(rec statesync.CallRecord) {
		err := b.Publish(Event{
			Type:   TypeCaptured,
			Source: source,
			Data:   Captured{Record: rec},
		})
		if err != nil {
			lg.Warn("capture event handler failed", log.Error(err))
		}
	}), statesync.OptNetwork|statesync.OptSave)

	return func() { ic.RemoveSink(id) }
}
