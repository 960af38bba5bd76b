package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/catalog"
	"github.com/scenesync/scenesync/internal/core/instance"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/statesync"
)

func newManager(t *testing.T) (*instance.Manager, *statesync.Interceptor) {
	t.Helper()
	logger := log.Nop()
	reg := scene.NewRegistry(logger)
	cat := catalog.New(logger)
	require.True(t, cat.Register("crate", scene.NewNode("crate")))
	ic := statesync.New(logger)
	mgr := instance.New(reg, cat, ic, logger)
	return mgr, ic
}

func TestBindManagerPublishesLifecycle(t *testing.T) {
	mgr, _ := newManager(t)
	bus := NewBus()
	unbind := BindManager(bus, mgr, "host", log.Nop())

	var spawned []Spawned
	var despawned []Despawned
	bus.Subscribe(TypeSpawned, func(ev Event) error {
		assert.Equal(t, "host", ev.Source)
		spawned = append(spawned, ev.Data.(Spawned))
		return nil
	})
	bus.Subscribe(TypeDespawned, func(ev Event) error {
		despawned = append(despawned, ev.Data.(Despawned))
		return nil
	})

	node, err := mgr.InstantiatePrefab("crate", nil, scene.Vec3(1, 2, 3), scene.Identity)
	require.NoError(t, err)
	require.Len(t, spawned, 1)
	assert.Equal(t, node.CombineID(), spawned[0].ID)
	assert.Equal(t, "crate", spawned[0].Record.PrefabID)
	assert.Equal(t, scene.Vec3(1, 2, 3), spawned[0].Record.Position)

	require.NoError(t, mgr.Destroy(node))
	require.Len(t, despawned, 1)
	assert.Equal(t, node.CombineID(), despawned[0].ID)
	assert.Equal(t, "crate", despawned[0].Name)

	// After unbinding, activity no longer reaches the bus.
	unbind()
	_, err = mgr.InstantiatePrefab("crate", nil, scene.Zero, scene.Identity)
	require.NoError(t, err)
	assert.Len(t, spawned, 1)
}

func TestBindManagerSeesReconcileCreates(t *testing.T) {
	source, _ := newManager(t)
	_, err := source.InstantiatePrefab("crate", nil, scene.Vec3(5, 0, 0), scene.Identity)
	require.NoError(t, err)
	snap := source.Snapshot()

	replica, _ := newManager(t)
	bus := NewBus()
	BindManager(bus, replica, "replica", log.Nop())

	spawns := 0
	bus.Subscribe(TypeSpawned, func(Event) error { spawns++; return nil })

	report := replica.Reconcile(snap)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, spawns)
}

func TestBindInterceptorPublishesCaptures(t *testing.T) {
	mgr, ic := newManager(t)
	bus := NewBus()
	unbind := BindInterceptor(bus, ic, "host", log.Nop())

	var captured []Captured
	bus.Subscribe(TypeCaptured, func(ev Event) error {
		captured = append(captured, ev.Data.(Captured))
		return nil
	})

	node, err := mgr.InstantiatePrefab("crate", nil, scene.Zero, scene.Identity)
	require.NoError(t, err)
	require.NoError(t, mgr.SetLocalPosition(node, scene.Vec3(0, 1, 0)))

	require.Len(t, captured, 2)
	assert.Equal(t, instance.MethodSpawn, captured[0].Record.Method)
	assert.Equal(t, instance.MethodLocalPosition, captured[1].Record.Method)

	// Replayed records stay suppressed, so the bus sees nothing extra.
	ic.Replay(func() {
		_, rerr := mgr.InstantiatePrefab("crate", nil, scene.Zero, scene.Identity)
		require.NoError(t, rerr)
	})
	assert.Len(t, captured, 2)

	unbind()
	_, err = mgr.InstantiatePrefab("crate", nil, scene.Zero, scene.Identity)
	require.NoError(t, err)
	assert.Len(t, captured, 2)
}
