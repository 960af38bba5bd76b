package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/statesync"
)

func TestReplayLogReproducesSession(t *testing.T) {
	origin := newReplica(t)
	rl := NewReplayLog()
	origin.ic.AddSink(rl, statesync.OptNetwork|statesync.OptSave)

	turret, err := origin.mgr.InstantiatePrefab("turret", nil, scene.Vec3(3, 0, 0), scene.Identity)
	require.NoError(t, err)
	require.NoError(t, origin.mgr.SetRotation(turret, scene.AxisAngle(scene.Vec3(0, 1, 0), 1.2)))
	shell, err := origin.mgr.InstantiatePrefab("shell", turret, scene.Vec3(0, 1, 0), scene.Identity)
	require.NoError(t, err)
	require.NoError(t, origin.mgr.Destroy(shell))

	require.Equal(t, 4, rl.Len())
	want := serializedTable(t, origin.mgr)

	for i := 0; i < 2; i++ {
		fresh := newReplica(t)
		applied, failed := rl.Replay(fresh.dis)
		assert.Equal(t, 4, applied)
		assert.Zero(t, failed)
		assert.Equal(t, string(want), string(serializedTable(t, fresh.mgr)))
	}

	// Playback survives in the log.
	assert.Equal(t, 4, rl.Len())
}

func TestReplayDoesNotRecapture(t *testing.T) {
	origin := newReplica(t)
	rl := NewReplayLog()
	origin.ic.AddSink(rl, statesync.OptNetwork|statesync.OptSave)

	_, err := origin.mgr.InstantiatePrefab("turret", nil, scene.Vec3(0, 0, 0), scene.Identity)
	require.NoError(t, err)

	fresh := newReplica(t)
	echo := NewReplayLog()
	fresh.ic.AddSink(echo, statesync.OptNetwork|statesync.OptSave)

	rl.Replay(fresh.dis)
	assert.Equal(t, 1, fresh.mgr.Count())
	assert.Zero(t, echo.Len())
}

func TestReplayLogSerializeRoundTrip(t *testing.T) {
	origin := newReplica(t)
	rl := NewReplayLog()
	origin.ic.AddSink(rl, statesync.OptNetwork|statesync.OptSave)

	turret, err := origin.mgr.InstantiatePrefab("turret", nil, scene.Vec3(1, 2, 3), scene.Identity)
	require.NoError(t, err)
	require.NoError(t, origin.mgr.SetScale(turret, scene.Vec3(2, 2, 2)))

	data, err := rl.Serialize()
	require.NoError(t, err)

	loaded := NewReplayLog()
	require.NoError(t, loaded.Deserialize(data))
	assert.Equal(t, rl.Records(), loaded.Records())

	fresh := newReplica(t)
	applied, failed := loaded.Replay(fresh.dis)
	assert.Equal(t, 2, applied)
	assert.Zero(t, failed)
	assert.Equal(t,
		string(serializedTable(t, origin.mgr)),
		string(serializedTable(t, fresh.mgr)))
}

func TestReplayLogClear(t *testing.T) {
	rl := NewReplayLog()
	rl.Consume(statesync.CallRecord{Method: "instance.spawn", Options: statesync.OptDefault, Depth: 1})
	require.Equal(t, 1, rl.Len())

	rl.Clear()
	assert.Zero(t, rl.Len())
	assert.Nil(t, rl.Records())
}
