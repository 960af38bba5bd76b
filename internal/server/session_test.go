package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/catalog"
	"github.com/scenesync/scenesync/internal/core/events"
	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/instance"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/scene"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New(log.Nop())
	turret := scene.NewNode("turret")
	turret.AddChild(scene.NewNode("muzzle"))
	require.True(t, cat.Register("turret", turret))
	require.True(t, cat.Register("shell", scene.NewNode("shell")))
	return cat
}

// testConfig keeps sessions on loopback WebSocket with short timeouts.
// Keyframe ticks stay off so tests control journal contents themselves.
func testConfig(journal string) Config {
	cfg := DefaultConfig()
	cfg.QUICAddr = ""
	cfg.WSAddr = "127.0.0.1:0"
	cfg.AcceptTimeout = Duration(200 * time.Millisecond)
	cfg.SnapshotInterval = 0
	cfg.JournalPath = journal
	return cfg
}

func startSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(cfg, testCatalog(t), log.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func table(t *testing.T, s *Session) []byte {
	t.Helper()
	var data []byte
	require.NoError(t, s.Do(func(m *instance.Manager) error {
		var err error
		data, err = m.Snapshot().Serialize()
		return err
	}))
	return data
}

func TestSessionLifecycle(t *testing.T) {
	s := startSession(t, testConfig(""))

	assert.True(t, s.Stats().Running)
	assert.NotEmpty(t, s.WSAddr())
	assert.Empty(t, s.QUICAddr())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionRunning)

	var id identity.ID
	require.NoError(t, s.Do(func(m *instance.Manager) error {
		node, err := m.InstantiatePrefab("turret", nil, scene.Vec3(1, 0, 2), scene.Identity)
		if err != nil {
			return err
		}
		id = node.UniqueID()
		return nil
	}))
	assert.True(t, s.Manager().Live(id))
	assert.Equal(t, 1, s.Manager().Count())

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSessionNotRunning)
	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionClosed)
	assert.ErrorIs(t, s.Do(func(*instance.Manager) error { return nil }), ErrSessionNotRunning)
}

func TestSessionDoReportsCallbackError(t *testing.T) {
	s := startSession(t, testConfig(""))

	err := s.Do(func(m *instance.Manager) error {
		_, err := m.InstantiatePrefab("no-such-prefab", nil, scene.Vec3(0, 0, 0), scene.Identity)
		return err
	})
	assert.ErrorIs(t, err, instance.ErrUnknownPrefab)
	assert.Equal(t, 0, s.Manager().Count())
}

func TestSessionStopsWhenContextCancelled(t *testing.T) {
	s, err := NewSession(testConfig(""), testCatalog(t), log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	require.Eventually(t, func() bool {
		return !s.Stats().Running
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionRestoresJournalOnStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.journal")

	first := startSession(t, testConfig(path))
	require.NoError(t, first.Do(func(m *instance.Manager) error {
		turret, err := m.InstantiatePrefab("turret", nil, scene.Vec3(4, 0, 4), scene.Identity)
		if err != nil {
			return err
		}
		if _, err := m.InstantiatePrefab("shell", turret, scene.Vec3(0, 1, 0), scene.Identity); err != nil {
			return err
		}
		return m.SetLocalPosition(turret, scene.Vec3(5, 0, 5))
	}))
	want := table(t, first)
	require.NoError(t, first.Stop())

	second := startSession(t, testConfig(path))
	assert.Equal(t, want, table(t, second))
	assert.Equal(t, 2, second.Manager().Count())
	require.NoError(t, second.Stop())

	// A third generation proves the restart keyframe kept the journal
	// loadable, not just the original session's lines.
	third := startSession(t, testConfig(path))
	assert.Equal(t, want, table(t, third))
}

func TestSessionsReplicateOverWebSocket(t *testing.T) {
	host := startSession(t, testConfig(""))

	// State that exists before anyone joins travels via the join snapshot.
	require.NoError(t, host.Do(func(m *instance.Manager) error {
		_, err := m.InstantiatePrefab("turret", nil, scene.Vec3(1, 0, 1), scene.Identity)
		return err
	}))

	joiner := startSession(t, testConfig(""))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, joiner.Dial(ctx, "websocket", host.WSAddr()))

	require.Eventually(t, func() bool {
		return joiner.Manager().Count() == 1
	}, 5*time.Second, 20*time.Millisecond)

	// Live broadcast from host to joiner.
	require.NoError(t, host.Do(func(m *instance.Manager) error {
		_, err := m.InstantiatePrefab("shell", nil, scene.Vec3(0, 0, 9), scene.Identity)
		return err
	}))
	require.Eventually(t, func() bool {
		return joiner.Manager().Count() == 2
	}, 5*time.Second, 20*time.Millisecond)

	// And back: the joiner's spawn reaches the host.
	require.NoError(t, joiner.Do(func(m *instance.Manager) error {
		_, err := m.InstantiatePrefab("shell", nil, scene.Vec3(2, 0, 2), scene.Identity)
		return err
	}))
	require.Eventually(t, func() bool {
		return host.Manager().Count() == 3
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, host.Stats().Peers)
	assert.Equal(t, 1, joiner.Stats().Peers)
	assert.Equal(t, table(t, host), table(t, joiner))
}

func TestSessionsReplicateOverQUIC(t *testing.T) {
	cfg := testConfig("")
	cfg.WSAddr = ""
	cfg.QUICAddr = "127.0.0.1:0"

	host := startSession(t, cfg)
	joiner := startSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, joiner.Dial(ctx, "quic", host.QUICAddr()))

	require.NoError(t, host.Do(func(m *instance.Manager) error {
		_, err := m.InstantiatePrefab("turret", nil, scene.Vec3(7, 0, 7), scene.Identity)
		return err
	}))
	require.Eventually(t, func() bool {
		return joiner.Manager().Count() == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, table(t, host), table(t, joiner))
}

func TestSessionRejectsPeersOverLimit(t *testing.T) {
	cfg := testConfig("")
	cfg.MaxPeers = 1
	host := startSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := startSession(t, testConfig(""))
	require.NoError(t, first.Dial(ctx, "websocket", host.WSAddr()))
	require.Eventually(t, func() bool {
		return host.Stats().Peers == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The host sheds the second connection as soon as it accepts it. The
	// dial itself may or may not complete before that happens.
	second := startSession(t, testConfig(""))
	_ = second.Dial(ctx, "websocket", host.WSAddr())
	require.Eventually(t, func() bool {
		return second.Stats().Peers == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, host.Stats().Peers)
}

func TestSessionPublishesLifecycleEvents(t *testing.T) {
	s := startSession(t, testConfig(""))

	spawned := make(chan events.Event, 4)
	captured := make(chan events.Event, 4)
	s.Events().Subscribe(events.TypeSpawned, func(ev events.Event) error {
		spawned <- ev
		return nil
	})
	s.Events().Subscribe(events.TypeCaptured, func(ev events.Event) error {
		captured <- ev
		return nil
	})

	var id identity.ID
	require.NoError(t, s.Do(func(m *instance.Manager) error {
		node, err := m.InstantiatePrefab("turret", nil, scene.Vec3(1, 0, 0), scene.Identity)
		if err != nil {
			return err
		}
		id = node.CombineID()
		return nil
	}))

	select {
	case ev := <-spawned:
		payload := ev.Data.(events.Spawned)
		assert.Equal(t, id, payload.ID)
		assert.Equal(t, "turret", payload.Record.PrefabID)
		assert.Equal(t, s.Origin().String(), ev.Source)
	case <-time.After(time.Second):
		t.Fatal("no spawn event")
	}
	select {
	case ev := <-captured:
		assert.Equal(t, instance.MethodSpawn, ev.Data.(events.Captured).Record.Method)
	case <-time.After(time.Second):
		t.Fatal("no capture event")
	}
}
