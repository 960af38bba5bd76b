// Package instance owns the lifecycle of synchronized scene instances:
// spawning from the prefab catalog, destruction, transform mutations, the
// snapshot table and reconciliation against incoming snapshots. Every
// mutation runs through a sync scope so the network, save and replay sinks
// all observe the same stream.
package instance

import (
	"sync"

	"github.com/scenesync/scenesync/internal/core/catalog"
	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/statesync"
	"github.com/scenesync/scenesync/pkg/sequence"
)

// Sync method names. These strings are the wire contract: replicas match
// records to handlers by them (or by their xxhash on binary transports), so
// they never change meaning once shipped.
const (
	MethodSpawn         = "instance.spawn"
	MethodSpawnEmpty    = "instance.spawnEmpty"
	MethodDestroy       = "instance.destroy"
	MethodParent        = "instance.parent"
	MethodPosition      = "instance.position"
	MethodLocalPosition = "instance.localPosition"
	MethodRotation      = "instance.rotation"
	MethodLocalRotation = "instance.localRotation"
	MethodPose          = "instance.pose"
	MethodLocalPose     = "instance.localPose"
	MethodScale         = "instance.scale"
)

// PreSpawnHook observes an imminent spawn, before any node exists. Prefab
// spawns carry the template id with an empty name; empty spawns the reverse.
type PreSpawnHook func(prefabID, name string)

// SpawnHook observes instance creation. Hooks run inside the spawn's sync
// scope, so any instantiation they perform is captured as a nested record.
type SpawnHook func(root *scene.Node, rec Record)

// DespawnHook observes instance destruction, invoked while the subtree is
// still intact.
type DespawnHook func(root *scene.Node)

// PostDespawnHook observes completed destruction. It receives the freed id
// once the subtree has left both the registry and the instance table.
type PostDespawnHook func(id identity.ID)

// HookID identifies a hook subscription for removal.
type HookID uint64

type preSpawnHookEntry struct {
	id   HookID
	hook PreSpawnHook
}

type spawnHookEntry struct {
	id   HookID
	hook SpawnHook
}

type despawnHookEntry struct {
	id   HookID
	hook DespawnHook
}

type postDespawnHookEntry struct {
	id   HookID
	hook PostDespawnHook
}

// tracked is the manager's live view of one instance.
type tracked struct {
	id       identity.ID
	prefabID string
	name     string
	root     *scene.Node
	state    State
	nested   bool
	// hooksRan guards against running spawn hooks twice when an instance
	// is first rebuilt from its record and later adopted by the hook that
	// originally produced it.
	hooksRan bool
}

// Stats counts manager activity since construction.
type Stats struct {
	Spawned   uint64
	Destroyed uint64
	Adopted   uint64
	Rejected  uint64 // operations dropped by validation
}

// Manager orchestrates synchronized instances for one session. All mutations
// must arrive on the session's mutation goroutine; the internal lock only
// protects read paths like Snapshot and Stats that other goroutines use.
type Manager struct {
	log         log.Log
	registry    *scene.Registry
	catalog     *catalog.Catalog
	interceptor *statesync.Interceptor

	mu      sync.RWMutex
	records map[identity.ID]*tracked
	order   []identity.ID
	nested  sequence.Queue[*scene.Node]

	nextHook         HookID
	preSpawnHooks    []preSpawnHookEntry
	spawnHooks       []spawnHookEntry
	despawnHooks     []despawnHookEntry
	postDespawnHooks []postDespawnHookEntry

	stats Stats
}

// New wires a manager to its collaborators. The dispatcher registration in
// RegisterHandlers is separate so callers control when replay routing goes
// live.
func New(reg *scene.Registry, cat *catalog.Catalog, ic *statesync.Interceptor, logger log.Log) *Manager {
	if logger == nil {
		logger = log.Provide()
	}
	return &Manager{
		log:         logger.With(log.String("component", "instance.manager")),
		registry:    reg,
		catalog:     cat,
		interceptor: ic,
		records:     make(map[identity.ID]*tracked),
	}
}

// Registry exposes the scene registry the manager registers instances with.
func (m *Manager) Registry() *scene.Registry { return m.registry }

// AddPreSpawnHook subscribes to the moment just before an instance is built.
// Hooks run in subscription order, inside the spawn's sync scope.
func (m *Manager) AddPreSpawnHook(h PreSpawnHook) HookID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHook++
	m.preSpawnHooks = append(m.preSpawnHooks, preSpawnHookEntry{id: m.nextHook, hook: h})
	return m.nextHook
}

// RemovePreSpawnHook drops a pre-spawn subscription.
func (m *Manager) RemovePreSpawnHook(id HookID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.preSpawnHooks {
		if e.id == id {
			m.preSpawnHooks = append(m.preSpawnHooks[:i], m.preSpawnHooks[i+1:]...)
			return
		}
	}
}

// AddSpawnHook subscribes to instance creation. Hooks run in subscription
// order.
func (m *Manager) AddSpawnHook(h SpawnHook) HookID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHook++
	m.spawnHooks = append(m.spawnHooks, spawnHookEntry{id: m.nextHook, hook: h})
	return m.nextHook
}

// RemoveSpawnHook drops a spawn subscription.
func (m *Manager) RemoveSpawnHook(id HookID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.spawnHooks {
		if e.id == id {
			m.spawnHooks = append(m.spawnHooks[:i], m.spawnHooks[i+1:]...)
			return
		}
	}
}

// AddDespawnHook subscribes to instance destruction.
func (m *Manager) AddDespawnHook(h DespawnHook) HookID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHook++
	m.despawnHooks = append(m.despawnHooks, despawnHookEntry{id: m.nextHook, hook: h})
	return m.nextHook
}

// RemoveDespawnHook drops a despawn subscription.
func (m *Manager) RemoveDespawnHook(id HookID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.despawnHooks {
		if e.id == id {
			m.despawnHooks = append(m.despawnHooks[:i], m.despawnHooks[i+1:]...)
			return
		}
	}
}

// AddPostDespawnHook subscribes to completed destruction.
func (m *Manager) AddPostDespawnHook(h PostDespawnHook) HookID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHook++
	m.postDespawnHooks = append(m.postDespawnHooks, postDespawnHookEntry{id: m.nextHook, hook: h})
	return m.nextHook
}

// RemovePostDespawnHook drops a post-despawn subscription.
func (m *Manager) RemovePostDespawnHook(id HookID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.postDespawnHooks {
		if e.id == id {
			m.postDespawnHooks = append(m.postDespawnHooks[:i], m.postDespawnHooks[i+1:]...)
			return
		}
	}
}

func (m *Manager) runPreSpawnHooks(prefabID, name string) {
	m.mu.RLock()
	hooks := make([]PreSpawnHook, len(m.preSpawnHooks))
	for i, e := range m.preSpawnHooks {
		hooks[i] = e.hook
	}
	m.mu.RUnlock()

	for _, h := range hooks {
		h(prefabID, name)
	}
}

func (m *Manager) runSpawnHooks(t *tracked) {
	m.mu.RLock()
	hooks := make([]SpawnHook, len(m.spawnHooks))
	for i, e := range m.spawnHooks {
		hooks[i] = e.hook
	}
	m.mu.RUnlock()

	rec := m.recordFor(t)
	for _, h := range hooks {
		h(t.root, rec)
	}
	t.hooksRan = true
}

func (m *Manager) runDespawnHooks(root *scene.Node) {
	m.mu.RLock()
	hooks := make([]DespawnHook, len(m.despawnHooks))
	for i, e := range m.despawnHooks {
		hooks[i] = e.hook
	}
	m.mu.RUnlock()

	for _, h := range hooks {
		h(root)
	}
}

func (m *Manager) runPostDespawnHooks(id identity.ID) {
	m.mu.RLock()
	hooks := make([]PostDespawnHook, len(m.postDespawnHooks))
	for i, e := range m.postDespawnHooks {
		hooks[i] = e.hook
	}
	m.mu.RUnlock()

	for _, h := range hooks {
		h(id)
	}
}

// Live reports whether an instance id is currently tracked and alive.
func (m *Manager) Live(id identity.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.records[id]
	return ok && t.state == StateLive
}

// Resolve returns the live root node for an instance id.
func (m *Manager) Resolve(id identity.ID) (*scene.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.records[id]
	if !ok || t.state != StateLive {
		return nil, false
	}
	return t.root, true
}

// Count returns the number of live instances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// NotifyNetworkSpawn binds an instance whose lifetime an external network
// layer drives (a remote avatar, a transport-owned actor). An id already
// tracked resolves to the live instance; an unknown id is built locally from
// the catalog under the announced id. The capture skips the network sink,
// since that layer already replicated the spawn itself, but the save and
// replay sinks still record it.
func (m *Manager) NotifyNetworkSpawn(prefabID string, id identity.ID, parent *scene.Node, pos scene.Vector3, rot scene.Quaternion) (*scene.Node, error) {
	if id.IsNil() {
		m.reject("network spawn notification without id", log.String("prefab", prefabID))
		return nil, ErrNilTarget
	}
	if t, ok := m.lookup(id); ok {
		return t.root, nil
	}

	m.interceptor.Begin()
	m.runPreSpawnHooks(prefabID, "")

	node, ok := m.catalog.Instantiate(prefabID, id)
	if !ok {
		m.interceptor.Cancel()
		m.reject("network spawn against unknown prefab", log.String("prefab", prefabID))
		return nil, ErrUnknownPrefab
	}

	parent = m.usableParent(parent)
	nested := m.interceptor.Depth() > 1
	t := m.place(node, prefabID, "", parent, pos, rot, nested)
	m.runSpawnHooks(t)

	m.interceptor.End(MethodSpawn, statesync.OptSave|statesync.OptAnyDepth,
		statesync.ArgString(prefabID),
		statesync.ArgID(node.UniqueID()),
		statesync.ArgID(parentArg(parent)),
		statesync.ArgVec3(pos),
		statesync.ArgQuat(rot))
	return node, nil
}

// NotifyNetworkDespawn retires an instance the external network layer already
// despawned on its side. With destroy the subtree is torn down like Destroy;
// without it the instance only leaves the table and the registry, so the
// caller keeps the node. Unknown ids count as satisfied. Like the spawn
// notification, the capture bypasses the network sink.
func (m *Manager) NotifyNetworkDespawn(id identity.ID, destroy bool) error {
	t, ok := m.lookup(id)
	if !ok {
		m.log.Debug("network despawn for unknown id, already satisfied",
			log.String("id", id.Short()))
		return nil
	}

	m.interceptor.Begin()
	if destroy {
		m.destroyLocal(t.root)
	} else {
		m.runDespawnHooks(t.root)
		m.registry.UnregisterSubtree(t.root)
		t.state = StateDestroyed
		m.untrack(t.id)
		m.runPostDespawnHooks(t.id)
	}
	m.interceptor.End(MethodDestroy, statesync.OptSave|statesync.OptAnyDepth,
		statesync.ArgID(id))
	return nil
}

// recordFor materializes the serializable record from the live node. Reading
// the node, not cached fields, keeps the table truthful even if a transform
// changed through several ops since the spawn.
func (m *Manager) recordFor(t *tracked) Record {
	rec := Record{
		PrefabID: t.prefabID,
		Position: t.root.LocalPosition(),
		Rotation: t.root.LocalRotation(),
		Scale:    t.root.LocalScale(),
		Nested:   t.nested,
	}
	if t.prefabID == "" {
		rec.Name = t.name
	}
	if p := t.root.Parent(); p != nil {
		pid := p.UniqueID()
		rec.ParentID = &pid
	}
	return rec
}

func (m *Manager) track(t *tracked) {
	m.mu.Lock()
	m.records[t.id] = t
	m.order = append(m.order, t.id)
	m.stats.Spawned++
	m.mu.Unlock()
}

func (m *Manager) untrack(id identity.ID) {
	m.mu.Lock()
	delete(m.records, id)
	for i, ordered := range m.order {
		if ordered == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.stats.Destroyed++
	m.mu.Unlock()
}

func (m *Manager) lookup(id identity.ID) (*tracked, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.records[id]
	return t, ok
}

func (m *Manager) reject(msg string, fields ...log.Field) {
	m.mu.Lock()
	m.stats.Rejected++
	m.mu.Unlock()
	m.log.Error(msg, fields...)
}
