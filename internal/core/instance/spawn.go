package instance

import (
	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/statesync"
)

// InstantiatePrefab spawns a new instance of a cataloged prefab, optionally
// under a parent, with a parent-relative pose (world pose when parent is
// nil). The call is captured for all sinks even when it happens inside an
// enclosing scope: a nested spawn must still reach replicas on its own.
//
// When invoked during replay, the call first tries to adopt the matching
// pre-built instance from the nested queue instead of creating a duplicate.
func (m *Manager) InstantiatePrefab(prefabID string, parent *scene.Node, pos scene.Vector3, rot scene.Quaternion) (*scene.Node, error) {
	if m.interceptor.Replaying() {
		if node := m.adoptQueued(prefabID, "", parent, pos, rot); node != nil {
			return node, nil
		}
		m.log.Warn("side-effect spawn had no queued instance, creating locally",
			log.String("prefab", prefabID))
	}

	m.interceptor.Begin()
	m.runPreSpawnHooks(prefabID, "")

	node, ok := m.catalog.Instantiate(prefabID, identity.New())
	if !ok {
		m.interceptor.Cancel()
		m.reject("instantiate against unknown prefab", log.String("prefab", prefabID))
		return nil, ErrUnknownPrefab
	}

	parent = m.usableParent(parent)
	nested := m.interceptor.Depth() > 1
	t := m.place(node, prefabID, "", parent, pos, rot, nested)
	m.runSpawnHooks(t)

	m.interceptor.End(MethodSpawn, statesync.OptDefault|statesync.OptAnyDepth,
		statesync.ArgString(prefabID),
		statesync.ArgID(node.UniqueID()),
		statesync.ArgID(parentArg(parent)),
		statesync.ArgVec3(pos),
		statesync.ArgQuat(rot))
	return node, nil
}

// InstantiateEmpty spawns a bare named node with no template behind it.
// Otherwise identical to InstantiatePrefab.
func (m *Manager) InstantiateEmpty(name string, parent *scene.Node, pos scene.Vector3, rot scene.Quaternion) (*scene.Node, error) {
	if m.interceptor.Replaying() {
		if node := m.adoptQueued("", name, parent, pos, rot); node != nil {
			return node, nil
		}
		m.log.Warn("side-effect spawn had no queued instance, creating locally",
			log.String("name", name))
	}

	m.interceptor.Begin()
	m.runPreSpawnHooks("", name)

	node := scene.NewNode(name)
	scene.AssignInstanceIDs(node, node.UniqueID())

	parent = m.usableParent(parent)
	nested := m.interceptor.Depth() > 1
	t := m.place(node, "", name, parent, pos, rot, nested)
	m.runSpawnHooks(t)

	m.interceptor.End(MethodSpawnEmpty, statesync.OptDefault|statesync.OptAnyDepth,
		statesync.ArgString(name),
		statesync.ArgID(node.UniqueID()),
		statesync.ArgID(parentArg(parent)),
		statesync.ArgVec3(pos),
		statesync.ArgQuat(rot))
	return node, nil
}

// Destroy tears down a registered subtree and every tracked instance rooted
// inside it. Destroying an already destroyed object is treated as satisfied.
func (m *Manager) Destroy(target *scene.Node) error {
	if target == nil {
		m.reject("destroy without target")
		return ErrNilTarget
	}

	m.interceptor.Begin()

	if target.Destroyed() {
		m.interceptor.Cancel()
		m.log.Debug("destroy target already gone",
			log.String("id", target.UniqueID().Short()))
		return nil
	}
	if !m.registered(target) {
		m.interceptor.Cancel()
		m.reject("destroy target is not registered",
			log.String("name", target.Name()))
		return ErrNotRegistered
	}

	id := target.UniqueID()
	m.destroyLocal(target)

	// Top-level capture only: a destroy issued by a side effect of another
	// synchronized call is reproduced on replicas by that call's own replay.
	m.interceptor.End(MethodDestroy, statesync.OptDefault,
		statesync.ArgID(id))
	return nil
}

// applySpawn rebuilds an instance from its captured arguments on the replica
// side. Duplicate deliveries resolve to the existing instance with created
// false. runHooks is false during reconciliation, which sequences hooks
// itself after the whole table is rebuilt.
func (m *Manager) applySpawn(prefabID, name string, id identity.ID, parentID identity.ID, pos scene.Vector3, rot scene.Quaternion, nested, runHooks bool) (node *scene.Node, created bool, err error) {
	if t, ok := m.lookup(id); ok {
		m.log.Debug("spawn already applied", log.String("id", id.Short()))
		return t.root, false, nil
	}
	if runHooks {
		m.runPreSpawnHooks(prefabID, name)
	}

	if prefabID != "" {
		var ok bool
		node, ok = m.catalog.Instantiate(prefabID, id)
		if !ok {
			return nil, false, ErrUnknownPrefab
		}
	} else {
		node = scene.NewNode(name)
		scene.AssignInstanceIDs(node, id)
	}

	var parent *scene.Node
	if !parentID.IsNil() {
		var ok bool
		parent, ok = m.registry.ResolveNode(parentID)
		if !ok {
			m.log.Warn("spawn parent not found, attaching to scene root",
				log.String("id", id.Short()),
				log.String("parent", parentID.Short()))
		}
	}

	t := m.place(node, prefabID, name, parent, pos, rot, nested)
	if runHooks {
		m.runSpawnHooks(t)
	}
	return node, true, nil
}

// applyDestroy mirrors Destroy on the replica side. Unknown ids mean the
// object is already gone and count as success.
func (m *Manager) applyDestroy(id identity.ID) {
	node, ok := m.registry.ResolveNode(id)
	if !ok {
		m.log.Debug("destroy for unknown id, already satisfied",
			log.String("id", id.Short()))
		return
	}
	m.destroyLocal(node)
}

// place attaches, poses, registers and tracks a freshly built instance.
func (m *Manager) place(node *scene.Node, prefabID, name string, parent *scene.Node, pos scene.Vector3, rot scene.Quaternion, nested bool) *tracked {
	node.SetParent(parent)
	node.SetLocalPosition(pos)
	node.SetLocalRotation(rot)
	m.registry.RegisterSubtree(node)

	t := &tracked{
		id:       node.UniqueID(),
		prefabID: prefabID,
		name:     name,
		root:     node,
		state:    StateLive,
		nested:   nested,
	}
	m.track(t)
	return t
}

// destroyLocal runs the shared teardown: despawn hooks for every tracked
// instance rooted in the subtree, registry removal before destruction, record
// removal, then post-despawn hooks with the freed ids. Tracked instances
// buried under the target die with it.
func (m *Manager) destroyLocal(target *scene.Node) {
	doomed := m.trackedWithin(target)
	for _, t := range doomed {
		m.runDespawnHooks(t.root)
	}
	if len(doomed) == 0 {
		// Scene-authored or child subtree with no tracked roots inside.
		m.runDespawnHooks(target)
	}
	freed := target.UniqueID()

	m.registry.UnregisterSubtree(target)
	target.Destroy()

	for _, t := range doomed {
		t.state = StateDestroyed
		m.untrack(t.id)
		m.runPostDespawnHooks(t.id)
	}
	if len(doomed) == 0 {
		m.runPostDespawnHooks(freed)
	}
}

// trackedWithin collects tracked instances whose root sits inside the given
// subtree, in creation order.
func (m *Manager) trackedWithin(target *scene.Node) []*tracked {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*tracked
	for _, id := range m.order {
		t := m.records[id]
		if t != nil && t.root.IsDescendantOf(target) {
			out = append(out, t)
		}
	}
	return out
}

// adoptQueued hands out the next pre-built nested instance if it matches the
// requested prefab (or name, for empty instances). A mismatch leaves the
// queue alone; the stream order and the local side effects have diverged and
// the caller falls back to a local spawn.
//
// The adopted node is re-placed with the caller's parent and pose. Its own
// record may have arrived before the parent existed, in which case it is
// still sitting at the scene root; the side-effect call carries the same
// deterministic placement the originator used.
func (m *Manager) adoptQueued(prefabID, name string, parent *scene.Node, pos scene.Vector3, rot scene.Quaternion) *scene.Node {
	head, ok := m.nested.Peek()
	if !ok {
		return nil
	}
	if head.PrefabID() != prefabID || (prefabID == "" && head.Name() != name) {
		m.log.Warn("queued nested instance does not match side-effect spawn",
			log.String("queued", head.PrefabID()),
			log.String("requested", prefabID))
		return nil
	}
	m.nested.Dequeue()

	head.SetParent(m.usableParent(parent))
	head.SetLocalPosition(pos)
	head.SetLocalRotation(rot)

	m.mu.Lock()
	m.stats.Adopted++
	m.mu.Unlock()

	if t, ok := m.lookup(head.UniqueID()); ok && !t.hooksRan {
		m.runSpawnHooks(t)
	}
	return head
}

// usableParent validates a requested parent, downgrading to the scene root
// when it is dead or unknown to the registry.
func (m *Manager) usableParent(parent *scene.Node) *scene.Node {
	if parent == nil {
		return nil
	}
	if parent.Destroyed() {
		m.log.Warn("requested parent is destroyed, attaching to scene root",
			log.String("parent", parent.Name()))
		return nil
	}
	if !m.registered(parent) {
		m.log.Warn("requested parent is not registered, attaching to scene root",
			log.String("parent", parent.Name()))
		return nil
	}
	return parent
}

func (m *Manager) registered(n *scene.Node) bool {
	got, ok := m.registry.Resolve(n.UniqueID())
	return ok && got == scene.Object(n)
}

func parentArg(parent *scene.Node) identity.ID {
	if parent == nil {
		return identity.Nil
	}
	return parent.UniqueID()
}
