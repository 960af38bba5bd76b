package instance

import (
	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/statesync"
)

// beginMutation opens a sync scope and validates the target. When the bool is
// false the scope is already closed again; err is nil for already-satisfied
// cases like mutating a destroyed object.
func (m *Manager) beginMutation(op string, target *scene.Node) (bool, error) {
	if target == nil {
		m.reject(op + " without target")
		return false, ErrNilTarget
	}
	m.interceptor.Begin()
	if target.Destroyed() {
		m.interceptor.Cancel()
		m.log.Debug(op+" against destroyed object",
			log.String("id", target.UniqueID().Short()))
		return false, nil
	}
	if !m.registered(target) {
		m.interceptor.Cancel()
		m.reject(op+" against unregistered object",
			log.String("name", target.Name()))
		return false, ErrNotRegistered
	}
	return true, nil
}

// SetParent moves target under parent (nil detaches to the scene root),
// keeping the local pose. Re-parenting under the target's own subtree is
// rejected; a dead or unknown parent downgrades to the scene root.
func (m *Manager) SetParent(target, parent *scene.Node) error {
	if ok, err := m.beginMutation("set parent", target); !ok {
		return err
	}
	if parent != nil && parent.IsDescendantOf(target) {
		m.interceptor.Cancel()
		m.reject("re-parent would create a cycle",
			log.String("target", target.Name()),
			log.String("parent", parent.Name()))
		return ErrParentCycle
	}
	parent = m.usableParent(parent)
	target.SetParent(parent)

	m.interceptor.End(MethodParent, statesync.OptDefault,
		statesync.ArgID(target.UniqueID()),
		statesync.ArgID(parentArg(parent)))
	return nil
}

// SetLocalPosition sets the parent-relative position.
func (m *Manager) SetLocalPosition(target *scene.Node, pos scene.Vector3) error {
	if ok, err := m.beginMutation("set local position", target); !ok {
		return err
	}
	target.SetLocalPosition(pos)
	m.interceptor.End(MethodLocalPosition, statesync.OptDefault,
		statesync.ArgID(target.UniqueID()), statesync.ArgVec3(pos))
	return nil
}

// SetPosition sets the world-space position.
func (m *Manager) SetPosition(target *scene.Node, pos scene.Vector3) error {
	if ok, err := m.beginMutation("set position", target); !ok {
		return err
	}
	target.SetPosition(pos)
	m.interceptor.End(MethodPosition, statesync.OptDefault,
		statesync.ArgID(target.UniqueID()), statesync.ArgVec3(pos))
	return nil
}

// SetLocalRotation sets the parent-relative rotation.
func (m *Manager) SetLocalRotation(target *scene.Node, rot scene.Quaternion) error {
	if ok, err := m.beginMutation("set local rotation", target); !ok {
		return err
	}
	target.SetLocalRotation(rot)
	m.interceptor.End(MethodLocalRotation, statesync.OptDefault,
		statesync.ArgID(target.UniqueID()), statesync.ArgQuat(rot))
	return nil
}

// SetRotation sets the world-space rotation.
func (m *Manager) SetRotation(target *scene.Node, rot scene.Quaternion) error {
	if ok, err := m.beginMutation("set rotation", target); !ok {
		return err
	}
	target.SetRotation(rot)
	m.interceptor.End(MethodRotation, statesync.OptDefault,
		statesync.ArgID(target.UniqueID()), statesync.ArgQuat(rot))
	return nil
}

// SetLocalPositionAndRotation applies both parent-relative components in one
// captured call, keeping them atomic on replicas.
func (m *Manager) SetLocalPositionAndRotation(target *scene.Node, pos scene.Vector3, rot scene.Quaternion) error {
	if ok, err := m.beginMutation("set local pose", target); !ok {
		return err
	}
	target.SetLocalPosition(pos)
	target.SetLocalRotation(rot)
	m.interceptor.End(MethodLocalPose, statesync.OptDefault,
		statesync.ArgID(target.UniqueID()), statesync.ArgVec3(pos), statesync.ArgQuat(rot))
	return nil
}

// SetPositionAndRotation applies both world-space components in one captured
// call.
func (m *Manager) SetPositionAndRotation(target *scene.Node, pos scene.Vector3, rot scene.Quaternion) error {
	if ok, err := m.beginMutation("set pose", target); !ok {
		return err
	}
	target.SetPosition(pos)
	target.SetRotation(rot)
	m.interceptor.End(MethodPose, statesync.OptDefault,
		statesync.ArgID(target.UniqueID()), statesync.ArgVec3(pos), statesync.ArgQuat(rot))
	return nil
}

// SetScale sets the local scale.
func (m *Manager) SetScale(target *scene.Node, s scene.Vector3) error {
	if ok, err := m.beginMutation("set scale", target); !ok {
		return err
	}
	target.SetLocalScale(s)
	m.interceptor.End(MethodScale, statesync.OptDefault,
		statesync.ArgID(target.UniqueID()), statesync.ArgVec3(s))
	return nil
}

// resolveTarget finds the live node for an applied record, reporting absent
// targets as already satisfied.
func (m *Manager) resolveTarget(id identity.ID) (*scene.Node, bool) {
	node, ok := m.registry.ResolveNode(id)
	if !ok {
		m.log.Debug("mutation target unknown, already satisfied",
			log.String("id", id.Short()))
		return nil, false
	}
	return node, true
}

// applySetParent is the replica side of SetParent.
func (m *Manager) applySetParent(targetID, parentID identity.ID) {
	target, ok := m.resolveTarget(targetID)
	if !ok {
		return
	}
	var parent *scene.Node
	if !parentID.IsNil() {
		parent, ok = m.registry.ResolveNode(parentID)
		if !ok {
			m.log.Warn("parent not found, attaching to scene root",
				log.String("target", targetID.Short()),
				log.String("parent", parentID.Short()))
		}
	}
	if parent != nil && parent.IsDescendantOf(target) {
		m.log.Error("applied re-parent would create a cycle, skipping",
			log.String("target", targetID.Short()))
		return
	}
	target.SetParent(parent)
}
