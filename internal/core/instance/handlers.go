package instance

import (
	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/statesync"
)

// RegisterHandlers binds every instance mutation to the dispatcher. Called
// once at session wiring.
func (m *Manager) RegisterHandlers(d *statesync.Dispatcher) error {
	handlers := map[string]statesync.HandlerFunc{
		MethodSpawn:         m.handleSpawn,
		MethodSpawnEmpty:    m.handleSpawnEmpty,
		MethodDestroy:       m.handleDestroy,
		MethodParent:        m.handleParent,
		MethodPosition:      m.handlePosition,
		MethodLocalPosition: m.handleLocalPosition,
		MethodRotation:      m.handleRotation,
		MethodLocalRotation: m.handleLocalRotation,
		MethodPose:          m.handlePose,
		MethodLocalPose:     m.handleLocalPose,
		MethodScale:         m.handleScale,
	}
	for method, h := range handlers {
		if err := d.Register(method, m.clearingAfter(h)); err != nil {
			return err
		}
	}
	return nil
}

// clearingAfter drains the nested queue once a top-level record finishes
// applying. Queued instances only make sense while the record that spawned
// them as a side effect is still being applied; whatever survives past that
// point was never adopted and must not leak into the next record's scope.
func (m *Manager) clearingAfter(h statesync.HandlerFunc) statesync.HandlerFunc {
	return func(rec statesync.CallRecord) error {
		err := h(rec)
		if !rec.Nested() {
			m.drainNested()
		}
		return err
	}
}

// drainNested empties the adoption queue, flagging every leftover. The
// instances themselves stay live: their records were applied; only the
// expected outer side effect never asked for them.
func (m *Manager) drainNested() {
	for {
		node, ok := m.nested.Dequeue()
		if !ok {
			return
		}
		m.log.Warn("nested instance never adopted by its outer call",
			log.String("id", node.UniqueID().Short()),
			log.String("prefab", node.PrefabID()))
	}
}

// argReader walks a record's arguments in order, latching the first error so
// handlers can parse linearly and check once at the end.
type argReader struct {
	rec statesync.CallRecord
	idx int
	err error
}

func readArgs(rec statesync.CallRecord, n int) *argReader {
	return &argReader{rec: rec, err: rec.ArgCount(n)}
}

func (r *argReader) take() (statesync.Arg, bool) {
	if r.err != nil || r.idx >= len(r.rec.Args) {
		return statesync.Arg{}, false
	}
	a := r.rec.Args[r.idx]
	r.idx++
	return a, true
}

func (r *argReader) id() identity.ID {
	a, ok := r.take()
	if !ok {
		return identity.Nil
	}
	v, err := a.AsID()
	if err != nil {
		r.err = err
	}
	return v
}

func (r *argReader) str() string {
	a, ok := r.take()
	if !ok {
		return ""
	}
	v, err := a.AsString()
	if err != nil {
		r.err = err
	}
	return v
}

func (r *argReader) vec3() scene.Vector3 {
	a, ok := r.take()
	if !ok {
		return scene.Vector3{}
	}
	v, err := a.AsVec3()
	if err != nil {
		r.err = err
	}
	return v
}

func (r *argReader) quat() scene.Quaternion {
	a, ok := r.take()
	if !ok {
		return scene.Identity
	}
	v, err := a.AsQuat()
	if err != nil {
		r.err = err
	}
	return v
}

func (m *Manager) handleSpawn(rec statesync.CallRecord) error {
	r := readArgs(rec, 5)
	prefab := r.str()
	id := r.id()
	parentID := r.id()
	pos := r.vec3()
	rot := r.quat()
	if r.err != nil {
		return r.err
	}

	node, created, err := m.applySpawn(prefab, "", id, parentID, pos, rot, rec.Nested(), true)
	if err != nil {
		return err
	}
	if created && rec.Nested() {
		m.nested.Enqueue(node)
	}
	return nil
}

func (m *Manager) handleSpawnEmpty(rec statesync.CallRecord) error {
	r := readArgs(rec, 5)
	name := r.str()
	id := r.id()
	parentID := r.id()
	pos := r.vec3()
	rot := r.quat()
	if r.err != nil {
		return r.err
	}

	node, created, err := m.applySpawn("", name, id, parentID, pos, rot, rec.Nested(), true)
	if err != nil {
		return err
	}
	if created && rec.Nested() {
		m.nested.Enqueue(node)
	}
	return nil
}

func (m *Manager) handleDestroy(rec statesync.CallRecord) error {
	r := readArgs(rec, 1)
	id := r.id()
	if r.err != nil {
		return r.err
	}
	m.applyDestroy(id)
	return nil
}

func (m *Manager) handleParent(rec statesync.CallRecord) error {
	r := readArgs(rec, 2)
	targetID := r.id()
	parentID := r.id()
	if r.err != nil {
		return r.err
	}
	m.applySetParent(targetID, parentID)
	return nil
}

func (m *Manager) handlePosition(rec statesync.CallRecord) error {
	r := readArgs(rec, 2)
	targetID := r.id()
	pos := r.vec3()
	if r.err != nil {
		return r.err
	}
	if node, ok := m.resolveTarget(targetID); ok {
		node.SetPosition(pos)
	}
	return nil
}

func (m *Manager) handleLocalPosition(rec statesync.CallRecord) error {
	r := readArgs(rec, 2)
	targetID := r.id()
	pos := r.vec3()
	if r.err != nil {
		return r.err
	}
	if node, ok := m.resolveTarget(targetID); ok {
		node.SetLocalPosition(pos)
	}
	return nil
}

func (m *Manager) handleRotation(rec statesync.CallRecord) error {
	r := readArgs(rec, 2)
	targetID := r.id()
	rot := r.quat()
	if r.err != nil {
		return r.err
	}
	if node, ok := m.resolveTarget(targetID); ok {
		node.SetRotation(rot)
	}
	return nil
}

func (m *Manager) handleLocalRotation(rec statesync.CallRecord) error {
	r := readArgs(rec, 2)
	targetID := r.id()
	rot := r.quat()
	if r.err != nil {
		return r.err
	}
	if node, ok := m.resolveTarget(targetID); ok {
		node.SetLocalRotation(rot)
	}
	return nil
}

func (m *Manager) handlePose(rec statesync.CallRecord) error {
	r := readArgs(rec, 3)
	targetID := r.id()
	pos := r.vec3()
	rot := r.quat()
	if r.err != nil {
		return r.err
	}
	if node, ok := m.resolveTarget(targetID); ok {
		node.SetPosition(pos)
		node.SetRotation(rot)
	}
	return nil
}

func (m *Manager) handleLocalPose(rec statesync.CallRecord) error {
	r := readArgs(rec, 3)
	targetID := r.id()
	pos := r.vec3()
	rot := r.quat()
	if r.err != nil {
		return r.err
	}
	if node, ok := m.resolveTarget(targetID); ok {
		node.SetLocalPosition(pos)
		node.SetLocalRotation(rot)
	}
	return nil
}

func (m *Manager) handleScale(rec statesync.CallRecord) error {
	r := readArgs(rec, 2)
	targetID := r.id()
	s := r.vec3()
	if r.err != nil {
		return r.err
	}
	if node, ok := m.resolveTarget(targetID); ok {
		node.SetLocalScale(s)
	}
	return nil
}
