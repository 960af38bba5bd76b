package scene

import (
	"sync"

	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
)

// Registry maps unique ids to live scene objects. Every identity-bearing node
// of every spawned instance is registered here, not just instance roots, so
// sync calls can target any depth of a hierarchy.
//
// A session owns exactly one Registry; it is handed to collaborators rather
// than reached through package state.
type Registry struct {
	log log.Log

	mu      sync.RWMutex
	objects map[identity.ID]Object
}

// NewRegistry builds an empty registry.
func NewRegistry(logger log.Log) *Registry {
	if logger == nil {
		logger = log.Provide()
	}
	return &Registry{
		log:     logger.With(log.String("component", "scene.registry")),
		objects: make(map[identity.ID]Object),
	}
}

// Register binds the object under its current unique id. Registering the same
// object again is a no-op. If the id is already bound to a different live
// object the existing binding wins and the call is dropped with a warning.
func (r *Registry) Register(obj Object) bool {
	if obj == nil {
		r.log.Warn("register dropped: nil object")
		return false
	}
	id := obj.UniqueID()
	if id.IsNil() {
		r.log.Warn("register dropped: object has no unique id",
			log.String("name", obj.Name()))
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.objects[id]; ok {
		if existing == obj {
			return true
		}
		r.log.Warn("unique id collision, keeping existing binding",
			log.String("id", id.Short()),
			log.String("existing", existing.Name()),
			log.String("rejected", obj.Name()))
		return false
	}
	r.objects[id] = obj
	return true
}

// Unregister removes the binding for the object's id if that binding points at
// this object. Unknown ids are ignored.
func (r *Registry) Unregister(obj Object) {
	if obj == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.objects[obj.UniqueID()]; ok && existing == obj {
		delete(r.objects, obj.UniqueID())
	}
}

// ChangeUniqueID rebinds a registered node under a new id, keeping dependents
// resolvable while an instance adopts its replicated identity.
func (r *Registry) ChangeUniqueID(n *Node, id identity.ID) bool {
	if n == nil || id.IsNil() {
		return false
	}
	r.mu.Lock()
	if existing, ok := r.objects[id]; ok && existing != Object(n) {
		r.mu.Unlock()
		r.log.Warn("unique id change collides with live object",
			log.String("id", id.Short()),
			log.String("existing", existing.Name()))
		return false
	}
	if existing, ok := r.objects[n.UniqueID()]; ok && existing == Object(n) {
		delete(r.objects, n.UniqueID())
	}
	n.SetUniqueID(id)
	r.objects[id] = n
	r.mu.Unlock()
	return true
}

// Resolve looks an object up by unique id.
func (r *Registry) Resolve(id identity.ID) (Object, bool) {
	r.mu.RLock()
	obj, ok := r.objects[id]
	r.mu.RUnlock()
	return obj, ok
}

// ResolveNode is Resolve narrowed to the canonical node implementation.
// Foreign Object implementations resolve as absent.
func (r *Registry) ResolveNode(id identity.ID) (*Node, bool) {
	obj, ok := r.Resolve(id)
	if !ok {
		return nil, false
	}
	n, ok := obj.(*Node)
	return n, ok
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// ForEach visits every binding. Returning false stops the walk. The iteration
// order is unspecified.
func (r *Registry) ForEach(fn func(id identity.ID, obj Object) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, obj := range r.objects {
		if !fn(id, obj) {
			return
		}
	}
}

// RegisterSubtree registers every node under root, root included. Returns the
// number of nodes newly registered.
func (r *Registry) RegisterSubtree(root *Node) int {
	count := 0
	root.Walk(func(n *Node) bool {
		if r.Register(n) {
			count++
		}
		return true
	})
	return count
}

// UnregisterSubtree removes every node under root, root included. Runs before
// destruction so no resolver can observe a half-dead instance.
func (r *Registry) UnregisterSubtree(root *Node) {
	root.Walk(func(n *Node) bool {
		r.Unregister(n)
		return true
	})
}
