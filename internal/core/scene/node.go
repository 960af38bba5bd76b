package scene

import (
	"strconv"

	"github.com/scenesync/scenesync/internal/core/identity"
)

// Node is the canonical Object implementation: a scene-graph element with a
// parent-relative transform. Nodes are not safe for concurrent mutation; all
// writes funnel through the single mutation goroutine of the owning session.
type Node struct {
	name      string
	prefabID  string
	id        identity.ID
	combineID identity.ID

	parent   *Node
	children []*Node

	localPos   Vector3
	localRot   Quaternion
	localScale Vector3

	destroyed bool
}

// NewNode builds a detached node with a fresh unique id, identity rotation and
// unit scale. The node is its own combine root until adopted into an instance.
func NewNode(name string) *Node {
	id := identity.New()
	return &Node{
		name:       name,
		id:         id,
		combineID:  id,
		localRot:   Identity,
		localScale: One,
	}
}

func (n *Node) UniqueID() identity.ID  { return n.id }
func (n *Node) CombineID() identity.ID { return n.combineID }
func (n *Node) PrefabID() string       { return n.prefabID }
func (n *Node) Name() string           { return n.name }

func (n *Node) SetUniqueID(id identity.ID)  { n.id = id }
func (n *Node) SetCombineID(id identity.ID) { n.combineID = id }
func (n *Node) SetPrefabID(id string)       { n.prefabID = id }
func (n *Node) SetName(name string)         { n.name = name }

// Destroyed reports whether the node has been torn down. Operations against a
// destroyed node are treated as already satisfied by the instance layer.
func (n *Node) Destroyed() bool { return n.destroyed }

// Parent returns the current parent, nil for scene roots.
func (n *Node) Parent() *Node { return n.parent }

// Children returns a copy of the direct child list in attach order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// SetParent moves the node under a new parent, or detaches it when parent is
// nil. Local position, rotation and scale are preserved, so the world pose
// changes with the parent frame. Cycles are the caller's responsibility; the
// instance layer rejects them before calling down here.
func (n *Node) SetParent(parent *Node) {
	if n.parent == parent {
		return
	}
	if n.parent != nil {
		n.parent.removeChild(n)
	}
	n.parent = parent
	if parent != nil {
		parent.children = append(parent.children, n)
	}
}

func (n *Node) removeChild(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// IsDescendantOf reports whether n sits in ancestor's subtree (self counts).
func (n *Node) IsDescendantOf(ancestor *Node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Walk visits the subtree rooted at n in pre-order, self first. Returning
// false from fn stops the walk.
func (n *Node) Walk(fn func(*Node) bool) {
	n.walk(fn)
}

func (n *Node) walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !c.walk(fn) {
			return false
		}
	}
	return true
}

func (n *Node) LocalPosition() Vector3        { return n.localPos }
func (n *Node) SetLocalPosition(p Vector3)    { n.localPos = p }
func (n *Node) LocalRotation() Quaternion     { return n.localRot }
func (n *Node) SetLocalRotation(r Quaternion) { n.localRot = r }
func (n *Node) LocalScale() Vector3           { return n.localScale }
func (n *Node) SetLocalScale(s Vector3)       { n.localScale = s }

// Position returns the world-space position, composed up the parent chain.
func (n *Node) Position() Vector3 {
	p, _, _ := n.worldTRS()
	return p
}

// SetPosition places the node at a world-space position by converting through
// the parent frame.
func (n *Node) SetPosition(world Vector3) {
	if n.parent == nil {
		n.localPos = world
		return
	}
	pp, pr, ps := n.parent.worldTRS()
	n.localPos = pr.Inverse().Rotate(world.Sub(pp)).Div(ps)
}

// Rotation returns the world-space rotation.
func (n *Node) Rotation() Quaternion {
	_, r, _ := n.worldTRS()
	return r
}

// SetRotation orients the node to a world-space rotation by converting through
// the parent frame.
func (n *Node) SetRotation(world Quaternion) {
	if n.parent == nil {
		n.localRot = world
		return
	}
	_, pr, _ := n.parent.worldTRS()
	n.localRot = pr.Inverse().Mul(world)
}

// LossyScale returns the scale composed down the parent chain.
func (n *Node) LossyScale() Vector3 {
	_, _, s := n.worldTRS()
	return s
}

func (n *Node) worldTRS() (Vector3, Quaternion, Vector3) {
	if n.parent == nil {
		return n.localPos, n.localRot, n.localScale
	}
	pp, pr, ps := n.parent.worldTRS()
	pos := pp.Add(pr.Rotate(ps.Mul(n.localPos)))
	rot := pr.Mul(n.localRot)
	scale := ps.Mul(n.localScale)
	return pos, rot, scale
}

// AddChild attaches a child, preserving the child's local pose. Convenience
// for template authoring and tests.
func (n *Node) AddChild(child *Node) *Node {
	child.SetParent(n)
	return child
}

// Clone deep-copies the subtree rooted at n. Ids on the copy are cleared; the
// caller assigns them with AssignInstanceIDs before the clone enters a
// registry.
func (n *Node) Clone() *Node {
	c := &Node{
		name:       n.name,
		prefabID:   n.prefabID,
		localPos:   n.localPos,
		localRot:   n.localRot,
		localScale: n.localScale,
	}
	for _, child := range n.children {
		cc := child.Clone()
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}

// Destroy detaches the node and marks the whole subtree destroyed. The scene
// graph below it is unlinked so stale references cannot be walked back in.
func (n *Node) Destroy() {
	n.SetParent(nil)
	n.Walk(func(d *Node) bool {
		d.destroyed = true
		return true
	})
}

// AssignInstanceIDs stamps a freshly cloned subtree with its replicated
// identity: the root takes rootID, every descendant derives its id from the
// root id and its structural path, and all nodes share the root as combine id.
// Because the derivation is deterministic, every replica that instantiates the
// same template with the same root id produces identical ids down the tree.
func AssignInstanceIDs(root *Node, rootID identity.ID) {
	root.id = rootID
	root.combineID = rootID
	assignChildIDs(root, rootID, "")
}

func assignChildIDs(n *Node, rootID identity.ID, path string) {
	for i, c := range n.children {
		p := path + "/" + strconv.Itoa(i)
		c.id = identity.Derive(rootID, p)
		c.combineID = rootID
		assignChildIDs(c, rootID, p)
	}
}
