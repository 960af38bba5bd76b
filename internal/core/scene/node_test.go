package scene

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/identity"
)

func TestWorldPositionComposesParentChain(t *testing.T) {
	root := NewNode("root")
	root.SetLocalPosition(Vec3(10, 0, 0))

	child := root.AddChild(NewNode("child"))
	child.SetLocalPosition(Vec3(0, 5, 0))

	assertVec(t, Vec3(10, 5, 0), child.Position())

	// Rotating the parent carries the child around it.
	root.SetLocalRotation(AxisAngle(Vec3(0, 0, 1), math.Pi/2))
	assertVec(t, Vec3(5, 0, 0), child.Position())
}

func TestWorldPositionHonorsParentScale(t *testing.T) {
	root := NewNode("root")
	root.SetLocalScale(Vec3(2, 2, 2))

	child := root.AddChild(NewNode("child"))
	child.SetLocalPosition(Vec3(1, 0, 0))

	assertVec(t, Vec3(2, 0, 0), child.Position())
	assertVec(t, Vec3(2, 2, 2), child.LossyScale())
}

func TestSetPositionRoundTripsThroughParentFrame(t *testing.T) {
	root := NewNode("root")
	root.SetLocalPosition(Vec3(1, 2, 3))
	root.SetLocalRotation(AxisAngle(Vec3(0, 1, 0), 0.4))
	root.SetLocalScale(Vec3(2, 1, 1))

	child := root.AddChild(NewNode("child"))
	child.SetPosition(Vec3(7, -1, 2))

	assertVec(t, Vec3(7, -1, 2), child.Position())
}

func TestSetRotationRoundTripsThroughParentFrame(t *testing.T) {
	root := NewNode("root")
	root.SetLocalRotation(AxisAngle(Vec3(0, 1, 0), 1.1))

	child := root.AddChild(NewNode("child"))
	want := AxisAngle(Vec3(1, 0, 0), 0.3)
	child.SetRotation(want)

	got := child.Rotation()
	assert.InDelta(t, want.X, got.X, 1e-9)
	assert.InDelta(t, want.Y, got.Y, 1e-9)
	assert.InDelta(t, want.Z, got.Z, 1e-9)
	assert.InDelta(t, want.W, got.W, 1e-9)
}

func TestSetParentKeepsLocalPose(t *testing.T) {
	a := NewNode("a")
	a.SetLocalPosition(Vec3(100, 0, 0))
	b := NewNode("b")

	n := NewNode("n")
	n.SetLocalPosition(Vec3(1, 1, 1))
	n.SetParent(a)
	require.Same(t, a, n.Parent())
	assertVec(t, Vec3(101, 1, 1), n.Position())

	n.SetParent(b)
	require.Same(t, b, n.Parent())
	assert.Empty(t, a.Children())
	assertVec(t, Vec3(1, 1, 1), n.LocalPosition())
	assertVec(t, Vec3(1, 1, 1), n.Position())
}

func TestWalkPreOrder(t *testing.T) {
	root := NewNode("root")
	a := root.AddChild(NewNode("a"))
	a.AddChild(NewNode("a1"))
	root.AddChild(NewNode("b"))

	var order []string
	root.Walk(func(n *Node) bool {
		order = append(order, n.Name())
		return true
	})
	require.Equal(t, []string{"root", "a", "a1", "b"}, order)
}

func TestCloneIsDeepAndUnidentified(t *testing.T) {
	tmpl := NewNode("gun")
	tmpl.SetPrefabID("gun")
	mag := tmpl.AddChild(NewNode("magazine"))
	mag.SetLocalPosition(Vec3(0, -0.1, 0))

	clone := tmpl.Clone()
	require.Len(t, clone.Children(), 1)
	assert.True(t, clone.UniqueID().IsNil())
	assert.True(t, clone.Children()[0].UniqueID().IsNil())
	assert.Equal(t, "gun", clone.PrefabID())

	// Mutating the clone leaves the template alone.
	clone.Children()[0].SetLocalPosition(Vec3(9, 9, 9))
	assertVec(t, Vec3(0, -0.1, 0), mag.LocalPosition())
}

func TestAssignInstanceIDsIsDeterministic(t *testing.T) {
	build := func() *Node {
		root := NewNode("root")
		a := root.AddChild(NewNode("a"))
		a.AddChild(NewNode("a1"))
		root.AddChild(NewNode("b"))
		return root
	}

	rootID := identity.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	one := build().Clone()
	two := build().Clone()
	AssignInstanceIDs(one, rootID)
	AssignInstanceIDs(two, rootID)

	var idsOne, idsTwo []identity.ID
	one.Walk(func(n *Node) bool { idsOne = append(idsOne, n.UniqueID()); return true })
	two.Walk(func(n *Node) bool { idsTwo = append(idsTwo, n.UniqueID()); return true })

	require.Equal(t, idsOne, idsTwo)
	assert.Equal(t, rootID, one.UniqueID())
	for _, id := range idsOne {
		assert.False(t, id.IsNil())
	}
	one.Walk(func(n *Node) bool {
		assert.Equal(t, rootID, n.CombineID())
		return true
	})
}

func TestDestroyMarksSubtree(t *testing.T) {
	parent := NewNode("parent")
	doomed := parent.AddChild(NewNode("doomed"))
	child := doomed.AddChild(NewNode("child"))

	doomed.Destroy()

	assert.Nil(t, doomed.Parent())
	assert.Empty(t, parent.Children())
	assert.True(t, doomed.Destroyed())
	assert.True(t, child.Destroyed())
	assert.False(t, parent.Destroyed())
}

func TestIsDescendantOf(t *testing.T) {
	root := NewNode("root")
	mid := root.AddChild(NewNode("mid"))
	leaf := mid.AddChild(NewNode("leaf"))

	assert.True(t, leaf.IsDescendantOf(root))
	assert.True(t, leaf.IsDescendantOf(leaf))
	assert.False(t, root.IsDescendantOf(leaf))
}
