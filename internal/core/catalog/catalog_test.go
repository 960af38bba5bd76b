package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/scene"
)

func gunTemplate() *scene.Node {
	gun := scene.NewNode("gun")
	mag := gun.AddChild(scene.NewNode("magazine"))
	mag.SetLocalPosition(scene.Vec3(0, -0.1, 0))
	return gun
}

func TestRegisterAndGet(t *testing.T) {
	c := New(log.Nop())
	require.True(t, c.Register("gun", gunTemplate()))

	tmpl, ok := c.Get("gun")
	require.True(t, ok)
	assert.Equal(t, "gun", tmpl.PrefabID())
	assert.Equal(t, 1, c.Len())
}

func TestDuplicateKeepsFirst(t *testing.T) {
	c := New(log.Nop())
	first := gunTemplate()
	require.True(t, c.Register("gun", first))
	require.False(t, c.Register("gun", scene.NewNode("other")))

	tmpl, ok := c.Get("gun")
	require.True(t, ok)
	assert.Same(t, first, tmpl)
}

func TestInstantiateStampsDeterministicIDs(t *testing.T) {
	c := New(log.Nop())
	require.True(t, c.Register("gun", gunTemplate()))

	rootID := identity.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	one, ok := c.Instantiate("gun", rootID)
	require.True(t, ok)
	two, ok := c.Instantiate("gun", rootID)
	require.True(t, ok)

	require.NotSame(t, one, two)
	assert.Equal(t, rootID, one.UniqueID())
	assert.Equal(t, "gun", one.PrefabID())

	require.Len(t, one.Children(), 1)
	assert.Equal(t, one.Children()[0].UniqueID(), two.Children()[0].UniqueID())
	assert.Equal(t, rootID, one.Children()[0].CombineID())
}

func TestInstantiateLeavesTemplateUntouched(t *testing.T) {
	c := New(log.Nop())
	require.True(t, c.Register("gun", gunTemplate()))

	inst, ok := c.Instantiate("gun", identity.New())
	require.True(t, ok)
	inst.Children()[0].SetLocalPosition(scene.Vec3(5, 5, 5))

	tmpl, _ := c.Get("gun")
	assert.Equal(t, scene.Vec3(0, -0.1, 0), tmpl.Children()[0].LocalPosition())
	assert.True(t, tmpl.UniqueID() != inst.UniqueID())
}

func TestInstantiateUnknownPrefab(t *testing.T) {
	c := New(log.Nop())
	obj, ok := c.Instantiate("missing", identity.New())
	assert.False(t, ok)
	assert.Nil(t, obj)
}

func TestIDsSorted(t *testing.T) {
	c := New(log.Nop())
	c.Register("zeppelin", scene.NewNode("z"))
	c.Register("anvil", scene.NewNode("a"))
	c.Register("gun", scene.NewNode("g"))

	assert.Equal(t, []string{"anvil", "gun", "zeppelin"}, c.IDs())
}
