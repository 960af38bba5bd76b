package scene

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertVec(t *testing.T, want, got Vector3) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9)
	assert.InDelta(t, want.Y, got.Y, 1e-9)
	assert.InDelta(t, want.Z, got.Z, 1e-9)
}

func TestQuaternionRotate(t *testing.T) {
	quarter := AxisAngle(Vec3(0, 1, 0), math.Pi/2)

	// Rotating +X a quarter turn around Y lands on -Z.
	assertVec(t, Vec3(0, 0, -1), quarter.Rotate(Vec3(1, 0, 0)))

	// Identity leaves vectors alone.
	assertVec(t, Vec3(3, -2, 5), Identity.Rotate(Vec3(3, -2, 5)))
}

func TestQuaternionMulComposes(t *testing.T) {
	a := AxisAngle(Vec3(0, 1, 0), math.Pi/2)
	b := AxisAngle(Vec3(1, 0, 0), math.Pi/2)
	v := Vec3(0, 0, 1)

	assertVec(t, a.Rotate(b.Rotate(v)), a.Mul(b).Rotate(v))
}

func TestQuaternionInverse(t *testing.T) {
	q := AxisAngle(Vec3(1, 2, 3), 0.7)
	v := Vec3(4, 5, 6)

	assertVec(t, v, q.Inverse().Rotate(q.Rotate(v)))
}

func TestAxisAngleDegenerateAxis(t *testing.T) {
	require.Equal(t, Identity, AxisAngle(Zero, 1.5))
}

func TestVectorDivZeroSafe(t *testing.T) {
	got := Vec3(2, 4, 6).Div(Vec3(2, 0, 3))
	assertVec(t, Vec3(1, 0, 2), got)
}

func TestNormalized(t *testing.T) {
	q := Quaternion{X: 0, Y: 2, Z: 0, W: 0}.Normalized()
	assert.InDelta(t, 1, q.Y, 1e-9)

	require.Equal(t, Identity, Quaternion{}.Normalized())
}
