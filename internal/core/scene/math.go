package scene

import "math"

// Vector3 is a position, scale or direction in scene space.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

var (
	// Zero is the origin / zero offset.
	Zero = Vector3{}
	// One is the unit scale.
	One = Vector3{X: 1, Y: 1, Z: 1}
)

// Vec3 is shorthand for constructing a Vector3.
func Vec3(x, y, z float64) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

func (v Vector3) Add(w Vector3) Vector3 {
	return Vector3{X: v.X + w.X, Y: v.Y + w.Y, Z: v.Z + w.Z}
}

func (v Vector3) Sub(w Vector3) Vector3 {
	return Vector3{X: v.X - w.X, Y: v.Y - w.Y, Z: v.Z - w.Z}
}

// Mul multiplies component-wise. Used for composing scales down a hierarchy.
func (v Vector3) Mul(w Vector3) Vector3 {
	return Vector3{X: v.X * w.X, Y: v.Y * w.Y, Z: v.Z * w.Z}
}

// Div divides component-wise. Zero components divide to zero instead of Inf
// so degenerate parent scales do not poison local coordinates.
func (v Vector3) Div(w Vector3) Vector3 {
	return Vector3{X: safeDiv(v.X, w.X), Y: safeDiv(v.Y, w.Y), Z: safeDiv(v.Z, w.Z)}
}

func (v Vector3) Scaled(f float64) Vector3 {
	return Vector3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

func (v Vector3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// Quaternion is a rotation in scene space. Stored xyzw; Identity is the no-op
// rotation. All operations assume unit quaternions, which every constructor
// here produces.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Identity is the no-op rotation.
var Identity = Quaternion{W: 1}

// AxisAngle builds a rotation of angle radians around the given axis.
func AxisAngle(axis Vector3, angle float64) Quaternion {
	l := axis.Length()
	if l == 0 {
		return Identity
	}
	s := math.Sin(angle/2) / l
	return Quaternion{
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
		W: math.Cos(angle / 2),
	}
}

// Mul composes rotations: (q.Mul(r)).Rotate(v) == q.Rotate(r.Rotate(v)).
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

// Inverse returns the reverse rotation.
func (q Quaternion) Inverse() Quaternion {
	n := q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W
	if n == 0 {
		return Identity
	}
	return Quaternion{X: -q.X / n, Y: -q.Y / n, Z: -q.Z / n, W: q.W / n}
}

// Rotate applies the rotation to a vector.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	// v' = v + 2*cross(q.xyz, cross(q.xyz, v) + q.w*v)
	ux, uy, uz := q.X, q.Y, q.Z
	cx := uy*v.Z - uz*v.Y + q.W*v.X
	cy := uz*v.X - ux*v.Z + q.W*v.Y
	cz := ux*v.Y - uy*v.X + q.W*v.Z
	return Vector3{
		X: v.X + 2*(uy*cz-uz*cy),
		Y: v.Y + 2*(uz*cx-ux*cz),
		Z: v.Z + 2*(ux*cy-uy*cx),
	}
}

// Normalized rescales to unit length, returning Identity for degenerate input.
func (q Quaternion) Normalized() Quaternion {
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		return Identity
	}
	return Quaternion{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
}
