package math

import m "math"

const (
	K_PI                 float32 = 3.14159265358979323846
	K_DEG2RAD_MULTIPLIER float32 = K_PI / 180.0
	K_RAD2DEG_MULTIPLIER float32 = 180.0 / K_PI
	K_FLOAT_EPSILON      float32 = 1.192092896e-07
)

func ksqrt(x float32) float32 {
	return float32(m.Sqrt(float64(x)))
}

func kabs(x float32) float32 {
	return float32(m.Abs(float64(x)))
}

func NewVec2(x, y float32) Vec2 {
	return Vec2{X: x, Y: y}
}

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func NewVec3Up() Vec3 {
	return Vec3{0, 1, 0}
}

func (v Vec3) ToVec4(w float32) Vec4 {
	return Vec4{v.X, v.Y, v.Z, w}
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

func (v Vec3) MulScalar(scalar float32) Vec3 {
	return Vec3{v.X * scalar, v.Y * scalar, v.Z * scalar}
}

func (v Vec3) LengthSquared() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func (v Vec3) Length() float32 {
	return ksqrt(v.LengthSquared())
}

// Normalized returns a unit length copy of v. The zero vector is returned unchanged.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return Vec3{v.X / l, v.Y / l, v.Z / l}
}

func (v Vec3) Dot(other Vec3) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

/**
 * @brief Compares all elements of v and other and ensures the difference
 * is less than tolerance.
 */
func (v Vec3) Compare(other Vec3, tolerance float32) bool {
	return kabs(v.X-other.X) <= tolerance &&
		kabs(v.Y-other.Y) <= tolerance &&
		kabs(v.Z-other.Z) <= tolerance
}

// Transform treats v as a point (w = 1) and multiplies it by mt.
func (v Vec3) Transform(mt Mat4) Vec3 {
	return Vec3{
		X: v.X*mt.Data[0] + v.Y*mt.Data[4] + v.Z*mt.Data[8] + mt.Data[12],
		Y: v.X*mt.Data[1] + v.Y*mt.Data[5] + v.Z*mt.Data[9] + mt.Data[13],
		Z: v.X*mt.Data[2] + v.Y*mt.Data[6] + v.Z*mt.Data[10] + mt.Data[14],
	}
}

// TransformNormal treats v as a direction (w = 0).
func (v Vec3) TransformNormal(mt Mat4) Vec3 {
	return Vec3{
		X: v.X*mt.Data[0] + v.Y*mt.Data[4] + v.Z*mt.Data[8],
		Y: v.X*mt.Data[1] + v.Y*mt.Data[5] + v.Z*mt.Data[9],
		Z: v.X*mt.Data[2] + v.Y*mt.Data[6] + v.Z*mt.Data[10],
	}
}

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

func (v Vec4) ToVec3() Vec3 {
	return Vec3{v.X, v.Y, v.Z}
}

func (v Vec3) Min(other Vec3) Vec3 {
	return Vec3{min(v.X, other.X), min(v.Y, other.Y), min(v.Z, other.Z)}
}

func (v Vec3) Max(other Vec3) Vec3 {
	return Vec3{max(v.X, other.X), max(v.Y, other.Y), max(v.Z, other.Z)}
}
