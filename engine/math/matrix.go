package math

import m "math"

/**
 * @brief Creates and returns an identity matrix:
 *
 * {
 *   {1, 0, 0, 0},
 *   {0, 1, 0, 0},
 *   {0, 0, 1, 0},
 *   {0, 0, 0, 1}
 * }
 */
func NewMat4Identity() Mat4 {
	out := Mat4{}
	out.Data[0] = 1.0
	out.Data[5] = 1.0
	out.Data[10] = 1.0
	out.Data[15] = 1.0
	return out
}

/**
 * @brief Returns the result of multiplying mt by other. With row vectors
 * this applies mt first, then other.
 */
func (mt Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			sum := float32(0)
			for i := 0; i < 4; i++ {
				sum += mt.Data[row*4+i] * other.Data[i*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

/**
 * @brief Creates a left-handed perspective projection mapping depth
 * into [0, 1].
 *
 * @param fovRadians The vertical field of view in radians.
 * @param aspectRatio Width divided by height.
 */
func NewMat4PerspectiveLH(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	yScale := float32(1.0 / m.Tan(float64(fovRadians)*0.5))
	xScale := yScale / aspectRatio
	fRange := farClip / (farClip - nearClip)

	out := Mat4{}
	out.Data[0] = xScale
	out.Data[5] = yScale
	out.Data[10] = fRange
	out.Data[11] = 1.0
	out.Data[14] = -fRange * nearClip
	return out
}

/**
 * @brief Creates a left-handed look-at view matrix.
 */
func NewMat4LookAtLH(position, target, up Vec3) Mat4 {
	zAxis := target.Sub(position).Normalized()
	xAxis := up.Cross(zAxis).Normalized()
	yAxis := zAxis.Cross(xAxis)

	out := NewMat4Identity()
	out.Data[0] = xAxis.X
	out.Data[1] = yAxis.X
	out.Data[2] = zAxis.X
	out.Data[4] = xAxis.Y
	out.Data[5] = yAxis.Y
	out.Data[6] = zAxis.Y
	out.Data[8] = xAxis.Z
	out.Data[9] = yAxis.Z
	out.Data[10] = zAxis.Z
	out.Data[12] = -xAxis.Dot(position)
	out.Data[13] = -yAxis.Dot(position)
	out.Data[14] = -zAxis.Dot(position)
	return out
}

func NewMat4Translation(position Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[12] = position.X
	out.Data[13] = position.Y
	out.Data[14] = position.Z
	return out
}

func NewMat4Scale(scale Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[0] = scale.X
	out.Data[5] = scale.Y
	out.Data[10] = scale.Z
	return out
}

// Transposed returns a copy with rows and columns swapped.
func (mt Mat4) Transposed() Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			out.Data[col*4+row] = mt.Data[row*4+col]
		}
	}
	return out
}

func DegToRad(degrees float32) float32 {
	return degrees * K_DEG2RAD_MULTIPLIER
}

func RadToDeg(radians float32) float32 {
	return radians * K_RAD2DEG_MULTIPLIER
}

// DirectionFromYawPitch returns the unit forward vector for the given angles in degrees.
// Yaw 90 with pitch 0 looks down +Z.
func DirectionFromYawPitch(yawDegrees, pitchDegrees float32) Vec3 {
	yaw := float64(DegToRad(yawDegrees))
	pitch := float64(DegToRad(pitchDegrees))
	return Vec3{
		X: float32(m.Cos(yaw) * m.Cos(pitch)),
		Y: float32(m.Sin(pitch)),
		Z: float32(m.Sin(yaw) * m.Cos(pitch)),
	}.Normalized()
}
