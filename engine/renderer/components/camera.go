package components

import (
	"github.com/spaghettifunk/modelviewer/engine/math"
)

/**
 * @brief A fly camera described by a position and yaw/pitch angles in
 * degrees. The view matrix is left-handed and rebuilt lazily.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	Position math.Vec3
	/** @brief Rotation around the up axis. 90 looks down +Z. */
	Yaw float32
	/** @brief Rotation above the horizon, clamped to (-89, 89). */
	Pitch float32
	/** @brief Internal flag used to determine when the view matrix needs to be rebuilt. */
	IsDirty bool
	/**
	 * @brief The view matrix of this camera.
	 * NOTE: IMPORTANT: Do not get this directly, use GetView() instead.
	 */
	ViewMatrix math.Mat4
}

const maxPitch float32 = 89

func NewCamera(position math.Vec3, yaw, pitch float32) *Camera {
	c := &Camera{}
	c.Reset(position, yaw, pitch)
	return c
}

func (c *Camera) Reset(position math.Vec3, yaw, pitch float32) {
	c.Position = position
	c.Yaw = yaw
	c.Pitch = math.Clamp(pitch, -maxPitch, maxPitch)
	c.IsDirty = true
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) GetView() math.Mat4 {
	if c.IsDirty {
		c.ViewMatrix = math.NewMat4LookAtLH(c.Position, c.Position.Add(c.Forward()), math.NewVec3Up())
		c.IsDirty = false
	}
	return c.ViewMatrix
}

func (c *Camera) Forward() math.Vec3 {
	return math.DirectionFromYawPitch(c.Yaw, c.Pitch)
}

// Right is the strafe direction, perpendicular to forward on the ground plane.
func (c *Camera) Right() math.Vec3 {
	return math.NewVec3Up().Cross(c.Forward()).Normalized()
}

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.Position = c.Position.Add(direction.MulScalar(amount))
	c.IsDirty = true
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.Forward(), amount)
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.Forward(), -amount)
}

func (c *Camera) MoveLeft(amount float32) {
	c.move(c.Right(), -amount)
}

func (c *Camera) MoveRight(amount float32) {
	c.move(c.Right(), amount)
}

func (c *Camera) MoveUp(amount float32) {
	c.move(math.NewVec3Up(), amount)
}

func (c *Camera) MoveDown(amount float32) {
	c.move(math.NewVec3Up(), -amount)
}

// Rotate adds to yaw and pitch, in degrees.
func (c *Camera) Rotate(yaw, pitch float32) {
	c.Yaw += yaw
	c.Pitch = math.Clamp(c.Pitch+pitch, -maxPitch, maxPitch)
	c.IsDirty = true
}
