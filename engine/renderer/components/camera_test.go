package components

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/modelviewer/engine/math"
)

func TestCameraLooksDownPositiveZ(t *testing.T) {
	c := NewCamera(math.NewVec3(0, 10, -15), 90, 0)
	view := c.GetView()

	// A point straight ahead lands on the view space +Z axis.
	p := math.NewVec3(0, 10, 5).Transform(view)
	assert.InDelta(t, 0, p.X, 1e-4)
	assert.InDelta(t, 0, p.Y, 1e-4)
	assert.InDelta(t, 20, p.Z, 1e-4)
}

func TestCameraMovement(t *testing.T) {
	c := NewCamera(math.NewVec3(0, 0, 0), 90, 0)
	c.MoveForward(2)
	assert.True(t, c.Position.Compare(math.NewVec3(0, 0, 2), 1e-5))
	c.MoveRight(1)
	assert.True(t, c.Position.Compare(math.NewVec3(1, 0, 2), 1e-5))
	c.MoveUp(3)
	assert.InDelta(t, 3, c.Position.Y, 1e-5)

	c.Rotate(0, 200)
	assert.Equal(t, float32(89), c.Pitch)
	assert.True(t, c.IsDirty)
	c.GetView()
	assert.False(t, c.IsDirty)
}
