package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMat4IdentityMul(t *testing.T) {
	tr := NewMat4Translation(NewVec3(1, 2, 3))
	assert.Equal(t, tr, tr.Mul(NewMat4Identity()))
	assert.Equal(t, tr, NewMat4Identity().Mul(tr))
}

func TestTranslationThenScale(t *testing.T) {
	mt := NewMat4Translation(NewVec3(1, 0, 0)).Mul(NewMat4Scale(NewVec3(2, 2, 2)))
	got := NewVec3(1, 1, 1).Transform(mt)
	assert.True(t, got.Compare(NewVec3(4, 2, 2), K_FLOAT_EPSILON), "got %v", got)
}

func TestLookAtMovesTargetOntoPositiveZ(t *testing.T) {
	eye := NewVec3(0, 10, -15)
	view := NewMat4LookAtLH(eye, NewVec3(0, 10, 0), NewVec3Up())
	p := NewVec3(0, 10, 0).Transform(view)
	assert.True(t, p.Compare(NewVec3(0, 0, 15), 1e-4), "got %v", p)
}

func TestPerspectiveDepthRange(t *testing.T) {
	proj := NewMat4PerspectiveLH(DegToRad(45), 16.0/9.0, 10, 10000)
	for _, tc := range []struct {
		z, depth float32
	}{
		{10, 0},
		{10000, 1},
	} {
		clipZ := tc.z*proj.Data[10] + proj.Data[14]
		clipW := tc.z * proj.Data[11]
		assert.InDelta(t, tc.depth, clipZ/clipW, 1e-4)
	}
}

func TestDirectionFromYawPitch(t *testing.T) {
	assert.True(t, DirectionFromYawPitch(90, 0).Compare(NewVec3(0, 0, 1), 1e-6))
	assert.True(t, DirectionFromYawPitch(0, 90).Compare(NewVec3(0, 1, 0), 1e-6))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0, 1, 5))
	assert.Equal(t, float32(89), Clamp(float32(120), -89, 89))
	assert.Equal(t, uint32(3), Clamp(uint32(3), 1, 5))
}
